// Package health serves the liveness and readiness probes of the API server.
//
// Checks run in the background and are debounced: a check turns unhealthy
// after Failures consecutive errors and healthy again after Successes
// consecutive passes, so a single slow ping does not flap the probe.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// Kind selects the probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Func reports nil when the checked dependency is usable.
type Func func(ctx context.Context) error

// Check describes one registered check.
type Check struct {
	Name string
	Kind Kind
	Func Func
	// Timeout bounds a single run. Defaults to 2s.
	Timeout time.Duration
	// Failures and Successes are the consecutive run thresholds for flipping
	// state. Default to 3 and 1.
	Failures  int
	Successes int
}

type probe struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Owned by the goroutine running the probe.
	fails, passes int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	if err := p.Func(ctx); err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.passes = 0
		p.fails++
		if p.fails >= p.Failures {
			p.healthy.Store(false)
		}
		return
	}
	p.lastErr.Store(nil)
	p.fails = 0
	p.passes++
	if p.passes >= p.Successes {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if msg := p.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is unhealthy", true
}

// Registry holds the checks and the manual readiness gate.
type Registry struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
}

// New creates a Registry that reports not ready until SetReady(true).
func New() *Registry {
	return &Registry{}
}

// Register adds a check. Checks start healthy.
func (r *Registry) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Failures <= 0 {
		c.Failures = 3
	}
	if c.Successes <= 0 {
		c.Successes = 1
	}
	p := &probe{Check: c}
	p.healthy.Store(true)

	r.mu.Lock()
	r.probes = append(r.probes, p)
	r.mu.Unlock()
}

// Run executes every check immediately and then once per interval until ctx
// is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	r.mu.RLock()
	probes := append([]*probe(nil), r.probes...)
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range probes {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.run(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// SetReady flips the manual readiness gate, e.g. off at shutdown.
func (r *Registry) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Ready reports whether the gate is open and all readiness checks pass.
func (r *Registry) Ready() bool {
	return r.ready.Load() && len(r.failures(Readiness)) == 0
}

func (r *Registry) failures(kind Kind) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range r.probes {
		if p.Kind != kind {
			continue
		}
		if msg, failed := p.failure(); failed {
			out[p.Name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (r *Registry) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, r.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (r *Registry) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := r.failures(Readiness)
	if !r.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// writeStatus writes {"status":"ok"} or 503 with the failing checks sorted
// by name.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status := http.StatusOK
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })

		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
