package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCount fails when more than limit goroutines are running, which
// usually means a leak.
func GoroutineCount(limit int) Func {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines exceed limit %d", n, limit)
		}
		return nil
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a dependency by pinging it.
func Ping(p Pinger) Func {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}
