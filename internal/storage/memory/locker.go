package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/marketplace/internal/domain/order"
)

var _ order.Locker = (*Locker)(nil)

type lease struct {
	token   string
	expires time.Time
}

// Locker is a process-local order.Locker with expiring entries.
type Locker struct {
	mu   sync.Mutex
	held map[string]lease
	now  func() time.Time
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl unless it is held and not yet expired.
func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return "", false, nil
	}
	token := uuid.New().String()
	l.held[key] = lease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

// Release drops key if token still holds it.
func (l *Locker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
	return nil
}
