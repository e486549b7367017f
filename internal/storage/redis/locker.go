// Package redis provides a Redis-backed lock that serializes order
// submissions sharing an idempotency key across API instances.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/internal/domain/order"
)

const keyPrefix = "marketplace:lock:"

// releaseScript deletes the key only while it still carries the caller's
// token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ order.Locker = (*Locker)(nil)

// Locker implements order.Locker with SET NX and an expiry, so a crashed
// holder releases the key after its TTL.
type Locker struct {
	client redis.UniversalClient
}

// NewLocker returns a Locker using client.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Acquire takes key for ttl. It reports false when another holder has it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquiring lock %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops key if token still holds it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("releasing lock %q: %w", key, err)
	}
	return nil
}
