package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out mutually exclusive leases backed by Redis SET NX PX.
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker constructs a Locker. With a nil client every Acquire succeeds
// locally, which is only safe for single-instance deployments.
func NewLocker(client *redis.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "lock"
	}
	return &Locker{client: client, prefix: prefix}
}

// Lease is a held lock.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the named lock for ttl or returns ErrLockNotAcquired.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return &Lease{key: name}, nil
	}
	key := l.prefix + ":" + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrLockNotAcquired, fmt.Sprintf("%s is already running", name))
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Release frees the lease if it is still held by this holder.
func (s *Lease) Release(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.key}, s.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", s.key, err)
	}
	return nil
}
