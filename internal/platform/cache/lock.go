package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy indicates the lock is held elsewhere.
var ErrLockBusy = errors.New("platform/cache: lock busy")

// Locker hands out redis-backed distributed locks.
type Locker struct {
	client *redislock.Client
}

// NewLocker constructs Locker.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: redislock.New(client)}
}

// Obtain acquires the named lock and returns its release function.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockBusy
		}
		return nil, err
	}
	return lock.Release, nil
}
