package cron

import (
	"context"
	"time"

	"github.com/angelmondragon/intake-backend/pkg/redis"
)

const (
	lockScope      = "cron"
	lockName       = "intake-maintenance"
	defaultLockTTL = 30 * time.Minute
)

// Lock coordinates exclusive cron runs across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockClient interface {
	redis.LockStore
	LockKey(scope, id string) string
}

// NewRedisLock returns the worker-wide maintenance lock.
func NewRedisLock(client lockClient, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	var key string
	if client != nil {
		key = client.LockKey(lockScope, lockName)
	}
	lock, err := redis.NewLock(client, key, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}
