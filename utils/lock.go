package utils

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
)

var ErrLockNotObtained = errors.New("another request is working on this resource")

// WithLock runs fn while holding the redis lock key. The lock only narrows
// the window for concurrent requests; the database re-check inside the
// transaction stays authoritative, so a missing redis just runs fn.
func WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	locker := config.GetRedisLock()
	if locker == nil {
		return fn(ctx)
	}
	return withLocker(ctx, locker, key, ttl, fn)
}

func withLocker(ctx context.Context, locker *redislock.Client, key string, ttl time.Duration, fn func(context.Context) error) error {
	logger := config.GetLogger()
	lock, err := locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return NewConflictError(ErrLockNotObtained, "%s is locked, please retry", key)
	} else if err != nil {
		logger.WithFields(logrus.Fields{"lock": key}).Warnf("redis lock unavailable, continuing without it: %v", err)
		return fn(ctx)
	}
	defer func() {
		// release with a fresh context so a cancelled request still frees the key
		_ = lock.Release(context.Background())
	}()
	return fn(ctx)
}
