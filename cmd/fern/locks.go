package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
)

// redisRunLocker adapts the Redis lock to the pipeline's Locker. The lock is
// kept alive for as long as the run holds it.
type redisRunLocker struct {
	locker *redis.Locker
	logger ectologger.Logger
}

func newRedisRunLocker(locker *redis.Locker, logger ectologger.Logger) *redisRunLocker {
	return &redisRunLocker{locker: locker, logger: logger}
}

type redisRunLock struct {
	lock *redis.Lock
	stop context.CancelFunc
}

func (l *redisRunLocker) Acquire(ctx context.Context, name string) (pipeline.Lock, error) {
	lock, err := l.locker.Acquire(ctx, name)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRunInProgress, name)
	}
	if err != nil {
		return nil, err
	}

	keepAlive, stop := context.WithCancel(context.WithoutCancel(ctx))
	go lock.KeepAlive(keepAlive)
	return &redisRunLock{lock: lock, stop: stop}, nil
}

func (l *redisRunLock) Release(ctx context.Context) error {
	l.stop()
	return l.lock.Release(ctx)
}

type advisoryRunLocker struct {
	locker *database.AdvisoryLocker
}

func newAdvisoryRunLocker(locker *database.AdvisoryLocker) *advisoryRunLocker {
	return &advisoryRunLocker{locker: locker}
}

func (l *advisoryRunLocker) Acquire(ctx context.Context, name string) (pipeline.Lock, error) {
	lock, err := l.locker.TryAcquire(ctx, name)
	if errors.Is(err, database.ErrAdvisoryLockNotAcquired) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRunInProgress, name)
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}
