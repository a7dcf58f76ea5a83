package database

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"

	"github.com/Gobusters/ectologger"
)

// ErrAdvisoryLockNotAcquired is returned when another session holds the lock
var ErrAdvisoryLockNotAcquired = errors.New("advisory lock not acquired")

// AdvisoryLocker takes session-level Postgres advisory locks
type AdvisoryLocker struct {
	db     DB
	logger ectologger.Logger
}

func NewAdvisoryLocker(db DB, logger ectologger.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, logger: logger}
}

// AdvisoryLock is a held advisory lock pinned to one connection
type AdvisoryLock struct {
	conn   *sql.Conn
	key    int64
	name   string
	logger ectologger.Logger
}

// AdvisoryKey hashes a lock name into the int64 key space
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAcquire takes the lock without waiting
func (l *AdvisoryLocker) TryAcquire(ctx context.Context, name string) (*AdvisoryLock, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	key := AdvisoryKey(name)
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !ok {
		_ = conn.Close()
		return nil, ErrAdvisoryLockNotAcquired
	}

	l.logger.WithContext(ctx).Debugf("Acquired advisory lock: %s", name)
	return &AdvisoryLock{conn: conn, key: key, name: name, logger: l.logger}, nil
}

// Release unlocks and returns the pinned connection to the pool
func (lock *AdvisoryLock) Release(ctx context.Context) error {
	defer lock.conn.Close()

	var released bool
	if err := lock.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", lock.key).Scan(&released); err != nil {
		return err
	}
	if !released {
		lock.logger.WithContext(ctx).Warnf("Advisory lock %s was not held at release", lock.name)
	}
	return nil
}
