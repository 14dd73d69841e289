// Package distlock keeps a periodic job from running twice at the same time.
// Redis is used when configured, then PostgreSQL advisory locks, then an
// in-process table for single-instance deployments.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the caller does not own the lock.
var ErrNotHeld = errors.New("lock not held")

// Lock is a non-blocking mutual exclusion primitive.
type Lock interface {
	// TryLock returns false without error when another holder owns the lock.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Factory returns the lock guarding name. ttl bounds how long a crashed
// holder can keep the lock, where the backend supports expiry.
type Factory func(name string, ttl time.Duration) Lock

// NewFactory picks the strongest backend available.
func NewFactory(client *redis.Client, db *sql.DB) Factory {
	switch {
	case client != nil:
		return func(name string, ttl time.Duration) Lock { return NewRedisLock(client, name, ttl) }
	case db != nil:
		return func(name string, _ time.Duration) Lock { return NewPGAdvisoryLock(db, name) }
	}
	table := NewLocalTable()
	return func(name string, _ time.Duration) Lock { return table.Lock(name) }
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// session, so the connection is pinned between TryLock and Unlock.
type PGAdvisoryLock struct {
	db   *sql.DB
	name string
	id   int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives the advisory key from an FNV-64a hash of name.
func NewPGAdvisoryLock(db *sql.DB, name string) *PGAdvisoryLock {
	return &PGAdvisoryLock{db: db, name: name, id: AdvisoryKey(name)}
}

// AdvisoryKey maps a lock name to the bigint key PostgreSQL expects.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("engine:job:" + name))
	return int64(h.Sum64())
}

func (l *PGAdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, nil
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.name, err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok); err != nil {
		conn.Close()
		return false, fmt.Errorf("lock %s: %w", l.name, err)
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		return fmt.Errorf("unlock %s: %w", l.name, err)
	}
	return nil
}

// LocalTable is a set of named in-process locks.
type LocalTable struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalTable() *LocalTable {
	return &LocalTable{held: map[string]bool{}}
}

// Lock returns a handle for name. Handles for the same name exclude each other.
func (t *LocalTable) Lock(name string) Lock {
	return &localLock{table: t, name: name}
}

type localLock struct {
	table *LocalTable
	name  string
	owned bool
}

func (l *localLock) TryLock(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.held[l.name] {
		return false, nil
	}
	l.table.held[l.name] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Unlock(context.Context) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if !l.owned {
		return ErrNotHeld
	}
	delete(l.table.held, l.name)
	l.owned = false
	return nil
}
