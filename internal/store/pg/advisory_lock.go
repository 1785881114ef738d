package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// AdvisoryLock implements scheduler.AdvisoryLock using Postgres session-level
// advisory locks, so only one gateway replica acts on a given duty (scheduled
// sends, handover rescue) at a time even when WEB_CONCURRENCY > 1 runs
// multiple copies of the scheduler loop. hashtext(name) folds the lock name
// into the bigint key pg_try_advisory_lock expects.
//
// Session-level advisory locks are tied to the connection that took them, so
// TryAcquire pins a single *sql.Conn out of the pool and Release must use
// that same connection: a plain db.ExecContext could hand the unlock to a
// different connection and never release anything.
type AdvisoryLock struct {
	db *sql.DB

	mu    sync.Mutex
	conns map[string]*sql.Conn
}

func NewAdvisoryLock(db *sql.DB) *AdvisoryLock {
	return &AdvisoryLock{db: db, conns: map[string]*sql.Conn{}}
}

func (l *AdvisoryLock) TryAcquire(ctx context.Context, name string) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pg: advisory lock conn: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("pg: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.mu.Lock()
	l.conns[name] = conn
	l.mu.Unlock()
	return true, nil
}

func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, ok := l.conns[name]
	delete(l.conns, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
		return fmt.Errorf("pg: release advisory lock: %w", err)
	}
	return nil
}
