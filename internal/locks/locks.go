package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBusy is returned when the named lock could not be acquired within the
// bounded wait. Callers treat it as retryable.
var ErrBusy = errors.New("lock busy")

// Manager hands out named, time-boxed locks backed by the locks table.
// Every multi-step read-modify-write sequence against the workbook runs
// under one of these; acquisition waits up to a bound and then fails
// instead of hanging.
type Manager struct {
	DB   *sql.DB
	Now  func() time.Time
	Wait time.Duration
	TTL  time.Duration
	// Poll is the retry interval while waiting; tests shorten it.
	Poll time.Duration
}

type Lock struct {
	Name  string
	Owner string
	mgr   *Manager
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) poll() time.Duration {
	if m.Poll > 0 {
		return m.Poll
	}
	return 250 * time.Millisecond
}

// Acquire takes the named lock for owner, waiting up to the configured
// bound. A lock whose TTL has lapsed is treated as abandoned and stolen.
func (m *Manager) Acquire(ctx context.Context, name, owner string) (*Lock, error) {
	deadline := m.now().Add(m.Wait)
	for {
		ok, err := m.tryAcquire(ctx, name, owner)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{Name: name, Owner: owner, mgr: m}, nil
		}
		if !m.now().Before(deadline) {
			return nil, fmt.Errorf("lock %s: %w", name, ErrBusy)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.poll()):
		}
	}
}

func (m *Manager) tryAcquire(ctx context.Context, name, owner string) (bool, error) {
	now := m.now().UTC()
	nowStr := now.Format(time.RFC3339)
	expires := now.Add(m.TTL).Format(time.RFC3339)

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var curOwner, curExpires string
	err = tx.QueryRowContext(ctx, `SELECT owner, expires_at FROM locks WHERE name=?`, name).Scan(&curOwner, &curExpires)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO locks(name,owner,acquired_at,expires_at) VALUES (?,?,?,?)`,
			name, owner, nowStr, expires); err != nil {
			return false, err
		}
		return true, tx.Commit()
	case err != nil:
		return false, err
	}

	// Held by us (re-entrant refresh) or expired: take it over.
	if curOwner != owner && curExpires > nowStr {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE locks SET owner=?, acquired_at=?, expires_at=? WHERE name=?`,
		owner, nowStr, expires, name); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Release frees the lock if still held by its owner.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.mgr.DB.ExecContext(ctx, `DELETE FROM locks WHERE name=? AND owner=?`, l.Name, l.Owner)
	return err
}
