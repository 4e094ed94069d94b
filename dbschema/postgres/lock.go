package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stokaro/userschema/migration/migerr"
)

const lockPollInterval = 250 * time.Millisecond

// AcquireLock polls pg_try_advisory_lock until it is granted or the timeout
// elapses. The lock is session scoped and bound to conn.
func (d *Dialect) AcquireLock(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var granted bool
		err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", name).Scan(&granted)
		if err != nil {
			return fmt.Errorf("failed to request advisory lock %q: %w", name, d.ClassifyError(err))
		}
		if granted {
			return nil
		}
		if !time.Now().Before(deadline) {
			return migerr.Newf(migerr.ErrLockTimeout, nil, "advisory lock %q held by another session", name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (d *Dialect) ReleaseLock(ctx context.Context, conn *sql.Conn, name string) error {
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", name); err != nil {
		return fmt.Errorf("failed to release advisory lock %q: %w", name, err)
	}
	return nil
}
