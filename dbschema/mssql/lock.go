package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stokaro/userschema/migration/migerr"
)

const acquireLockSQL = `DECLARE @result INT;
EXEC @result = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = @p2;
SELECT @result;`

const releaseLockSQL = `EXEC sp_releaseapplock @Resource = @p1, @LockOwner = 'Session';`

// AcquireLock takes an exclusive session-owned application lock. The lock
// lives as long as the session, so conn must stay open until ReleaseLock.
func (d *Dialect) AcquireLock(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) error {
	var result int
	err := conn.QueryRowContext(ctx, acquireLockSQL, name, int(timeout.Milliseconds())).Scan(&result)
	if err != nil {
		return fmt.Errorf("failed to request application lock %q: %w", name, d.ClassifyError(err))
	}

	// 0 = granted, 1 = granted after waiting; negative values are failures
	if result < 0 {
		return migerr.Newf(migerr.ErrLockTimeout, nil, "sp_getapplock %q returned %d", name, result)
	}
	return nil
}

func (d *Dialect) ReleaseLock(ctx context.Context, conn *sql.Conn, name string) error {
	if _, err := conn.ExecContext(ctx, releaseLockSQL, name); err != nil {
		return fmt.Errorf("failed to release application lock %q: %w", name, err)
	}
	return nil
}
