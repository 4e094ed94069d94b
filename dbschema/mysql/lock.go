package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/stokaro/userschema/migration/migerr"
)

// AcquireLock takes a named lock with GET_LOCK, which waits server side for
// up to the timeout (whole seconds, rounded up).
func (d *Dialect) AcquireLock(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) error {
	seconds := int(math.Ceil(timeout.Seconds()))

	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, seconds).Scan(&result); err != nil {
		return fmt.Errorf("failed to request named lock %q: %w", name, d.ClassifyError(err))
	}
	if !result.Valid || result.Int64 != 1 {
		return migerr.Newf(migerr.ErrLockTimeout, nil, "GET_LOCK(%q) not granted within %s", name, timeout)
	}
	return nil
}

func (d *Dialect) ReleaseLock(ctx context.Context, conn *sql.Conn, name string) error {
	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&result); err != nil {
		return fmt.Errorf("failed to release named lock %q: %w", name, err)
	}
	return nil
}
