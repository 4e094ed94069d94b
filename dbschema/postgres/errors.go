package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/stokaro/userschema/migration/migerr"
)

// SQLSTATE codes relevant to schema migrations.
const (
	codeUndefinedTable        = "42P01"
	codeUndefinedColumn       = "42703"
	codeInvalidSchemaName     = "3F000"
	codeInsufficientPrivilege = "42501"
	codeDuplicateColumn       = "42701"
	codeDuplicateTable        = "42P07"
	codeDuplicateObject       = "42710"
	codeLockNotAvailable      = "55P03"
	classIntegrityViolation   = "23"
)

// ClassifyError wraps pgx and lib/pq errors into migerr kinds.
func (d *Dialect) ClassifyError(err error) error {
	code, ok := sqlState(err)
	if !ok {
		return err
	}

	switch {
	case code == codeUndefinedTable, code == codeUndefinedColumn, code == codeInvalidSchemaName:
		return migerr.New(migerr.ErrTargetMissing, "", err)
	case code == codeInsufficientPrivilege:
		return migerr.New(migerr.ErrPermissionDenied, "", err)
	case code == codeDuplicateColumn, code == codeDuplicateTable, code == codeDuplicateObject:
		return migerr.New(migerr.ErrAlreadyExists, "", err)
	case code == codeLockNotAvailable:
		return migerr.New(migerr.ErrLockTimeout, "", err)
	case strings.HasPrefix(code, classIntegrityViolation):
		return migerr.New(migerr.ErrDataViolation, "", err)
	default:
		return err
	}
}

func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}
