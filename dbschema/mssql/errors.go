package mssql

import (
	"errors"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/stokaro/userschema/migration/migerr"
)

// SQL Server error numbers relevant to schema migrations.
const (
	errInvalidColumnName    = 207
	errInvalidObjectName    = 208
	errPermissionDenied     = 229
	errCreatePermission     = 262
	errNotAllowed           = 297
	errDuplicateObject      = 2714
	errDuplicateColumn      = 2705
	errDuplicateIndex       = 1913
	errDefaultAlreadyBound  = 1781
	errCannotFindObject     = 4902
	errCannotInsertNull     = 515
	errConstraintConflict   = 547
	errDuplicateKey         = 2627
	errDuplicateKeyIndex    = 2601
	errLockRequestTimeout   = 1222
	errNoPermissionOrAbsent = 15151
)

// ClassifyError wraps go-mssqldb errors into migerr kinds.
func (d *Dialect) ClassifyError(err error) error {
	var sqlErr mssqldb.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	switch sqlErr.Number {
	case errInvalidObjectName, errInvalidColumnName, errCannotFindObject:
		return migerr.New(migerr.ErrTargetMissing, "", err)
	case errPermissionDenied, errCreatePermission, errNotAllowed, errNoPermissionOrAbsent:
		return migerr.New(migerr.ErrPermissionDenied, "", err)
	case errDuplicateObject, errDuplicateColumn, errDuplicateIndex, errDefaultAlreadyBound:
		return migerr.New(migerr.ErrAlreadyExists, "", err)
	case errCannotInsertNull, errConstraintConflict, errDuplicateKey, errDuplicateKeyIndex:
		return migerr.New(migerr.ErrDataViolation, "", err)
	case errLockRequestTimeout:
		return migerr.New(migerr.ErrLockTimeout, "", err)
	default:
		return err
	}
}
