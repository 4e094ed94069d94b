package mysql

import (
	"errors"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/stokaro/userschema/migration/migerr"
)

// MySQL server error numbers relevant to schema migrations.
const (
	errBadDB             = 1049
	errNoSuchTable       = 1146
	errBadField          = 1054
	errDBAccessDenied    = 1044
	errAccessDenied      = 1045
	errTableAccessDenied = 1142
	errColAccessDenied   = 1143
	errSpecificAccess    = 1227
	errDupFieldName      = 1060
	errDupKeyName        = 1061
	errTableExists       = 1050
	errBadNull           = 1048
	errInvalidUseOfNull  = 1138
	errDupEntry          = 1062
	errNoReferencedRow   = 1452
	errDataTruncated     = 1265
	errLockWaitTimeout   = 1205
)

// ClassifyError wraps go-sql-driver errors into migerr kinds.
func (d *Dialect) ClassifyError(err error) error {
	var myErr *gomysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}

	switch myErr.Number {
	case errBadDB, errNoSuchTable, errBadField:
		return migerr.New(migerr.ErrTargetMissing, "", err)
	case errDBAccessDenied, errAccessDenied, errTableAccessDenied, errColAccessDenied, errSpecificAccess:
		return migerr.New(migerr.ErrPermissionDenied, "", err)
	case errDupFieldName, errDupKeyName, errTableExists:
		return migerr.New(migerr.ErrAlreadyExists, "", err)
	case errBadNull, errInvalidUseOfNull, errDupEntry, errNoReferencedRow, errDataTruncated:
		return migerr.New(migerr.ErrDataViolation, "", err)
	case errLockWaitTimeout:
		return migerr.New(migerr.ErrLockTimeout, "", err)
	default:
		return err
	}
}
