// Package migerr classifies migration failures.
//
// Failures fall into four kinds:
//   - environment: the target or its permissions are not what the migration
//     expects (missing table, denied privilege, lock not obtained). Fatal and
//     not retryable without operator intervention.
//   - collision: the object being created already exists. Idempotent guards
//     treat this as success.
//   - data: existing rows violate a constraint the migration introduces.
//     Fatal, needs manual remediation.
//   - ledger: the migration history is inconsistent with the registered
//     migrations (checksum drift, out-of-order, irreversible step).
package migerr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of a migration error.
type Kind int

const (
	KindUnknown Kind = iota
	KindEnvironment
	KindCollision
	KindData
	KindLedger
)

func (k Kind) String() string {
	switch k {
	case KindEnvironment:
		return "environment"
	case KindCollision:
		return "collision"
	case KindData:
		return "data"
	case KindLedger:
		return "ledger"
	default:
		return "unknown"
	}
}

// Retryable reports whether an operation failing with this kind may succeed
// when repeated without operator action.
func (k Kind) Retryable() bool {
	return k == KindCollision
}

var (
	ErrTargetMissing    = errors.New("target missing")
	ErrPermissionDenied = errors.New("permission denied")
	ErrLockTimeout      = errors.New("migration lock not acquired")
	ErrAlreadyExists    = errors.New("already exists")
	ErrDataViolation    = errors.New("data violation")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrOutOfOrder       = errors.New("out-of-order migration")
	ErrIrreversible     = errors.New("migration is irreversible")
	ErrUnsupported      = errors.New("unsupported by dialect")
)

var reasonKinds = map[error]Kind{
	ErrTargetMissing:    KindEnvironment,
	ErrPermissionDenied: KindEnvironment,
	ErrLockTimeout:      KindEnvironment,
	ErrUnsupported:      KindEnvironment,
	ErrAlreadyExists:    KindCollision,
	ErrDataViolation:    KindData,
	ErrChecksumMismatch: KindLedger,
	ErrOutOfOrder:       KindLedger,
	ErrIrreversible:     KindLedger,
}

// Error is a classified migration failure.
type Error struct {
	Kind   Kind
	Reason error  // one of the Err* sentinels
	Op     string // operation or object the failure relates to
	Err    error  // underlying cause, may be nil
}

// New creates a classified error for the given sentinel reason.
func New(reason error, op string, cause error) *Error {
	return &Error{
		Kind:   reasonKinds[reason],
		Reason: reason,
		Op:     op,
		Err:    cause,
	}
}

// Newf creates a classified error with a formatted operation description.
func Newf(reason error, cause error, format string, args ...any) *Error {
	return New(reason, fmt.Sprintf(format, args...), cause)
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Reason != nil {
		msg = e.Reason.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error against its sentinel reason.
func (e *Error) Is(target error) bool {
	return e.Reason != nil && target == e.Reason
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCollision reports whether err means the object already exists.
func IsCollision(err error) bool {
	return KindOf(err) == KindCollision
}
