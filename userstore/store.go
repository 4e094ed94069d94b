package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stokaro/userschema/dbschema"
	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/usertable"
)

var ErrNotFound = errors.New("user not found")

const idColumn = "userId"

var baseColumns = []string{
	idColumn, "email", "phoneNumber", "role", "isAnonymous",
	usertable.IsActive.Name, "createdAt", usertable.UpdatedAt.Name, usertable.LastLoginAt.Name,
}

// Store accesses the User table through a migrated connection. Calls join
// the transaction carried by ctx, if any.
type Store struct {
	conn    *dbschema.DatabaseConnection
	table   types.TableRef
	tenancy bool

	selectSQL    string
	existsSQL    string
	loginSQL     string
	touchSQL     string
	setActiveSQL string
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides usertable.DefaultTable.
func WithTable(ref types.TableRef) Option {
	return func(s *Store) {
		s.table = ref
	}
}

// WithTenancy reads tenant_id and client_id. Use it only once the tenancy
// unit has been applied.
func WithTenancy() Option {
	return func(s *Store) {
		s.tenancy = true
	}
}

// New creates a store and prepares its statements for the connection dialect.
func New(conn *dbschema.DatabaseConnection, opts ...Option) *Store {
	s := &Store{conn: conn, table: usertable.DefaultTable}
	for _, opt := range opts {
		opt(s)
	}

	d := conn.Dialect()
	q := d.QuoteIdent
	table := d.QualifiedName(s.table)
	columns := baseColumns
	if s.tenancy {
		columns = append(columns[:len(columns):len(columns)], usertable.TenantID.Name, usertable.ClientID.Name)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = q(c)
	}

	id := q(idColumn)
	updatedAt := q(usertable.UpdatedAt.Name)
	lastLoginAt := q(usertable.LastLoginAt.Name)

	s.selectSQL = fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), table)
	s.existsSQL = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, id)
	s.loginSQL = fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s WHERE %s = ?",
		table, lastLoginAt, latest(lastLoginAt), updatedAt, latest(updatedAt), id)
	s.touchSQL = fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = ?",
		table, updatedAt, latest(updatedAt), id)
	s.setActiveSQL = fmt.Sprintf("UPDATE %s SET %s = ?, %s = %s WHERE %s = ?",
		table, q(usertable.IsActive.Name), updatedAt, latest(updatedAt), id)
	return s
}

// latest keeps the later of the stored and the bound timestamp.
func latest(column string) string {
	return fmt.Sprintf("CASE WHEN %s IS NULL OR %s < ? THEN ? ELSE %s END", column, column, column)
}

// GetByEmail returns the user with the given email or ErrNotFound.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	query := s.selectSQL + fmt.Sprintf(" WHERE %s = ?", s.conn.Dialect().QuoteIdent("email"))
	if err := s.conn.Get(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	user.TenancyLoaded = s.tenancy
	return &user, nil
}

// ListByRole returns the users holding the role, ordered by id. With
// activeOnly set, deactivated users are left out.
func (s *Store) ListByRole(ctx context.Context, role Role, activeOnly bool) ([]User, error) {
	q := s.conn.Dialect().QuoteIdent
	query := s.selectSQL + fmt.Sprintf(" WHERE %s = ?", q("role"))
	args := []any{string(role.Normalize())}
	if activeOnly {
		query += fmt.Sprintf(" AND %s = ?", q(usertable.IsActive.Name))
		args = append(args, true)
	}
	query += fmt.Sprintf(" ORDER BY %s", q(idColumn))

	users := []User{}
	if err := s.conn.Select(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users with role %s: %w", role, err)
	}
	for i := range users {
		users[i].TenancyLoaded = s.tenancy
	}
	return users, nil
}

// RecordLogin sets lastLoginAt and updatedAt to at unless they already hold a
// later time.
func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	at = at.UTC()
	return s.update(ctx, "record login", userID, s.loginSQL, at, at, at, at, userID)
}

// Touch advances updatedAt to at.
func (s *Store) Touch(ctx context.Context, userID string, at time.Time) error {
	at = at.UTC()
	return s.update(ctx, "touch", userID, s.touchSQL, at, at, userID)
}

// SetActive activates or deactivates the user and advances updatedAt to at.
func (s *Store) SetActive(ctx context.Context, userID string, active bool, at time.Time) error {
	at = at.UTC()
	return s.update(ctx, "set active", userID, s.setActiveSQL, active, at, at, userID)
}

func (s *Store) update(ctx context.Context, op, userID, query string, args ...any) error {
	res, err := s.conn.ExecuteSQL(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s for user %s: %w", op, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s for user %s: %w", op, userID, err)
	}
	if n > 0 {
		return nil
	}

	// Some drivers count only changed rows; a stale timestamp is not an error.
	var count int
	if err := s.conn.Get(ctx, &count, s.existsSQL, userID); err != nil {
		return fmt.Errorf("failed to %s for user %s: %w", op, userID, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
