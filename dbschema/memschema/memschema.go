// Package memschema is an in-memory table store implementing the schema
// operations used by migration steps. It follows SQL Server semantics by
// default and supports failure injection, which makes it suitable for
// exercising migrations end to end in tests.
package memschema

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
)

// Op names a schema operation for failure injection and call counting.
type Op string

const (
	OpTableExists   Op = "TableExists"
	OpReadTable     Op = "ReadTable"
	OpAddColumn     Op = "AddColumn"
	OpDropColumn    Op = "DropColumn"
	OpCreateIndex   Op = "CreateIndex"
	OpDropIndex     Op = "DropIndex"
	OpBackfillBatch Op = "BackfillBatch"
	OpCountNulls    Op = "CountNulls"
	OpSetNotNull    Op = "SetNotNull"
)

// Row is a table row keyed by column name.
type Row map[string]any

type column struct {
	spec     types.ColumnSpec
	position int
}

type table struct {
	ref     types.TableRef
	columns []*column
	indexes []types.DBIndex
	rows    []Row
}

func (t *table) column(name string) *column {
	for _, c := range t.columns {
		if strings.EqualFold(c.spec.Name, name) {
			return c
		}
	}
	return nil
}

func (t *table) indexPos(name string) int {
	return slices.IndexFunc(t.indexes, func(idx types.DBIndex) bool {
		return strings.EqualFold(idx.Name, name)
	})
}

func (t *table) clone() *table {
	cp := &table{ref: t.ref}
	for _, c := range t.columns {
		cc := *c
		cp.columns = append(cp.columns, &cc)
	}
	for _, idx := range t.indexes {
		idx.Columns = slices.Clone(idx.Columns)
		cp.indexes = append(cp.indexes, idx)
	}
	for _, row := range t.rows {
		cp.rows = append(cp.rows, maps.Clone(row))
	}
	return cp
}

type failure struct {
	after int // successful calls allowed before failing
	err   error
}

// Option configures a Schema.
type Option func(*Schema)

// WithDefaultsOnAdd makes adding a column with a default fill existing rows
// with it, as PostgreSQL and MySQL do. SQL Server only does so for NOT NULL
// columns.
func WithDefaultsOnAdd() Option {
	return func(s *Schema) {
		s.defaultsOnAdd = true
	}
}

// WithDefaultSchema sets the schema assumed for refs without one (dbo by default).
func WithDefaultSchema(name string) Option {
	return func(s *Schema) {
		s.defaultSchema = name
	}
}

// Schema is an in-memory database.
type Schema struct {
	mu            sync.Mutex
	tables        map[string]*table
	defaultSchema string
	defaultsOnAdd bool
	failures      map[Op]*failure
	calls         map[Op]int
}

// New creates an empty in-memory database.
func New(opts ...Option) *Schema {
	s := &Schema{
		tables:        map[string]*table{},
		defaultSchema: "dbo",
		failures:      map[Op]*failure{},
		calls:         map[Op]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Schema) key(ref types.TableRef) string {
	schema := ref.Schema
	if schema == "" {
		schema = s.defaultSchema
	}
	return strings.ToLower(schema + "." + ref.Name)
}

// CreateTable adds a table with the given columns and an optional primary key index.
func (s *Schema) CreateTable(ref types.TableRef, cols ...types.ColumnSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &table{ref: ref}
	for i, col := range cols {
		t.columns = append(t.columns, &column{spec: col, position: i + 1})
	}
	s.tables[s.key(ref)] = t
}

// AddIndex adds an index directly, bypassing failure injection.
func (s *Schema) AddIndex(ref types.TableRef, idx types.IndexSpec, primary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tables[s.key(ref)]
	t.indexes = append(t.indexes, types.DBIndex{
		Name:      idx.Name,
		TableName: ref.Name,
		Columns:   slices.Clone(idx.Columns),
		IsUnique:  idx.Unique || primary,
		IsPrimary: primary,
	})
}

// Insert appends rows. Columns missing from a row take the column default,
// or NULL.
func (s *Schema) Insert(ref types.TableRef, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tables[s.key(ref)]
	for _, row := range rows {
		r := Row{}
		for _, c := range t.columns {
			v, ok := row[c.spec.Name]
			if !ok {
				v = c.spec.Default
			}
			r[c.spec.Name] = v
		}
		t.rows = append(t.rows, r)
	}
}

// Rows returns a copy of the table's rows.
func (s *Schema) Rows(ref types.TableRef) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[s.key(ref)]
	if !ok {
		return nil
	}
	rows := make([]Row, len(t.rows))
	for i, row := range t.rows {
		rows[i] = maps.Clone(row)
	}
	return rows
}

// Snapshot returns the introspected shape of a table, or nil.
func (s *Schema) Snapshot(ref types.TableRef) *types.DBTable {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[s.key(ref)]
	if !ok {
		return nil
	}
	return describe(t)
}

// FailOn makes op fail with err after it has succeeded `after` more times.
func (s *Schema) FailOn(op Op, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{after: after, err: err}
}

// ClearFailures removes all injected failures.
func (s *Schema) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[Op]*failure{}
}

// Calls returns how many times op was invoked.
func (s *Schema) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter counts the call and returns the injected failure, if due. Callers hold mu.
func (s *Schema) enter(ctx context.Context, op Op) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	f, ok := s.failures[op]
	if !ok {
		return nil
	}
	if f.after > 0 {
		f.after--
		return nil
	}
	return f.err
}

func (s *Schema) lookup(ref types.TableRef) (*table, error) {
	t, ok := s.tables[s.key(ref)]
	if !ok {
		return nil, migerr.New(migerr.ErrTargetMissing, "table "+ref.String(), nil)
	}
	return t, nil
}

func describe(t *table) *types.DBTable {
	out := &types.DBTable{Schema: t.ref.Schema, Name: t.ref.Name}
	for _, c := range t.columns {
		nullable := "NO"
		if c.spec.Nullable {
			nullable = "YES"
		}
		col := types.DBColumn{
			Name:            c.spec.Name,
			DataType:        dataType(c.spec.Type),
			IsNullable:      nullable,
			OrdinalPosition: c.position,
		}
		if c.spec.Default != nil {
			def := fmt.Sprint(c.spec.Default)
			col.ColumnDefault = &def
		}
		if c.spec.Length > 0 {
			length := c.spec.Length
			col.CharacterMaxLength = &length
		}
		out.Columns = append(out.Columns, col)
	}
	for _, idx := range t.indexes {
		idx.Columns = slices.Clone(idx.Columns)
		out.Indexes = append(out.Indexes, idx)
	}
	return out
}

func dataType(t types.LogicalType) string {
	switch t {
	case types.Bool:
		return "bit"
	case types.Timestamp:
		return "datetime2"
	case types.String:
		return "nvarchar"
	default:
		return "int"
	}
}

func (s *Schema) TableExists(ctx context.Context, ref types.TableRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpTableExists); err != nil {
		return false, err
	}
	_, ok := s.tables[s.key(ref)]
	return ok, nil
}

func (s *Schema) ReadTable(ctx context.Context, ref types.TableRef) (*types.DBTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpReadTable); err != nil {
		return nil, err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return nil, err
	}
	return describe(t), nil
}

func (s *Schema) AddColumn(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpAddColumn); err != nil {
		return err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return err
	}
	if t.column(col.Name) != nil {
		return migerr.Newf(migerr.ErrAlreadyExists, nil, "column %s", col.Name)
	}
	if !col.Nullable && col.Default == nil && len(t.rows) > 0 {
		return migerr.Newf(migerr.ErrDataViolation, nil, "column %s is NOT NULL without a default", col.Name)
	}

	t.columns = append(t.columns, &column{spec: col, position: len(t.columns) + 1})
	fill := !col.Nullable || s.defaultsOnAdd
	for _, row := range t.rows {
		row[col.Name] = nil
		if fill {
			row[col.Name] = col.Default
		}
	}
	return nil
}

func (s *Schema) DropColumn(ctx context.Context, ref types.TableRef, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDropColumn); err != nil {
		return err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return err
	}
	c := t.column(name)
	if c == nil {
		return migerr.Newf(migerr.ErrTargetMissing, nil, "column %s", name)
	}
	for _, idx := range t.indexes {
		if slices.ContainsFunc(idx.Columns, func(col string) bool { return strings.EqualFold(col, name) }) {
			return fmt.Errorf("index %s is dependent on column %s", idx.Name, name)
		}
	}

	t.columns = slices.DeleteFunc(t.columns, func(other *column) bool { return other == c })
	for i, other := range t.columns {
		other.position = i + 1
	}
	for _, row := range t.rows {
		delete(row, c.spec.Name)
	}
	return nil
}

func (s *Schema) CreateIndex(ctx context.Context, ref types.TableRef, idx types.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCreateIndex); err != nil {
		return err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return err
	}
	if t.indexPos(idx.Name) >= 0 {
		return migerr.Newf(migerr.ErrAlreadyExists, nil, "index %s", idx.Name)
	}
	for _, col := range idx.Columns {
		if t.column(col) == nil {
			return migerr.Newf(migerr.ErrTargetMissing, nil, "column %s", col)
		}
	}

	t.indexes = append(t.indexes, types.DBIndex{
		Name:      idx.Name,
		TableName: t.ref.Name,
		Columns:   slices.Clone(idx.Columns),
		IsUnique:  idx.Unique,
	})
	return nil
}

func (s *Schema) DropIndex(ctx context.Context, ref types.TableRef, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDropIndex); err != nil {
		return err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return err
	}
	pos := t.indexPos(name)
	if pos < 0 {
		return migerr.Newf(migerr.ErrTargetMissing, nil, "index %s", name)
	}
	t.indexes = slices.Delete(t.indexes, pos, pos+1)
	return nil
}

func (s *Schema) BackfillBatch(ctx context.Context, ref types.TableRef, column string, value any, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpBackfillBatch); err != nil {
		return 0, err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return 0, err
	}
	c := t.column(column)
	if c == nil {
		return 0, migerr.Newf(migerr.ErrTargetMissing, nil, "column %s", column)
	}

	var n int64
	for _, row := range t.rows {
		if n == int64(batchSize) {
			break
		}
		if row[c.spec.Name] == nil {
			row[c.spec.Name] = value
			n++
		}
	}
	return n, nil
}

func (s *Schema) CountNulls(ctx context.Context, ref types.TableRef, column string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCountNulls); err != nil {
		return 0, err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return 0, err
	}
	c := t.column(column)
	if c == nil {
		return 0, migerr.Newf(migerr.ErrTargetMissing, nil, "column %s", column)
	}
	return countNulls(t, c), nil
}

func countNulls(t *table, c *column) int64 {
	var n int64
	for _, row := range t.rows {
		if row[c.spec.Name] == nil {
			n++
		}
	}
	return n
}

func (s *Schema) SetNotNull(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpSetNotNull); err != nil {
		return err
	}
	t, err := s.lookup(ref)
	if err != nil {
		return err
	}
	c := t.column(col.Name)
	if c == nil {
		return migerr.Newf(migerr.ErrTargetMissing, nil, "column %s", col.Name)
	}
	if n := countNulls(t, c); n > 0 {
		return migerr.Newf(migerr.ErrDataViolation, nil, "cannot insert NULL into %s (%d rows)", col.Name, n)
	}
	c.spec.Nullable = false
	return nil
}

// InTransaction runs fn and restores every table to its prior state if fn
// fails. Calls nest: only the outermost call takes the snapshot.
func (s *Schema) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	snapshot := make(map[string]*table, len(s.tables))
	for k, t := range s.tables {
		snapshot[k] = t.clone()
	}
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.tables = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

type txKey struct{}
