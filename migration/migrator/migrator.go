package migrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/stokaro/userschema/dbschema"
	"github.com/stokaro/userschema/migration/migerr"
	"github.com/stokaro/userschema/migration/steps"
)

// LockName is the advisory lock held for the duration of a migration run.
const LockName = "userschema_migrations"

// DefaultLockTimeout is how long a run waits for another run to finish.
const DefaultLockTimeout = 15 * time.Second

// AppliedMigration is a row of the migrations ledger
type AppliedMigration struct {
	Version     int       `db:"version" json:"version"`
	Description string    `db:"description" json:"description"`
	Checksum    string    `db:"checksum" json:"checksum"`
	AppliedAt   time.Time `db:"applied_at" json:"applied_at"`
}

// MigrationStatus represents the current state of migrations
type MigrationStatus struct {
	CurrentVersion    int   `json:"current_version"`
	AppliedMigrations []int `json:"applied_migrations"`
	PendingMigrations []int `json:"pending_migrations"`
	TotalMigrations   int   `json:"total_migrations"`
	HasPendingChanges bool  `json:"has_pending_changes"`
}

// Direction of a migration run
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// RunResult lists the migrations a run applied or rolled back, in order.
type RunResult struct {
	Direction Direction
	Versions  []int
	// Reports holds the step outcomes of each migration built from steps.
	Reports map[int]*steps.Report
}

// AlreadyApplied reports whether the run found nothing to do.
func (r *RunResult) AlreadyApplied() bool {
	return len(r.Versions) == 0
}

func (r *RunResult) String() string {
	if r.AlreadyApplied() {
		return "already applied"
	}
	verb := "applied"
	if r.Direction == Down {
		verb = "rolled back"
	}
	versions := make([]string, len(r.Versions))
	for i, v := range r.Versions {
		versions[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s %d migration(s): %s", verb, len(r.Versions), strings.Join(versions, ", "))
}

func (r *RunResult) add(version int, report *steps.Report) {
	r.Versions = append(r.Versions, version)
	if len(report.Results()) == 0 {
		return
	}
	if r.Reports == nil {
		r.Reports = make(map[int]*steps.Report)
	}
	r.Reports[version] = report
}

// Preconditioner is implemented by providers whose migrations need objects
// that must exist before the ledger is created.
type Preconditioner interface {
	CheckPreconditions(ctx context.Context, conn *dbschema.DatabaseConnection) error
}

// Migrator handles database migrations
type Migrator struct {
	conn              *dbschema.DatabaseConnection
	migrationProvider MigrationProvider
	initialized       bool
	logger            *slog.Logger
	lockTimeout       time.Duration
	allowOutOfOrder   bool
}

// NewFSMigrator creates a new migrator that loads migrations from a filesystem.
// It scans the provided filesystem for migration files following the naming convention
// NNNNNNNNNN_description.up.sql and NNNNNNNNNN_description.down.sql and automatically
// registers them with the migrator. Returns an error if the filesystem cannot be scanned
// or if any migrations are incomplete (missing up or down files).
func NewFSMigrator(conn *dbschema.DatabaseConnection, fsys fs.FS) (*Migrator, error) {
	provider, err := NewFSMigrationProvider(fsys)
	if err != nil {
		return nil, err
	}
	return NewMigrator(conn, provider), nil
}

// NewMigrator creates a new migrator with the given database connection
func NewMigrator(conn *dbschema.DatabaseConnection, provider MigrationProvider) *Migrator {
	return &Migrator{
		conn:              conn,
		migrationProvider: provider,
		logger:            slog.Default(),
		lockTimeout:       DefaultLockTimeout,
	}
}

// WithLogger sets the logger for the migrator
func (m *Migrator) WithLogger(l *slog.Logger) *Migrator {
	tmp := *m
	tmp.logger = l
	return &tmp
}

// WithLockTimeout sets how long a run waits for the migration lock
func (m *Migrator) WithLockTimeout(d time.Duration) *Migrator {
	tmp := *m
	tmp.lockTimeout = d
	return &tmp
}

// WithOutOfOrder allows pending migrations older than the newest applied one
func (m *Migrator) WithOutOfOrder(allow bool) *Migrator {
	tmp := *m
	tmp.allowOutOfOrder = allow
	return &tmp
}

// MigrationProvider returns the migration provider
func (m *Migrator) MigrationProvider() MigrationProvider {
	return m.migrationProvider
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	if m.initialized {
		return nil
	}

	schemaSQL, err := migrationsSchemaSQL(m.conn.Info().Dialect)
	if err != nil {
		return err
	}
	if _, err := m.conn.ExecuteSQL(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	m.initialized = true
	return nil
}

// GetCurrentVersion returns the highest applied migration version, 0 if none
func (m *Migrator) GetCurrentVersion(ctx context.Context) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	var version int
	if err := m.conn.Get(ctx, &version, getVersionSQL); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// GetAppliedMigrations returns the ledger rows ordered by version
func (m *Migrator) GetAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	var applied []AppliedMigration
	if err := m.conn.Select(ctx, &applied, appliedMigrationsSQL); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	return applied, nil
}

// GetPendingMigrations returns the versions of registered migrations that
// are not in the ledger
func (m *Migrator) GetPendingMigrations(ctx context.Context) ([]int, error) {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	var pending []int
	for _, migration := range pendingMigrations(m.migrationProvider.Migrations(), applied) {
		pending = append(pending, migration.Version)
	}
	return pending, nil
}

// GetPreviousMigrationVersion finds the applied version preceding the current one.
// Returns 0 when only one migration is applied, and an error and -1 when none is.
func (m *Migrator) GetPreviousMigrationVersion(ctx context.Context) (int, error) {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return -1, err
	}
	if len(applied) == 0 {
		return -1, fmt.Errorf("no previous migrations exist")
	}
	if len(applied) == 1 {
		return 0, nil
	}
	return applied[len(applied)-2].Version, nil
}

// GetMigrationStatus returns information about the current migration status
func (m *Migrator) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrations := m.migrationProvider.Migrations()
	status := &MigrationStatus{TotalMigrations: len(migrations)}
	for _, a := range applied {
		status.AppliedMigrations = append(status.AppliedMigrations, a.Version)
		status.CurrentVersion = max(status.CurrentVersion, a.Version)
	}
	for _, migration := range pendingMigrations(migrations, applied) {
		status.PendingMigrations = append(status.PendingMigrations, migration.Version)
	}
	status.HasPendingChanges = len(status.PendingMigrations) > 0
	return status, nil
}

// MigrateUp applies every pending migration
func (m *Migrator) MigrateUp(ctx context.Context) (*RunResult, error) {
	return m.locked(ctx, func(ctx context.Context) (*RunResult, error) {
		return m.migrateUpTo(ctx, -1)
	})
}

// MigrateDown rolls back the most recently applied migration
func (m *Migrator) MigrateDown(ctx context.Context) (*RunResult, error) {
	return m.locked(ctx, func(ctx context.Context) (*RunResult, error) {
		applied, err := m.GetAppliedMigrations(ctx)
		if err != nil {
			return nil, err
		}
		if len(applied) == 0 {
			m.logger.Info("No migrations to roll back")
			return &RunResult{Direction: Down}, nil
		}

		target := 0
		if len(applied) > 1 {
			target = applied[len(applied)-2].Version
		}
		return m.migrateDownTo(ctx, target)
	})
}

// MigrateDownTo rolls back every applied migration above the target version
func (m *Migrator) MigrateDownTo(ctx context.Context, targetVersion int) (*RunResult, error) {
	return m.locked(ctx, func(ctx context.Context) (*RunResult, error) {
		return m.migrateDownTo(ctx, targetVersion)
	})
}

// MigrateTo migrates the database to a specific version (up or down).
// Version 0 rolls back everything.
func (m *Migrator) MigrateTo(ctx context.Context, targetVersion int) (*RunResult, error) {
	if targetVersion < 0 {
		return nil, fmt.Errorf("invalid target version %d", targetVersion)
	}
	if targetVersion != 0 && !slices.ContainsFunc(m.migrationProvider.Migrations(), func(mig *Migration) bool {
		return mig.Version == targetVersion
	}) {
		return nil, fmt.Errorf("unknown migration version %d", targetVersion)
	}

	return m.locked(ctx, func(ctx context.Context) (*RunResult, error) {
		currentVersion, err := m.GetCurrentVersion(ctx)
		if err != nil {
			return nil, err
		}

		if targetVersion >= currentVersion {
			return m.migrateUpTo(ctx, targetVersion)
		}
		return m.migrateDownTo(ctx, targetVersion)
	})
}

// locked runs fn while holding the migration lock
func (m *Migrator) locked(ctx context.Context, fn func(ctx context.Context) (*RunResult, error)) (*RunResult, error) {
	unlock, err := m.conn.Lock(ctx, LockName, m.lockTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("Failed to release migration lock", "error", err)
		}
	}()

	if p, ok := m.migrationProvider.(Preconditioner); ok {
		if err := p.CheckPreconditions(ctx, m.conn); err != nil {
			return nil, err
		}
	}
	return fn(ctx)
}

// migrateUpTo applies pending migrations up to targetVersion, or all of them
// when targetVersion is negative
func (m *Migrator) migrateUpTo(ctx context.Context, targetVersion int) (*RunResult, error) {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	migrations := m.migrationProvider.Migrations()
	if err := verifyChecksums(migrations, applied); err != nil {
		return nil, err
	}

	pending := pendingMigrations(migrations, applied)
	if targetVersion >= 0 {
		pending = slices.DeleteFunc(pending, func(mig *Migration) bool {
			return mig.Version > targetVersion
		})
	}
	if err := m.checkOrder(pending, applied); err != nil {
		return nil, err
	}

	m.logger.Info("Migrating up", "appliedMigrations", len(applied), "pendingMigrations", len(pending), "totalMigrations", len(migrations))

	result := &RunResult{Direction: Up}
	for _, migration := range pending {
		m.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)

		report, err := m.run(ctx, migration, func(ctx context.Context) error {
			if err := migration.Up(ctx, m.conn); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
			}
			if _, err := m.conn.ExecuteSQL(ctx, recordMigrationSQL,
				migration.Version, migration.Description, migration.Checksum, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return result, err
		}

		result.add(migration.Version, report)
		m.logger.Info("Applied migration", "version", migration.Version, "description", migration.Description)
	}

	if result.AlreadyApplied() {
		m.logger.Info("Database is up to date, migrations already applied")
	} else {
		m.logger.Info("All migrations applied successfully", "applied", len(result.Versions))
	}
	return result, nil
}

// migrateDownTo rolls back applied migrations above targetVersion, newest first
func (m *Migrator) migrateDownTo(ctx context.Context, targetVersion int) (*RunResult, error) {
	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	registered := make(map[int]*Migration)
	for _, migration := range m.migrationProvider.Migrations() {
		registered[migration.Version] = migration
	}

	// resolve every rollback before touching the schema
	var rollback []*Migration
	for i := len(applied) - 1; i >= 0; i-- {
		version := applied[i].Version
		if version <= targetVersion {
			break
		}
		migration, ok := registered[version]
		if !ok {
			return nil, fmt.Errorf("migration %d is applied but not registered", version)
		}
		if migration.Down == nil {
			return nil, migerr.Newf(migerr.ErrIrreversible, nil, "migration %d (%s)", version, migration.Description)
		}
		rollback = append(rollback, migration)
	}

	result := &RunResult{Direction: Down}
	if len(rollback) == 0 {
		m.logger.Info("Already at or below target version", "targetVersion", targetVersion)
		return result, nil
	}

	m.logger.Info("Migrating down", "targetVersion", targetVersion, "rollbacks", len(rollback))

	for _, migration := range rollback {
		m.logger.Info("Rolling back migration", "version", migration.Version, "description", migration.Description)

		report, err := m.run(ctx, migration, func(ctx context.Context) error {
			if err := migration.Down(ctx, m.conn); err != nil {
				return fmt.Errorf("failed to revert migration %d: %w", migration.Version, err)
			}
			if _, err := m.conn.ExecuteSQL(ctx, deleteMigrationSQL, migration.Version); err != nil {
				return fmt.Errorf("failed to record migration reversion %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return result, err
		}

		result.add(migration.Version, report)
		m.logger.Info("Rolled back migration", "version", migration.Version, "description", migration.Description)
	}

	m.logger.Info("Migrations rolled back successfully", "targetVersion", targetVersion)
	return result, nil
}

// run executes fn with a step report in its context, inside a transaction
// unless the migration opts out
func (m *Migrator) run(ctx context.Context, migration *Migration, fn func(ctx context.Context) error) (*steps.Report, error) {
	report := &steps.Report{}
	ctx = steps.WithReport(ctx, report)

	if migration.NoTransaction {
		return report, fn(ctx)
	}
	return report, m.conn.InTransaction(ctx, fn)
}

// checkOrder rejects pending migrations older than the newest applied one
func (m *Migrator) checkOrder(pending []*Migration, applied []AppliedMigration) error {
	if m.allowOutOfOrder || len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version
	for _, migration := range pending {
		if migration.Version < latest && !migration.Optional {
			return migerr.Newf(migerr.ErrOutOfOrder, nil,
				"migration %d (%s) is older than applied migration %d", migration.Version, migration.Description, latest)
		}
	}
	return nil
}

// verifyChecksums compares ledger checksums with the registered migrations.
// Rows without a registered migration are left alone.
func verifyChecksums(migrations []*Migration, applied []AppliedMigration) error {
	registered := make(map[int]*Migration, len(migrations))
	for _, migration := range migrations {
		registered[migration.Version] = migration
	}

	for _, a := range applied {
		migration, ok := registered[a.Version]
		if !ok || migration.Checksum == "" || a.Checksum == "" {
			continue
		}
		if migration.Checksum != a.Checksum {
			return migerr.Newf(migerr.ErrChecksumMismatch, nil,
				"migration %d (%s): recorded %s, registered %s", a.Version, a.Description, a.Checksum, migration.Checksum)
		}
	}
	return nil
}

func pendingMigrations(migrations []*Migration, applied []AppliedMigration) []*Migration {
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	var pending []*Migration
	for _, migration := range migrations {
		if !done[migration.Version] {
			pending = append(pending, migration)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})
	return pending
}
