package migrator

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"sort"

	"github.com/stokaro/userschema/dbschema"
)

// MigrationProvider provides a list of migrations
type MigrationProvider interface {
	// Migrations provides a list of migrations sorted by version in ascending order
	Migrations() []*Migration
}

// RegisteredMigrationProvider is a simple in-memory implementation of MigrationProvider
type RegisteredMigrationProvider struct {
	migrations []*Migration
	sorted     bool
}

// NewRegisteredMigrationProvider creates a new in-memory migration provider with the given migrations.
// The migrations will be sorted by version when accessed through the Migrations() method.
func NewRegisteredMigrationProvider(migrations ...*Migration) *RegisteredMigrationProvider {
	return &RegisteredMigrationProvider{
		migrations: migrations,
	}
}

// Register adds a migration to the provider
func (p *RegisteredMigrationProvider) Register(migration *Migration) {
	p.migrations = append(p.migrations, migration)
	p.sorted = false
}

// Migrations returns the list of migrations sorted by version in ascending order
func (p *RegisteredMigrationProvider) Migrations() []*Migration {
	p.maybeSort()
	return p.migrations
}

// maybeSort sorts the migrations if they haven't been sorted yet
func (p *RegisteredMigrationProvider) maybeSort() {
	if p.sorted {
		return
	}
	sortMigrations(p.migrations)
	p.sorted = true
}

// FSMigrationProvider is a migration provider that loads migrations from a filesystem.
// It scans the filesystem for migration files following the naming convention and
// automatically creates Migration instances from the SQL files.
type FSMigrationProvider struct {
	fsys       fs.FS
	migrations []*Migration
}

// NewFSMigrationProvider creates a new filesystem-based migration provider.
// It scans the provided filesystem for migration files and validates that all migrations
// have both up and down files. Returns an error if the filesystem cannot be scanned
// or if any migrations are incomplete.
func NewFSMigrationProvider(fsys fs.FS) (*FSMigrationProvider, error) {
	p := &FSMigrationProvider{fsys: fsys}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Migrations returns the list of migrations loaded from the filesystem, sorted by version in ascending order.
func (p *FSMigrationProvider) Migrations() []*Migration {
	return p.migrations
}

type fsMigration struct {
	migration *Migration
	hasUp     bool
	hasDown   bool
}

func (p *FSMigrationProvider) load() error {
	found := make(map[int]*fsMigration) // version -> migration

	err := fs.WalkDir(p.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		migrationFile, err := ParseMigrationFileName(d.Name())
		if err != nil {
			// Skip files that don't match migration pattern
			return nil
		}

		entry, exists := found[migrationFile.Version]
		if !exists {
			entry = &fsMigration{migration: &Migration{
				Version:     migrationFile.Version,
				Description: migrationFile.Name,
			}}
			found[migrationFile.Version] = entry
		}

		switch migrationFile.Direction {
		case "up":
			if entry.hasUp {
				return fmt.Errorf("duplicate up migration for version %d: %s", migrationFile.Version, path)
			}
			data, err := fs.ReadFile(p.fsys, path)
			if err != nil {
				return fmt.Errorf("failed to read migration file %s: %w", path, err)
			}
			entry.hasUp = true
			entry.migration.Up = MigrationFuncFromSQLFilename(path, p.fsys)
			entry.migration.Checksum = Checksum(data)
			entry.migration.NoTransaction = hasNoTransactionDirective(string(data))
		case "down":
			if entry.hasDown {
				return fmt.Errorf("duplicate down migration for version %d: %s", migrationFile.Version, path)
			}
			entry.hasDown = true
			entry.migration.Down = MigrationFuncFromSQLFilename(path, p.fsys)
		default:
			return fmt.Errorf("invalid migration direction: %s", migrationFile.Direction)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to scan migrations directory: %w", err)
	}

	var incompleteMigrations []int
	for version, entry := range found {
		if !entry.hasUp || !entry.hasDown {
			incompleteMigrations = append(incompleteMigrations, version)
		}
	}

	if len(incompleteMigrations) > 0 {
		sort.Ints(incompleteMigrations)
		return fmt.Errorf("incomplete migrations found (missing up or down files): %v", incompleteMigrations)
	}

	for _, entry := range found {
		p.migrations = append(p.migrations, entry.migration)
	}
	sortMigrations(p.migrations)

	return nil
}

// CompositeMigrationProvider merges the migrations of several providers.
type CompositeMigrationProvider struct {
	migrations     []*Migration
	preconditioned []Preconditioner
}

// NewCompositeMigrationProvider merges providers into one. Two migrations
// with the same version are rejected.
func NewCompositeMigrationProvider(providers ...MigrationProvider) (*CompositeMigrationProvider, error) {
	byVersion := make(map[int]*Migration)
	var preconditioned []Preconditioner
	for _, provider := range providers {
		if p, ok := provider.(Preconditioner); ok {
			preconditioned = append(preconditioned, p)
		}
		for _, migration := range provider.Migrations() {
			if existing, ok := byVersion[migration.Version]; ok {
				return nil, fmt.Errorf("duplicate migration version %d: %q and %q",
					migration.Version, existing.Description, migration.Description)
			}
			byVersion[migration.Version] = migration
		}
	}

	migrations := slices.Collect(maps.Values(byVersion))
	sortMigrations(migrations)
	return &CompositeMigrationProvider{migrations: migrations, preconditioned: preconditioned}, nil
}

// CheckPreconditions runs the checks of every merged provider that has them.
func (p *CompositeMigrationProvider) CheckPreconditions(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	for _, pc := range p.preconditioned {
		if err := pc.CheckPreconditions(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// Migrations returns the merged migrations sorted by version in ascending order.
func (p *CompositeMigrationProvider) Migrations() []*Migration {
	return p.migrations
}

func sortMigrations(migrations []*Migration) {
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
}
