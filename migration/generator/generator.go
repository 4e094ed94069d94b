package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stokaro/userschema/migration/migrator"
)

// GenerateMigrationOptions contains options for migration generation
type GenerateMigrationOptions struct {
	// MigrationName is the name for the migration (optional, defaults to "migration")
	MigrationName string
	// OutputDir is the directory where migration files will be saved
	OutputDir string
	// Version overrides the timestamp version. Zero uses the current time.
	Version int
	UpSQL   string
	DownSQL string
	// NoTransaction marks the up script to run outside a transaction.
	NoTransaction bool
}

// GenerateEmptyMigrationOptions contains options for empty migration generation
type GenerateEmptyMigrationOptions struct {
	MigrationName string
	OutputDir     string
}

// MigrationFiles represents the generated migration files
type MigrationFiles struct {
	UpFile   string // Path to the up migration file
	DownFile string // Path to the down migration file
	Version  int    // Migration version (timestamp)
}

// GenerateMigration writes an up/down pair with the given contents.
func GenerateMigration(opts GenerateMigrationOptions) (*MigrationFiles, error) {
	if opts.MigrationName == "" {
		opts.MigrationName = "migration"
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	version := opts.Version
	if version == 0 {
		version = migrator.GetNextMigrationVersion()
	}

	upSQL := opts.UpSQL
	if opts.NoTransaction && !strings.HasPrefix(upSQL, migrator.NoTransactionDirective) {
		upSQL = migrator.NoTransactionDirective + "\n" + upSQL
	}
	return createMigrationFiles(opts.OutputDir, version, opts.MigrationName, upSQL, opts.DownSQL)
}

// GenerateEmptyMigration writes skeleton up and down files for hand-written
// SQL. Either file may be left with comments only.
func GenerateEmptyMigration(opts GenerateEmptyMigrationOptions) (*MigrationFiles, error) {
	if strings.TrimSpace(opts.MigrationName) == "" {
		return nil, fmt.Errorf("migration name is required")
	}

	created := time.Now().UTC().Format(time.RFC3339)
	return GenerateMigration(GenerateMigrationOptions{
		MigrationName: opts.MigrationName,
		OutputDir:     opts.OutputDir,
		UpSQL:         skeleton(opts.MigrationName, created, "up"),
		DownSQL:       skeleton(opts.MigrationName, created, "down"),
	})
}

func skeleton(name, created, direction string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Migration: %s (%s)\n", name, direction)
	fmt.Fprintf(&b, "-- Created: %s\n", created)
	b.WriteString("--\n")
	if direction == "up" {
		b.WriteString("-- Guard every statement so the script can run again. On SQL Server,\n")
		b.WriteString("-- separate batches with GO. Start the file with a\n")
		fmt.Fprintf(&b, "-- %q comment line to run it outside a transaction.\n", migrator.NoTransactionDirective)
	} else {
		b.WriteString("-- Undo the up migration. Leave the statements guarded.\n")
	}
	return b.String()
}

// createMigrationFiles creates the up and down migration files
func createMigrationFiles(outputDir string, version int, migrationName, upSQL, downSQL string) (*MigrationFiles, error) {
	// Ensure output directory exists
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	upFileName := migrator.GenerateMigrationFileName(version, migrationName, "up")
	downFileName := migrator.GenerateMigrationFileName(version, migrationName, "down")

	upFilePath := filepath.Join(outputDir, upFileName)
	downFilePath := filepath.Join(outputDir, downFileName)

	for {
		info, err := os.Stat(upFilePath)
		if err != nil || info.Size() == 0 {
			break
		}

		version++
		upFileName = migrator.GenerateMigrationFileName(version, migrationName, "up")
		downFileName = migrator.GenerateMigrationFileName(version, migrationName, "down")
		upFilePath = filepath.Join(outputDir, upFileName)
		downFilePath = filepath.Join(outputDir, downFileName)
	}

	// Write up migration file
	if err := os.WriteFile(upFilePath, []byte(upSQL), 0644); err != nil { //nolint:gosec // 0644 is fine
		return nil, fmt.Errorf("failed to write up migration file: %w", err)
	}

	// Write down migration file
	if err := os.WriteFile(downFilePath, []byte(downSQL), 0644); err != nil { //nolint:gosec // 0644 is fine
		return nil, fmt.Errorf("failed to write down migration file: %w", err)
	}

	return &MigrationFiles{
		UpFile:   upFilePath,
		DownFile: downFilePath,
		Version:  version,
	}, nil
}
