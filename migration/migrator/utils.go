package migrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MigrationFile describes a migration file parsed from its name
type MigrationFile struct {
	Version   int
	Name      string
	Direction string
}

var migrationFileRe = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_\-]+)\.(up|down)\.sql$`)

// ParseMigrationFileName parses a file name of the form
// NNNNNNNNNN_description.(up|down).sql. The description is title-cased with
// underscores replaced by spaces.
func ParseMigrationFileName(filename string) (*MigrationFile, error) {
	matches := migrationFileRe.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename: %s", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid migration version in %s: %w", filename, err)
	}

	name := strings.ReplaceAll(matches[2], "_", " ")
	name = cases.Title(language.English).String(name)

	return &MigrationFile{
		Version:   version,
		Name:      name,
		Direction: matches[3],
	}, nil
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateMigrationFileName builds the file name for a migration direction
func GenerateMigrationFileName(version int, description, direction string) string {
	name := nonAlnumRe.ReplaceAllString(strings.ToLower(description), "_")
	name = strings.Trim(name, "_")
	return fmt.Sprintf("%010d_%s.%s.sql", version, name, direction)
}

// GetNextMigrationVersion returns a timestamp-based version (YYYYMMDDHHMMSS, UTC)
func GetNextMigrationVersion() int {
	return versionAt(time.Now())
}

func versionAt(t time.Time) int {
	v, _ := strconv.Atoi(t.UTC().Format("20060102150405"))
	return v
}

// Checksum returns the hex encoded SHA-256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
