// Package migrate applies versioned SQL migrations and records them in a
// schema_migrations table.
package migrate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Target is a database that can record and apply migrations.
type Target interface {
	// EnsureTable creates schema_migrations if it does not exist.
	EnsureTable(ctx context.Context) error
	// Applied lists recorded migrations ordered by version.
	Applied(ctx context.Context) ([]AppliedMigration, error)
	// Apply executes m and records it atomically.
	Apply(ctx context.Context, m Migration, appliedBy string) error
}

// Pattern to match migration files: 0001_name.sql
var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ParseFilename extracts the version and name from a migration file name.
func ParseFilename(name string) (version int, migrationName string, ok bool) {
	matches := filenamePattern.FindStringSubmatch(name)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// Load reads migrations from dir in fsys, sorted by version. Files not
// matching NNNN_name.sql are ignored.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := ParseFilename(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: entry.Name(),
			SQL:      string(content),
			Checksum: Checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Checksum returns the hex sha256 of a migration body.
func Checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// Run applies every migration not yet recorded in target and returns how
// many were applied. A recorded migration whose checksum changed is
// reported but not re-run.
func Run(ctx context.Context, target Target, migrations []Migration, appliedBy string, log zerolog.Logger) (int, error) {
	if err := target.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	applied, err := target.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied migrations: %w", err)
	}

	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		if am, ok := appliedByVersion[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				log.Warn().
					Int("version", m.Version).
					Str("name", m.Name).
					Msg("Applied migration has changed since it was run")
			}
			log.Debug().Msgf("[SKIP] %04d_%s (already applied)", m.Version, m.Name)
			continue
		}

		log.Info().Msgf("[RUN]  %04d_%s", m.Version, m.Name)
		if err := target.Apply(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("apply migration %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Msgf("[OK]   %04d_%s", m.Version, m.Name)
		count++
	}

	return count, nil
}
