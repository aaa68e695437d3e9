package storage

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/joyautomation/mantle/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// optionalMarker flags a migration file whose failure is tolerated.
// TimescaleDB-specific DDL carries it so plain PostgreSQL still comes
// up, only without chunking and compression.
const optionalMarker = "-- optional"

type migration struct {
	name     string
	body     string
	optional bool
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, errors.WrapFatal(err, "storage", "loadMigrations", "embedded migrations listing")
	}

	migrations := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, errors.WrapFatal(err, "storage", "loadMigrations",
				fmt.Sprintf("reading %s", e.Name()))
		}
		migrations = append(migrations, migration{
			name:     e.Name(),
			body:     string(body),
			optional: strings.HasPrefix(strings.TrimSpace(string(body)), optionalMarker),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].name < migrations[j].name })
	return migrations, nil
}

// Migrate applies the embedded migrations in lexicographic filename
// order. Each file runs in its own transaction and is recorded in
// schema_migrations; already-applied files are skipped. Optional files
// that fail are logged and recorded so the schema version still
// advances.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    filename   TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return errors.WrapFatal(errors.ErrMigrationFailed, "storage", "Migrate",
			fmt.Sprintf("migration tracking table: %v", err))
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var applied bool
		err := s.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)", m.name).Scan(&applied)
		if err != nil {
			return errors.WrapFatal(errors.ErrMigrationFailed, "storage", "Migrate",
				fmt.Sprintf("checking %s: %v", m.name, err))
		}
		if applied {
			continue
		}

		if err := s.applyMigration(ctx, m); err != nil {
			if !m.optional {
				return err
			}
			s.log.Warn("optional migration failed, continuing without it",
				"migration", m.name, "error", err)
			if _, err := s.pool.Exec(ctx,
				"INSERT INTO schema_migrations (filename) VALUES ($1)", m.name); err != nil {
				return errors.WrapFatal(errors.ErrMigrationFailed, "storage", "Migrate",
					fmt.Sprintf("recording %s: %v", m.name, err))
			}
			continue
		}
		s.log.Info("migration applied", "migration", m.name)
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.WrapFatal(errors.ErrMigrationFailed, "storage", "Migrate",
			fmt.Sprintf("beginning %s: %v", m.name, err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.body); err != nil {
		return errors.WrapFatal(errors.ErrMigrationFailed, "storage", "Migrate",
			fmt.Sprintf("applying %s: %v", m.name, err))
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (filename) VALUES ($1)", m.name); err != nil {
		return errors.WrapFatal(errors.ErrMigrationFailed, "storage", "Migrate",
			fmt.Sprintf("recording %s: %v", m.name, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.WrapFatal(errors.ErrMigrationFailed, "storage", "Migrate",
			fmt.Sprintf("committing %s: %v", m.name, err))
	}
	return nil
}
