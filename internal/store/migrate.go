package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// migrationLockID serializes concurrent API instances migrating the same database.
const migrationLockID = 7_263_110_421

var migrationFile = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

type migrationStep struct {
	Version int
	Name    string
	Path    string
}

// scanMigrations returns the files for one direction ("up" or "down") ordered
// by version, ascending for up and descending for down.
func scanMigrations(dir, direction string) ([]migrationStep, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := map[int]string{}
	var steps []migrationStep
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, entry.Name(), version)
		}
		seen[version] = entry.Name()
		steps = append(steps, migrationStep{Version: version, Name: entry.Name(), Path: filepath.Join(dir, entry.Name())})
	}

	sort.Slice(steps, func(i, j int) bool {
		if direction == "down" {
			return steps[i].Version > steps[j].Version
		}
		return steps[i].Version < steps[j].Version
	})
	return steps, nil
}

// ApplyMigrations runs every pending .up.sql file in migrationsDir. Each file
// runs in its own transaction together with its schema_migrations row.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	steps, err := scanMigrations(migrationsDir, "up")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if applied[step.Name] {
			continue
		}
		if err := runMigration(ctx, db, step); err != nil {
			return err
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func runMigration(ctx context.Context, db *sql.DB, step migrationStep) (err error) {
	body, err := os.ReadFile(step.Path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", step.Name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", step.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockID)); err != nil {
		return fmt.Errorf("lock migration %s: %w", step.Name, err)
	}
	// Another instance may have applied it while we waited on the lock.
	var done bool
	if err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, step.Name).Scan(&done); err != nil {
		return fmt.Errorf("check migration %s: %w", step.Name, err)
	}
	if done {
		return tx.Commit()
	}
	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("execute migration %s: %w", step.Name, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, step.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", step.Name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", step.Name, err)
	}
	return nil
}
