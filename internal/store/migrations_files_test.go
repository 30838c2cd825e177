package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsDir = "../../db/migrations"

func TestMigrationsPairUpAndDown(t *testing.T) {
	ups, err := scanMigrations(migrationsDir, "up")
	if err != nil {
		t.Fatalf("scan up: %v", err)
	}
	downs, err := scanMigrations(migrationsDir, "down")
	if err != nil {
		t.Fatalf("scan down: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}
	if len(ups) != len(downs) {
		t.Fatalf("%d up files but %d down files", len(ups), len(downs))
	}
	for i, up := range ups {
		down := downs[len(downs)-1-i]
		if up.Version != down.Version {
			t.Fatalf("version %d has no matching down file", up.Version)
		}
		if i > 0 && up.Version <= ups[i-1].Version {
			t.Fatalf("up migrations out of order at %s", up.Name)
		}
	}
}

func TestScanMigrationsRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0001_users.up.sql", "0001_teams.up.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	_, err := scanMigrations(dir, "up")
	if err == nil || !strings.Contains(err.Error(), "share version 1") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestScanMigrationsOrdersByNumericVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"10_late.up.sql", "9_early.up.sql", "9_early.down.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	steps, err := scanMigrations(dir, "up")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].Version != 9 || steps[1].Version != 10 {
		t.Fatalf("unexpected order %+v", steps)
	}
}
