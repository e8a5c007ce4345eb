package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestDiscoverMigrations_SortedWithChecksums(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"002_tables.sql": "SELECT 2;",
		"001_init.sql":   "SELECT 1;",
		"README.md":      "ignored",
	})

	got, err := DiscoverMigrations(dir)
	if err != nil {
		t.Fatalf("DiscoverMigrations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(got))
	}
	if got[0].Version != "001" || got[1].Version != "002" {
		t.Errorf("unexpected order: %s, %s", got[0].Filename, got[1].Filename)
	}
	if len(got[0].Checksum) != 64 {
		t.Errorf("expected sha256 hex checksum, got %q", got[0].Checksum)
	}
	if got[0].Checksum == got[1].Checksum {
		t.Error("different files produced the same checksum")
	}
}

func TestDiscoverMigrations_DuplicateVersion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"001_a.sql": "SELECT 1;",
		"001_b.sql": "SELECT 2;",
	})
	_, err := DiscoverMigrations(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestDiscoverMigrations_BadName(t *testing.T) {
	dir := writeFiles(t, map[string]string{"init.sql": "SELECT 1;"})
	if _, err := DiscoverMigrations(dir); err == nil {
		t.Fatal("expected error for filename without version prefix")
	}
}

func TestDiscoverMigrations_RepositorySchema(t *testing.T) {
	got, err := DiscoverMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("DiscoverMigrations: %v", err)
	}
	if len(got) == 0 || got[0].Version != "001" {
		t.Fatalf("expected 001 migration first, got %+v", got)
	}
}
