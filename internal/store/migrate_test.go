package store

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 2 {
		t.Fatalf("expected at least 2 migrations, got %v", files)
	}
	for _, f := range files {
		b, err := migrationsFS.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(b), "-- +goose Up") || !strings.Contains(string(b), "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", f)
		}
	}
	b, _ := migrationsFS.ReadFile(files[len(files)-1])
	if !strings.Contains(string(b), "(priority, (lower(coalesce(category, 'GLOBAL'))))") {
		t.Fatalf("latest migration should make rule categories case-insensitive:\n%s", b)
	}
}
