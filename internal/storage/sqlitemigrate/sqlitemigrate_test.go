package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func TestUpSection(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no markers", "CREATE TABLE a (id TEXT);", "CREATE TABLE a (id TEXT);"},
		{"up only", "-- +migrate Up\nCREATE TABLE a (id TEXT);", "\nCREATE TABLE a (id TEXT);"},
		{"up and down", "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;", "\nCREATE TABLE a (id TEXT);\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UpSection(tt.content); got != tt.want {
				t.Errorf("UpSection() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyRunsEachFileOnce(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"001_a.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;")},
		"002_b.sql": {Data: []byte("-- +migrate Up\nINSERT INTO a (id) VALUES ('x');")},
		"notes.txt": {Data: []byte("ignored")},
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Apply(ctx, db, migrations, "."); err != nil {
			t.Fatalf("Apply() run %d: %v", i, err)
		}
	}

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM a`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected insert migration to run once, got %d rows", rows)
	}

	var applied int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
}
