package db

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/polyatop?sslmode=disable", "pgx5://u:p@localhost:5432/polyatop?sslmode=disable"},
		{"postgresql://localhost/polyatop", "pgx5://localhost/polyatop"},
		{"pgx5://localhost/polyatop", "pgx5://localhost/polyatop"},
	}
	for _, tc := range cases {
		if got := MigrateURL(tc.in); got != tc.want {
			t.Fatalf("MigrateURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("no up migrations embedded")
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("migration %s has no down file", version)
		}
	}
}

func TestMigrateAgainstDatabase(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}
	if err := Migrate(dbURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op
	if err := Migrate(dbURL); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	pool, err := NewPool(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()
}
