// Package testutil provides shared helpers for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/stream-herald/db"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// ResetTables clears the mutable tables between tests sharing one database.
func ResetTables(t *testing.T, database *sql.DB) {
	t.Helper()
	for _, stmt := range []string{
		`DELETE FROM guild_settings`,
		`DELETE FROM sync_runs`,
		`DELETE FROM kv`,
	} {
		if _, err := database.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("reset tables: %v", err)
		}
	}
}
