// Package dbtest provides migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/bookloan/apiserver/internal/db"
)

// Open returns a fresh, fully migrated SQLite database that is closed when
// the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bookloan.db")
	conn, err := db.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.MigrateUp(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}
