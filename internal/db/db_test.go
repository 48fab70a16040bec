package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bookloan/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresURL(t *testing.T) {
	got := PostgresURL(config.DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "app",
		Password: "p@ss",
		DBName:   "library",
		UseSSL:   true,
	})
	assert.Equal(t, "postgres://app:p%40ss@db:5433/library?sslmode=require", got)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Config{Database: config.DatabaseConfig{Driver: "oracle"}})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestSQLiteMigrateUpDown(t *testing.T) {
	ctx := context.Background()
	conn, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, MigrateUp(conn, DriverSQLite))
	// A second run is a no-op.
	require.NoError(t, MigrateUp(conn, DriverSQLite))

	for _, table := range []string{"users", "books", "transactions", "inventory_movements"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	require.NoError(t, MigrateDown(conn, DriverSQLite, 0))
	var count int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'books'`).Scan(&count))
	assert.Zero(t, count)
}
