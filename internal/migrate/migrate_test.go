package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, dsn, name string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	var n int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestUpDownSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "fuel.db")
	tables := Tables{Stations: "postos", Prices: "postos_precos"}

	require.NoError(t, Up(ctx, "sqlite", dsn, tables))
	require.True(t, tableExists(t, dsn, "postos"))
	require.True(t, tableExists(t, dsn, "postos_precos"))
	require.True(t, tableExists(t, dsn, "scheduled_jobs"))

	v, err := Version(ctx, "sqlite", dsn)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)

	// Up is idempotent.
	require.NoError(t, Up(ctx, "sqlite", dsn, tables))

	require.NoError(t, Down(ctx, "sqlite", dsn, tables))
	require.False(t, tableExists(t, dsn, "scheduled_jobs"))
	require.True(t, tableExists(t, dsn, "postos"))

	require.NoError(t, Down(ctx, "sqlite", dsn, tables))
	require.False(t, tableExists(t, dsn, "postos"))
	require.False(t, tableExists(t, dsn, "postos_precos"))
}

func TestInvalidTableName(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "fuel.db")
	err := Up(context.Background(), "sqlite", dsn, Tables{Stations: `x"; DROP TABLE y; --`, Prices: "p"})
	require.ErrorContains(t, err, "invalid table name")
}

func TestUnsupportedDriver(t *testing.T) {
	err := Up(context.Background(), "oracle", "", Tables{})
	require.ErrorContains(t, err, "unsupported driver")
}
