package storage

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway postgres container. Set
// FUELSYNC_POSTGRES_TESTS=1 to enable; it needs a docker daemon.
func startPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("FUELSYNC_POSTGRES_TESTS") != "1" {
		t.Skip("set FUELSYNC_POSTGRES_TESTS=1 to run postgres container tests")
	}
	if runtime.GOOS != "linux" {
		t.Skip("Skipping PostgreSQL container test on non-Linux OS")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "fuelsync",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Setup: failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err, "Setup: failed to get mapped port")

	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/fuelsync?sslmode=disable", host, port.Port())
}

func TestPostgresPoolStorage(t *testing.T) {
	dsn := startPostgres(t)

	// Subtests use disjoint station ids, so they can share the migrated tables.
	testStorageContract(t, func(t *testing.T) Storage {
		st, err := Open(context.Background(), Config{Driver: "postgrespool", DSN: dsn, Tables: testTables})
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st
	})
}

func TestPostgresPoolStorage_AdvisoryLock(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	open := func() *PostgresPoolStorage {
		st, err := Open(ctx, Config{Driver: "postgrespool", DSN: dsn, Tables: testTables})
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st.(*PostgresPoolStorage)
	}
	a, b := open(), open()

	ok, err := a.AcquireAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.AcquireAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok, "second replica must not get the lock")

	ok, err = a.ReleaseAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.AcquireAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = b.ReleaseAdvisoryLock(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, a.UpdateScheduledJob(ctx, "sync", time.Now(), time.Second, true, ""))
}
