package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *GormStorage {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "fuel.db")
	st, err := Open(context.Background(), Config{Driver: "sqlite", DSN: dsn, Tables: testTables})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	g, ok := st.(*GormStorage)
	require.True(t, ok, "expected *GormStorage, got %T", st)
	return g
}

func TestGormStorage_SQLite(t *testing.T) {
	testStorageContract(t, func(t *testing.T) Storage { return openSQLite(t) })
}

func TestGormStorage_Ping(t *testing.T) {
	st := openSQLite(t)
	require.NoError(t, st.Ping(context.Background()))
}

func TestGormStorage_NullDocuments(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)

	s := sampleStation("9", "Bare")
	s.Brand, s.Usage = "", ""
	s.OperatingHours, s.Services, s.PaymentMethods = nil, nil, nil

	res, err := st.CreateStation(ctx, s)
	require.NoError(t, err)
	require.Equal(t, Created, res)

	got, err := st.GetStation(ctx, "9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Brand)
	assert.Empty(t, got.Services)
}

func TestGormStorage_ScheduledJob(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)

	started := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateScheduledJob(ctx, "sync", started, time.Second, false, "boom"))
	require.NoError(t, st.UpdateScheduledJob(ctx, "sync", started.Add(time.Hour), 2*time.Second, true, ""))

	var job ScheduledJob
	require.NoError(t, st.db.WithContext(ctx).First(&job, "name = ?", "sync").Error)
	assert.Equal(t, int64(2000), job.LastDurationMs)
	assert.Equal(t, 1, job.LastSuccess)
	assert.Empty(t, job.LastError)
}

func TestGormStorage_UnsupportedDriver(t *testing.T) {
	_, err := NewGormStorage("mysql", "", testTables)
	require.ErrorContains(t, err, "unsupported driver")
}
