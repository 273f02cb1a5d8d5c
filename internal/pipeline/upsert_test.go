package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/bher20/fuelsync/internal/storage"
)

// failingStore wraps a MemoryStorage and fails selected calls.
type failingStore struct {
	*storage.MemoryStorage
	createErr   map[string]error
	snapshotErr error
}

func (f *failingStore) CreateStation(ctx context.Context, st storage.Station) (storage.CreateResult, error) {
	if err := f.createErr[st.ID]; err != nil {
		return 0, err
	}
	return f.MemoryStorage.CreateStation(ctx, st)
}

func (f *failingStore) PutPriceSnapshot(ctx context.Context, snap storage.PriceSnapshot) error {
	if f.snapshotErr != nil {
		return f.snapshotErr
	}
	return f.MemoryStorage.PutPriceSnapshot(ctx, snap)
}

func station(id, name, fuels string) storage.Station {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return storage.Station{
		ID:        id,
		Name:      name,
		Address:   datatypes.JSON(`{"Morada":"Rua"}`),
		Fuels:     datatypes.JSON(fuels),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// stepClock returns t0, t0+step, t0+2*step, ...
func stepClock(t0 time.Time, step time.Duration) func() time.Time {
	next := t0
	return func() time.Time {
		cur := next
		next = next.Add(step)
		return cur
	}
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestUpsert_FreshInsert(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	u := NewUpserter(store, WithUpserterClock(stepClock(t0, time.Second)))

	res, err := u.Upsert(ctx, station("A", "Station A", `[{"Preco":"1,70"}]`))
	require.NoError(t, err)
	assert.Equal(t, storage.Created, res)

	assert.Equal(t, 1, store.StationCount())
	snaps, err := store.ListPriceSnapshots(ctx, "A")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "2024-03-01 10:00:00", snaps[0].Timestamp)
	assert.JSONEq(t, `[{"Preco":"1,70"}]`, string(snaps[0].Fuels))
}

func TestUpsert_ConflictRouting(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	_, err := store.CreateStation(ctx, station("X", "Original", `[{"Preco":"1,00"}]`))
	require.NoError(t, err)

	u := NewUpserter(store, WithUpserterClock(stepClock(t0, time.Second)))
	res, err := u.Upsert(ctx, station("X", "Renamed", `[{"Preco":"2,00"}]`))
	require.NoError(t, err)
	assert.Equal(t, storage.AlreadyExists, res)

	got, err := store.GetStation(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Name)
	assert.JSONEq(t, `[{"Preco":"1,00"}]`, string(got.Fuels))
	assert.Equal(t, station("", "", "").UpdatedAt, got.UpdatedAt, "updatedAt is left alone by default")

	snaps, err := store.ListPriceSnapshots(ctx, "X")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.JSONEq(t, `[{"Preco":"2,00"}]`, string(snaps[0].Fuels))
}

func TestUpsert_Idempotence(t *testing.T) {
	tests := map[string]struct {
		step      time.Duration
		layout    string
		wantSnaps []string
	}{
		"distinct seconds": {
			step:      time.Second,
			wantSnaps: []string{"2024-03-01 10:00:00", "2024-03-01 10:00:01"},
		},
		"same second collides": {
			step:      100 * time.Millisecond,
			wantSnaps: []string{"2024-03-01 10:00:00"},
		},
		"millisecond layout keeps both": {
			step:      100 * time.Millisecond,
			layout:    storage.TimestampLayoutMillisecond,
			wantSnaps: []string{"2024-03-01 10:00:00.000", "2024-03-01 10:00:00.100"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemory()
			opts := []UpserterOption{WithUpserterClock(stepClock(t0, tc.step))}
			if tc.layout != "" {
				opts = append(opts, WithTimestampLayout(tc.layout))
			}
			u := NewUpserter(store, opts...)

			first, err := u.Upsert(ctx, station("S", "S", `[]`))
			require.NoError(t, err)
			second, err := u.Upsert(ctx, station("S", "S", `[]`))
			require.NoError(t, err)

			assert.Equal(t, storage.Created, first)
			assert.Equal(t, storage.AlreadyExists, second)
			assert.Equal(t, 1, store.StationCount())

			snaps, err := store.ListPriceSnapshots(ctx, "S")
			require.NoError(t, err)
			var got []string
			for _, s := range snaps {
				got = append(got, s.Timestamp)
			}
			assert.Equal(t, tc.wantSnaps, got)
		})
	}
}

func TestUpsert_TouchUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	_, err := store.CreateStation(ctx, station("X", "Original", `[]`))
	require.NoError(t, err)

	u := NewUpserter(store, WithTouchUpdatedAt(true), WithUpserterClock(func() time.Time { return t0.Add(1500 * time.Millisecond) }))
	_, err = u.Upsert(ctx, station("X", "Original", `[]`))
	require.NoError(t, err)

	got, err := store.GetStation(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), got.UpdatedAt)
	assert.Equal(t, station("", "", "").CreatedAt, got.CreatedAt)
}

func TestUpsert_StoreFailure(t *testing.T) {
	boom := errors.New("provisioned throughput exceeded")
	store := &failingStore{MemoryStorage: storage.NewMemory(), createErr: map[string]error{"B": boom}}
	u := NewUpserter(store)

	res, err := u.Upsert(context.Background(), station("B", "B", `[]`))
	require.Error(t, err)
	assert.Zero(t, res)
	assert.ErrorIs(t, err, boom)

	var ue *UpsertError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "B", ue.StationID)
	assert.Equal(t, boom.Error(), ue.Response)

	snaps, err := store.ListPriceSnapshots(context.Background(), "B")
	require.NoError(t, err)
	assert.Empty(t, snaps, "no snapshot when the station write fails")
}

func TestUpsert_SnapshotFailureIsNotFatal(t *testing.T) {
	store := &failingStore{MemoryStorage: storage.NewMemory(), snapshotErr: errors.New("table missing")}
	u := NewUpserter(store)

	res, err := u.Upsert(context.Background(), station("C", "C", `[]`))
	require.NoError(t, err)
	assert.Equal(t, storage.Created, res)
	assert.Equal(t, 1, store.StationCount())
}
