// Package pipeline runs one fetch-and-upsert pass over the station directory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bher20/fuelsync/internal/metrics"
	"github.com/bher20/fuelsync/internal/storage"
)

// UpsertError is returned when the conditional station write itself fails.
type UpsertError struct {
	StationID string
	// Response is the store's error text, kept for reporting.
	Response string
	Err      error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert station %s: %v", e.StationID, e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }

// Upserter writes a station profile once and a price snapshot on every pass.
type Upserter struct {
	store  storage.Storage
	layout string
	touch  bool
	now    func() time.Time
	log    *slog.Logger
}

type UpserterOption func(*Upserter)

// WithTimestampLayout sets the price-history sort key layout.
func WithTimestampLayout(layout string) UpserterOption {
	return func(u *Upserter) { u.layout = layout }
}

// WithTouchUpdatedAt refreshes UpdatedAt on stations that already exist.
func WithTouchUpdatedAt(on bool) UpserterOption {
	return func(u *Upserter) { u.touch = on }
}

func WithUpserterClock(now func() time.Time) UpserterOption {
	return func(u *Upserter) { u.now = now }
}

func WithUpserterLogger(l *slog.Logger) UpserterOption {
	return func(u *Upserter) { u.log = l }
}

func NewUpserter(store storage.Storage, opts ...UpserterOption) *Upserter {
	u := &Upserter{
		store:  store,
		layout: storage.TimestampLayoutSecond,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *Upserter) newPriceSnapshot(st storage.Station, at time.Time) storage.PriceSnapshot {
	return storage.PriceSnapshot{
		StationID: st.ID,
		Timestamp: at.UTC().Format(u.layout),
		Fuels:     st.Fuels,
	}
}

// Upsert creates the station if it is new and always appends a price
// snapshot. A snapshot failure is logged and does not change the result.
// Only a failed station write is returned as an error.
func (u *Upserter) Upsert(ctx context.Context, st storage.Station) (storage.CreateResult, error) {
	res, _, err := u.upsert(ctx, st)
	return res, err
}

func (u *Upserter) upsert(ctx context.Context, st storage.Station) (res storage.CreateResult, snapshotFailed bool, err error) {
	res, err = u.store.CreateStation(ctx, st)
	if err != nil {
		return 0, false, &UpsertError{StationID: st.ID, Response: err.Error(), Err: err}
	}

	now := u.now()
	if res == storage.AlreadyExists && u.touch {
		if err := u.store.TouchStation(ctx, st.ID, now.UTC().Truncate(time.Second)); err != nil {
			u.log.Warn("sync: touch station failed", "id", st.ID, "error", err)
		}
	}

	if err := u.store.PutPriceSnapshot(ctx, u.newPriceSnapshot(st, now)); err != nil {
		metrics.SnapshotFailuresTotal.Inc()
		u.log.Error("sync: price snapshot failed", "id", st.ID, "result", res, "error", err)
		return res, true, nil
	}
	return res, false, nil
}
