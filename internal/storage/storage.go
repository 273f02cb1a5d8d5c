package storage

import (
	"context"
	"time"
)

// CreateResult reports the outcome of a conditional station write.
type CreateResult int

const (
	// Created means no station with the same ID existed and the row was written.
	Created CreateResult = iota + 1
	// AlreadyExists means the condition failed: the station row is untouched.
	AlreadyExists
)

func (r CreateResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Storage abstracts persistence for station profiles and their price history.
type Storage interface {
	// Stations

	// CreateStation writes st only if no station with st.ID exists yet.
	// A failed condition is reported as AlreadyExists, never as an error.
	CreateStation(ctx context.Context, st Station) (CreateResult, error)
	GetStation(ctx context.Context, id string) (*Station, error)
	TouchStation(ctx context.Context, id string, at time.Time) error

	// Price history

	// PutPriceSnapshot is an unconditional put: a snapshot with the same
	// station and timestamp is overwritten.
	PutPriceSnapshot(ctx context.Context, snap PriceSnapshot) error
	// LatestPriceSnapshot returns the most recent snapshot whose timestamp is
	// <= atOrBefore, or nil when there is none.
	LatestPriceSnapshot(ctx context.Context, stationID, atOrBefore string) (*PriceSnapshot, error)
	// ListPriceSnapshots returns every snapshot of a station, oldest first.
	ListPriceSnapshots(ctx context.Context, stationID string) ([]PriceSnapshot, error)

	// Close releases any resources (no-op for in-memory).
	Close() error
}

// Locker is implemented by backends that can coordinate replicas with a
// cross-process lock.
type Locker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
}

// JobRecorder is implemented by backends that keep a row per scheduled job.
type JobRecorder interface {
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error
}
