package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// dry runs.
type MemoryStorage struct {
	mu       sync.RWMutex
	stations map[string]Station
	prices   map[string]map[string]PriceSnapshot
	jobs     map[string]ScheduledJob
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		stations: make(map[string]Station),
		prices:   make(map[string]map[string]PriceSnapshot),
		jobs:     make(map[string]ScheduledJob),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) CreateStation(ctx context.Context, st Station) (CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[st.ID]; ok {
		return AlreadyExists, nil
	}
	m.stations[st.ID] = st
	return Created, nil
}

func (m *MemoryStorage) GetStation(ctx context.Context, id string) (*Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stations[id]
	if !ok {
		return nil, nil
	}
	cp := st
	return &cp, nil
}

func (m *MemoryStorage) TouchStation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stations[id]; ok {
		st.UpdatedAt = at
		m.stations[id] = st
	}
	return nil
}

func (m *MemoryStorage) PutPriceSnapshot(ctx context.Context, snap PriceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTS, ok := m.prices[snap.StationID]
	if !ok {
		byTS = make(map[string]PriceSnapshot)
		m.prices[snap.StationID] = byTS
	}
	byTS[snap.Timestamp] = snap
	return nil
}

func (m *MemoryStorage) LatestPriceSnapshot(ctx context.Context, stationID, atOrBefore string) (*PriceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *PriceSnapshot
	for ts, snap := range m.prices[stationID] {
		if ts > atOrBefore {
			continue
		}
		if latest == nil || ts > latest.Timestamp {
			cp := snap
			latest = &cp
		}
	}
	return latest, nil
}

func (m *MemoryStorage) ListPriceSnapshots(ctx context.Context, stationID string) ([]PriceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PriceSnapshot, 0, len(m.prices[stationID]))
	for _, snap := range m.prices[stationID] {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// StationCount returns the number of stored stations.
func (m *MemoryStorage) StationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stations)
}

func (m *MemoryStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	// In-memory single instance always acquires lock
	return true, nil
}

func (m *MemoryStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := 0
	if success {
		status = 1
	}
	m.jobs[name] = ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return nil
}

// ScheduledJob returns the recorded job row, if any.
func (m *MemoryStorage) ScheduledJob(name string) (ScheduledJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[name]
	return job, ok
}
