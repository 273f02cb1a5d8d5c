package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/fuelsync/internal/storage"
)

type fakeLocker struct {
	mu       sync.Mutex
	grant    bool
	err      error
	acquired int
	released int
}

func (f *fakeLocker) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.grant {
		f.acquired++
	}
	return f.grant, nil
}

func (f *fakeLocker) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return true, nil
}

func TestNextRun(t *testing.T) {
	last := time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)
	tests := map[string]struct {
		setting string
		want    time.Time
	}{
		"integer seconds":  {setting: "300", want: last.Add(5 * time.Minute)},
		"cron expression":  {setting: "0 * * * *", want: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)},
		"every descriptor": {setting: "@every 1h", want: last.Add(time.Hour)},
		"garbage":          {setting: "whenever", want: last.Add(5 * time.Minute)},
		"negative seconds": {setting: "-5", want: last.Add(5 * time.Minute)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextRun(tc.setting, last))
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, ok := range []string{"60", "*/15 * * * *", "@hourly", "@every 90s"} {
		assert.NoError(t, ValidateSchedule(ok), ok)
	}
	for _, bad := range []string{"0", "-1", "every hour", "* * *"} {
		assert.Error(t, ValidateSchedule(bad), bad)
	}
}

func TestWorker_RunsImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemory()
	locker := &fakeLocker{grant: true}
	runs := 0
	w := &Worker{
		Name:     "sync",
		Schedule: "@every 1h",
		Tick:     time.Millisecond,
		Locker:   locker,
		Recorder: store,
		Job: func(ctx context.Context) error {
			runs++
			cancel()
			return nil
		},
	}

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)

	job, ok := store.ScheduledJob("sync")
	require.True(t, ok)
	assert.Equal(t, 1, job.LastSuccess)
}

func TestWorker_RunOnce(t *testing.T) {
	tests := map[string]struct {
		locker   *fakeLocker
		jobErr   error
		wantRan  bool
		wantRow  bool
		wantSucc int
	}{
		"no locker":          {wantRan: true, wantRow: true, wantSucc: 1},
		"lock granted":       {locker: &fakeLocker{grant: true}, wantRan: true, wantRow: true, wantSucc: 1},
		"lock held":          {locker: &fakeLocker{grant: false}},
		"lock error":         {locker: &fakeLocker{err: errors.New("conn reset")}},
		"job error recorded": {jobErr: errors.New("upstream down"), wantRan: true, wantRow: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemory()
			called := false
			w := &Worker{
				Name:     "sync",
				Schedule: "60",
				Recorder: store,
				Job: func(ctx context.Context) error {
					called = true
					return tc.jobErr
				},
			}
			if tc.locker != nil {
				w.Locker = tc.locker
			}

			ran := w.runOnce(context.Background())
			assert.Equal(t, tc.wantRan, ran)
			assert.Equal(t, tc.wantRan, called)

			job, ok := store.ScheduledJob("sync")
			assert.Equal(t, tc.wantRow, ok)
			if ok {
				assert.Equal(t, tc.wantSucc, job.LastSuccess)
				if tc.jobErr != nil {
					assert.Equal(t, tc.jobErr.Error(), job.LastError)
				}
			}
			if tc.locker != nil && tc.locker.acquired > 0 {
				assert.Equal(t, tc.locker.acquired, tc.locker.released)
			}
		})
	}
}

func TestWorker_RejectsBadConfig(t *testing.T) {
	err := (&Worker{Schedule: "60"}).Run(context.Background())
	require.ErrorContains(t, err, "no job")

	err = (&Worker{Schedule: "nope", Job: func(context.Context) error { return nil }}).Run(context.Background())
	require.ErrorContains(t, err, "schedule")
}
