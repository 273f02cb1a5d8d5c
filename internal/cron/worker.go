package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bher20/fuelsync/internal/metrics"
	"github.com/bher20/fuelsync/internal/storage"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Worker runs Job on a schedule. When Locker is set, a run only proceeds on
// the replica that wins the advisory lock.
type Worker struct {
	Name string
	// Schedule is integer seconds or a cron expression (including @every).
	Schedule string
	// Tick is how often the control loop wakes up to check for due runs.
	Tick     time.Duration
	LockKey  int64
	Locker   storage.Locker
	Recorder storage.JobRecorder
	Job      Job
	Log      *slog.Logger

	now func() time.Time
}

// ValidateSchedule reports whether setting is usable by NextRun without
// falling back to the default interval.
func ValidateSchedule(setting string) error {
	if v, err := strconv.Atoi(setting); err == nil {
		if v <= 0 {
			return fmt.Errorf("schedule %q: seconds must be positive", setting)
		}
		return nil
	}
	if _, err := cron.ParseStandard(setting); err != nil {
		return fmt.Errorf("schedule %q: %w", setting, err)
	}
	return nil
}

// NextRun computes the next run after lastRun. Unparseable settings fall back
// to five minutes.
func NextRun(setting string, lastRun time.Time) time.Time {
	// Try integer seconds
	if v, err := strconv.Atoi(setting); err == nil && v > 0 {
		return lastRun.Add(time.Duration(v) * time.Second)
	}
	// Try cron expression
	if sched, err := cron.ParseStandard(setting); err == nil {
		return sched.Next(lastRun)
	}
	return lastRun.Add(5 * time.Minute)
}

func (w *Worker) clock() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now()
}

func (w *Worker) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log
	}
	return slog.Default()
}

// Run executes the job immediately and then on every due tick until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Job == nil {
		return errors.New("cron: no job configured")
	}
	if err := ValidateSchedule(w.Schedule); err != nil {
		return err
	}
	tick := w.Tick
	if tick <= 0 {
		tick = 10 * time.Second
	}

	// Control loop ticker (check run time)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log := w.logger()
	log.Info("cron: worker starting", "job", w.Name, "schedule", w.Schedule, "locking", w.Locker != nil)

	// If starting fresh, run immediately, then schedule next
	nextRun := w.clock()
	for {
		if !w.clock().Before(nextRun) {
			w.runOnce(ctx)
			nextRun = NextRun(w.Schedule, w.clock())
			log.Debug("cron: next run scheduled", "job", w.Name, "at", nextRun)
		}

		select {
		case <-ctx.Done():
			log.Info("cron: worker stopping", "job", w.Name)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runOnce takes the lock if configured, runs the job and records the
// outcome. It reports whether the job actually ran.
func (w *Worker) runOnce(ctx context.Context) bool {
	log := w.logger()
	started := w.clock()

	if w.Locker != nil {
		ok, err := w.Locker.AcquireAdvisoryLock(ctx, w.LockKey)
		if err != nil {
			log.Error("cron: acquire advisory lock failed", "job", w.Name, "error", err)
			metrics.UpdateJobMetrics(w.Name, started, err)
			return false
		}
		if !ok {
			// Another worker is running this job.
			log.Info("cron: advisory lock held by another worker, skipping run", "job", w.Name)
			return false
		}
		defer func() {
			if _, err := w.Locker.ReleaseAdvisoryLock(context.WithoutCancel(ctx), w.LockKey); err != nil {
				log.Error("cron: release advisory lock failed", "job", w.Name, "error", err)
			}
		}()
	}

	runErr := w.Job(ctx)

	// Record metrics & job row.
	metrics.UpdateJobMetrics(w.Name, started, runErr)
	dur := w.clock().Sub(started)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if w.Recorder != nil {
		if err := w.Recorder.UpdateScheduledJob(context.WithoutCancel(ctx), w.Name, started, dur, runErr == nil, errMsg); err != nil {
			log.Error("cron: update scheduled_jobs failed", "job", w.Name, "error", err)
		}
	}

	if runErr != nil {
		log.Error("cron: job completed with error", "job", w.Name, "error", runErr, "duration", dur)
	} else {
		log.Info("cron: job completed successfully", "job", w.Name, "duration", dur)
	}
	return true
}
