package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Reporter receives the summary of every pass. Delivery channels (mail,
// chat) plug in here.
type Reporter interface {
	Report(ctx context.Context, stats Stats) error
}

// LogReporter writes the summary to the log.
type LogReporter struct {
	log *slog.Logger
}

func NewLogReporter(l *slog.Logger) *LogReporter {
	if l == nil {
		l = slog.Default()
	}
	return &LogReporter{log: l}
}

func (r *LogReporter) Report(ctx context.Context, stats Stats) error {
	r.log.Info("sync: completed",
		"run_id", stats.RunID,
		"directory", stats.Directory,
		"filtered", stats.Filtered,
		"created", stats.Created,
		"updated", stats.Updated,
		"failed", stats.Failed,
		"snapshot_failures", stats.SnapshotFailures,
		"minutes", int(stats.Duration.Minutes()),
		"duration", stats.Duration.String(),
	)
	return nil
}

// MultiReporter fans a summary out to several reporters and returns the
// first error.
type MultiReporter []Reporter

func (m MultiReporter) Report(ctx context.Context, stats Stats) error {
	var first error
	for _, r := range m {
		if err := r.Report(ctx, stats); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SummaryReporter prints the run counts to w whatever the log level is.
type SummaryReporter struct {
	w io.Writer
}

func NewSummaryReporter(w io.Writer) *SummaryReporter {
	return &SummaryReporter{w: w}
}

func (r *SummaryReporter) Report(ctx context.Context, stats Stats) error {
	_, err := fmt.Fprintf(r.w,
		"run %s: directory=%d filtered=%d created=%d updated=%d failed=%d snapshot_failures=%d minutes=%d\n",
		stats.RunID, stats.Directory, stats.Filtered, stats.Created, stats.Updated,
		stats.Failed, stats.SnapshotFailures, int(stats.Duration.Minutes()))
	return err
}
