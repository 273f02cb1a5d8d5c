package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bher20/fuelsync/internal/metrics"
	"github.com/bher20/fuelsync/internal/stations"
	"github.com/bher20/fuelsync/internal/storage"
)

// Fetcher is the two-phase station source.
type Fetcher interface {
	FetchDirectory(ctx context.Context, listURL string) []stations.StationRef
	FetchDetails(ctx context.Context, detailURL string, refs []stations.StationRef) []storage.Station
}

// Stats summarizes one pass.
type Stats struct {
	RunID            string
	Directory        int
	Filtered         int
	Created          int
	Updated          int
	Failed           int
	SnapshotFailures int
	Errors           []*UpsertError
	Duration         time.Duration
}

// Service sequences directory fetch, detail fetch and upserts.
type Service struct {
	fetcher   Fetcher
	upserter  *Upserter
	listURL   string
	detailURL string
	workers   int
	reporter  Reporter
	log       *slog.Logger
}

type ServiceConfig struct {
	ListURL   string
	DetailURL string
	// Workers bounds concurrent upserts; 0 or 1 is sequential.
	Workers  int
	Reporter Reporter
	Logger   *slog.Logger
}

func NewService(fetcher Fetcher, upserter *Upserter, cfg ServiceConfig) *Service {
	s := &Service{
		fetcher:   fetcher,
		upserter:  upserter,
		listURL:   cfg.ListURL,
		detailURL: cfg.DetailURL,
		workers:   cfg.Workers,
		reporter:  cfg.Reporter,
		log:       cfg.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.reporter == nil {
		s.reporter = NewLogReporter(s.log)
	}
	return s
}

type outcome struct {
	res            storage.CreateResult
	snapshotFailed bool
	err            error
}

// Run performs one full pass. Per-station failures are counted, never
// returned.
func (s *Service) Run(ctx context.Context) Stats {
	started := time.Now()
	stats := Stats{RunID: uuid.NewString()}
	log := s.log.With("run_id", stats.RunID)

	refs := s.fetcher.FetchDirectory(ctx, s.listURL)
	stats.Directory = len(refs)
	log.Info("sync: directory", "count", stats.Directory)

	list := s.fetcher.FetchDetails(ctx, s.detailURL, refs)
	stats.Filtered = len(list)
	log.Info("sync: filtered", "count", stats.Filtered)

	outcomes := s.upsertAll(ctx, list)
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			stats.Failed++
			var ue *UpsertError
			if errors.As(o.err, &ue) {
				stats.Errors = append(stats.Errors, ue)
			}
			metrics.StationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			log.Error("sync: upsert failed", "id", list[i].ID, "error", o.err)
		case o.res == storage.Created:
			stats.Created++
			metrics.StationsTotal.WithLabelValues(metrics.OutcomeCreated).Inc()
			log.Debug("sync: station created", "id", list[i].ID)
		case o.res == storage.AlreadyExists:
			stats.Updated++
			metrics.StationsTotal.WithLabelValues(metrics.OutcomeUpdated).Inc()
			log.Debug("sync: price snapshot added", "id", list[i].ID)
		}
		if o.snapshotFailed {
			stats.SnapshotFailures++
		}
	}

	stats.Duration = time.Since(started)
	if err := s.reporter.Report(ctx, stats); err != nil {
		log.Warn("sync: report failed", "error", err)
	}
	return stats
}

// upsertAll returns one outcome per station, in input order.
func (s *Service) upsertAll(ctx context.Context, list []storage.Station) []outcome {
	outcomes := make([]outcome, len(list))
	run := func(i int) {
		if err := ctx.Err(); err != nil {
			outcomes[i] = outcome{err: &UpsertError{StationID: list[i].ID, Response: err.Error(), Err: err}}
			return
		}
		res, snapFailed, err := s.upserter.upsert(ctx, list[i])
		outcomes[i] = outcome{res: res, snapshotFailed: snapFailed, err: err}
	}

	if s.workers <= 1 {
		for i := range list {
			run(i)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range list {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
