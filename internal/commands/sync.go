package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bher20/fuelsync/internal/metrics"
	"github.com/bher20/fuelsync/internal/pipeline"
	"github.com/bher20/fuelsync/internal/stations"
	"github.com/bher20/fuelsync/internal/storage"
)

// pushReporter sends the registry to a Pushgateway once a pass is over.
type pushReporter struct {
	gateway string
	job     string
}

func (r pushReporter) Report(ctx context.Context, stats pipeline.Stats) error {
	return metrics.Push(ctx, r.gateway, r.job, stats.RunID)
}

func (a *App) newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronisation pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), a.cfg.StorageConfig())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			stats := a.newService(store, "fuelsync_sync", cmd.OutOrStdout()).Run(cmd.Context())
			if stats.Failed > 0 {
				slog.Warn("sync finished with failures", "failed", stats.Failed, "run_id", stats.RunID)
			}
			return nil
		},
	}
	cmd.Flags().Int("workers", 1, "concurrent detail fetches and upserts")
	a.bindFlag(cmd, "sync.workers", "workers")
	return cmd
}

// newService assembles one pass from the resolved configuration. The run
// summary always goes to out; the log gets it at INFO.
func (a *App) newService(store storage.Storage, job string, out io.Writer) *pipeline.Service {
	cfg := a.cfg
	log := slog.Default()

	client := stations.NewClient(
		stations.NewHTTPClient(cfg.HTTP.Timeout, cfg.HTTP.InsecureSkipVerify),
		stations.WithWorkers(cfg.Sync.Workers),
		stations.WithLogger(log),
	)
	upserter := pipeline.NewUpserter(store,
		pipeline.WithTimestampLayout(cfg.TimestampLayout()),
		pipeline.WithTouchUpdatedAt(cfg.Sync.TouchUpdatedAt),
		pipeline.WithUpserterLogger(log),
	)

	reporters := pipeline.MultiReporter{pipeline.NewSummaryReporter(out), pipeline.NewLogReporter(log)}
	if cfg.Metrics.Pushgateway != "" {
		reporters = append(reporters, pushReporter{gateway: cfg.Metrics.Pushgateway, job: job})
	}

	return pipeline.NewService(client, upserter, pipeline.ServiceConfig{
		ListURL:   cfg.Source.ListEndpoint,
		DetailURL: cfg.Source.DetailEndpoint,
		Workers:   cfg.Sync.Workers,
		Reporter:  reporters,
		Logger:    log,
	})
}
