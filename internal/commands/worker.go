package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bher20/fuelsync/internal/cron"
	"github.com/bher20/fuelsync/internal/metrics"
	"github.com/bher20/fuelsync/internal/storage"
)

type poolReporter interface {
	ReportPoolMetrics()
}

func (a *App) newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run synchronisation passes on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := cron.ValidateSchedule(a.cfg.Worker.Schedule); err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), a.cfg.StorageConfig())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			return a.runWorker(cmd.Context(), store, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("schedule", "", "integer seconds or cron expression between passes")
	cmd.Flags().String("metrics-addr", "", "serve /metrics on this address")
	a.bindFlag(cmd, "worker.schedule", "schedule")
	a.bindFlag(cmd, "metrics.addr", "metrics-addr")
	return cmd
}

func (a *App) runWorker(ctx context.Context, store storage.Storage, out io.Writer) error {
	svc := a.newService(store, "fuelsync_worker", out)
	w := &cron.Worker{
		Name:     "sync",
		Schedule: a.cfg.Worker.Schedule,
		Tick:     a.cfg.Worker.Tick,
		LockKey:  a.cfg.Worker.LockKey,
		Job: func(ctx context.Context) error {
			stats := svc.Run(ctx)
			if pr, ok := store.(poolReporter); ok {
				pr.ReportPoolMetrics()
			}
			if stats.Failed > 0 {
				return fmt.Errorf("%d of %d stations failed", stats.Failed, stats.Filtered)
			}
			return nil
		},
	}
	if l, ok := store.(storage.Locker); ok {
		w.Locker = l
	}
	if r, ok := store.(storage.JobRecorder); ok {
		w.Recorder = r
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("metrics: listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
