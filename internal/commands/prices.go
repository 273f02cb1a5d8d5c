package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bher20/fuelsync/internal/storage"
)

type priceView struct {
	StationID string          `json:"station_id"`
	Timestamp string          `json:"timestamp"`
	Fuels     json.RawMessage `json:"fuels"`
}

func toView(p storage.PriceSnapshot) priceView {
	return priceView{StationID: p.StationID, Timestamp: p.Timestamp, Fuels: rawOrNull(p.Fuels)}
}

func (a *App) newPricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Query stored price snapshots",
	}

	var at string
	latest := &cobra.Command{
		Use:   "latest STATION_ID",
		Short: "Print the most recent snapshot at or before --at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open(cmd.Context(), a.cfg.StorageConfig())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			bound := at
			if bound == "" {
				bound = time.Now().UTC().Format(a.cfg.TimestampLayout())
			}
			snap, err := store.LatestPriceSnapshot(cmd.Context(), args[0], bound)
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no price snapshot for station %s at or before %s", args[0], bound)
			}
			return writeJSON(cmd, toView(*snap))
		},
	}
	latest.Flags().StringVar(&at, "at", "", `upper bound timestamp, "YYYY-MM-DD HH:MM:SS" (default now)`)

	history := &cobra.Command{
		Use:   "history STATION_ID",
		Short: "Print every snapshot of a station, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open(cmd.Context(), a.cfg.StorageConfig())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			list, err := store.ListPriceSnapshots(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			views := make([]priceView, 0, len(list))
			for _, p := range list {
				views = append(views, toView(p))
			}
			return writeJSON(cmd, views)
		},
	}

	cmd.AddCommand(latest, history)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
