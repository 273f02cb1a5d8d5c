package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bher20/fuelsync/internal/storage"
)

type stationView struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Brand          string          `json:"brand"`
	Usage          string          `json:"usage_type"`
	Address        json.RawMessage `json:"address"`
	OperatingHours json.RawMessage `json:"operating_hours"`
	Services       json.RawMessage `json:"services"`
	PaymentMethods json.RawMessage `json:"payment_methods"`
	Fuels          json.RawMessage `json:"fuels"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

func rawOrNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}

func toStationView(st storage.Station) stationView {
	return stationView{
		ID:             st.ID,
		Name:           st.Name,
		Brand:          st.Brand,
		Usage:          st.Usage,
		Address:        rawOrNull(st.Address),
		OperatingHours: rawOrNull(st.OperatingHours),
		Services:       rawOrNull(st.Services),
		PaymentMethods: rawOrNull(st.PaymentMethods),
		Fuels:          rawOrNull(st.Fuels),
		CreatedAt:      st.CreatedAt.UTC().Format(storage.TimestampLayoutSecond),
		UpdatedAt:      st.UpdatedAt.UTC().Format(storage.TimestampLayoutSecond),
	}
}

func (a *App) newStationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "Query stored station profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get STATION_ID",
		Short: "Print the stored profile of a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open(cmd.Context(), a.cfg.StorageConfig())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			st, err := store.GetStation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("station %s not found", args[0])
			}
			return writeJSON(cmd, toStationView(*st))
		},
	})
	return cmd
}
