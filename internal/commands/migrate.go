package commands

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bher20/fuelsync/internal/migrate"
)

var sqlDrivers = []string{"sqlite", "postgres", "postgrespool"}

func (a *App) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema of the sqlite and postgres backends",
	}

	run := func(name, short string, fn func(ctx context.Context, driver, dsn string, tables migrate.Tables) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				drv := a.cfg.Store.Driver
				if !slices.Contains(sqlDrivers, drv) {
					return fmt.Errorf("migrate: store driver %q has no SQL schema", drv)
				}
				return fn(cmd.Context(), drv, a.cfg.Store.DSN, migrate.Tables(a.cfg.Tables))
			},
		}
	}

	cmd.AddCommand(
		run("up", "Apply every pending migration", migrate.Up),
		run("down", "Roll back the most recent migration", migrate.Down),
		run("status", "Print the state of every migration", migrate.Status),
	)
	return cmd
}
