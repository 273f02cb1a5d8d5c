// Package commands wires the fuelsync command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bher20/fuelsync/internal/config"
)

// App is the fuelsync command tree and its resolved configuration.
type App struct {
	cmd   *cobra.Command
	viper *viper.Viper

	verbosity  int
	jsonLogs   bool
	configPath string
	logOut     io.Writer

	cfg      config.Config
	loadOpts []config.Option
}

// New builds the command tree.
func New(opts ...config.Option) (*App, error) {
	a := &App{
		viper:    viper.New(),
		loadOpts: opts,
		logOut:   os.Stderr,
	}
	if err := config.SetDefaults(a.viper); err != nil {
		return nil, err
	}

	a.cmd = &cobra.Command{
		Use:   "fuelsync",
		Short: "Synchronise fuel stations and prices into a key-value store",
		Long: `fuelsync pulls the public fuel-station directory and each station's detail,
stores every new station once and appends a price snapshot on every pass.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			setSlog(a.logOut, a.verbosity, a.jsonLogs)
			if err := config.ReadConfigFile(a.viper, a.configPath); err != nil {
				return err
			}
			cfg, err := config.Load(cmd.Context(), a.viper, a.loadOpts...)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			a.cfg = cfg
			slog.Debug("got app config", "store", cfg.Store.Driver, "tables", cfg.Tables, "workers", cfg.Sync.Workers)
			return nil
		},
	}
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	flags := a.cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "use a specific configuration file")
	flags.CountVarP(&a.verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	flags.BoolVar(&a.jsonLogs, "json-logs", false, "enable JSON formatted logs")
	flags.String("store-driver", "memory", "storage backend: memory, sqlite, postgres, postgrespool, dynamodb")
	flags.String("store-dsn", "", "storage DSN (sqlite path or postgres URL)")
	flags.String("list-endpoint", "", "station directory URL")
	flags.String("detail-endpoint", "", "station detail URL prefix; the station id is appended")
	flags.String("params-path", "", "SSM parameter path to read settings from")

	for key, flag := range map[string]string{
		"store.driver":           "store-driver",
		"store.dsn":              "store-dsn",
		"source.list_endpoint":   "list-endpoint",
		"source.detail_endpoint": "detail-endpoint",
		"params.path":            "params-path",
	} {
		if err := a.viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	a.cmd.AddCommand(
		a.newSyncCmd(),
		a.newWorkerCmd(),
		a.newMigrateCmd(),
		a.newPricesCmd(),
		a.newStationsCmd(),
	)
	return a, nil
}

// RootCmd returns the root command.
func (a *App) RootCmd() *cobra.Command {
	return a.cmd
}

// UsageError returns if the error is a command parsing or runtime one.
func (a *App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

func (a *App) bindFlag(cmd *cobra.Command, key, flag string) {
	if err := a.viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}
