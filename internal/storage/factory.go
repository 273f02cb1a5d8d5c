package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/bher20/fuelsync/internal/awsconf"
	"github.com/bher20/fuelsync/internal/migrate"
)

// Config controls how the storage backend is opened.
type Config struct {
	Driver string
	DSN    string
	Tables Tables
	AWS    awsconf.Options
}

// Drivers lists the accepted values of Config.Driver.
var Drivers = []string{"memory", "sqlite", "postgres", "postgrespool", "dynamodb"}

// Open constructs a Storage based on the given configuration.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	drv := cfg.Driver
	if drv == "" {
		drv = "memory"
	}
	if cfg.Tables.Stations == "" || cfg.Tables.Prices == "" {
		return nil, fmt.Errorf("storage: both table names are required")
	}
	switch drv {
	case "memory":
		slog.Info("storage: using in-memory backend")
		return NewMemory(), nil

	case "sqlite", "postgres":
		slog.Info("storage: using gorm", "driver", drv)
		st, err := NewGormStorage(drv, cfg.DSN, cfg.Tables)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("storage migrate: %w", err)
		}
		return st, nil

	case "postgrespool":
		slog.Info("storage: using pgxpool")
		if err := migrate.Up(ctx, "postgrespool", cfg.DSN, migrate.Tables(cfg.Tables)); err != nil {
			return nil, fmt.Errorf("storage migrate: %w", err)
		}
		return OpenPostgresPool(ctx, cfg.DSN, cfg.Tables)

	case "dynamodb":
		slog.Info("storage: using dynamodb", "stations", cfg.Tables.Stations, "prices", cfg.Tables.Prices)
		awsCfg, err := awsconf.Load(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = cfg.AWS.BaseEndpoint()
		})
		return NewDynamoStorage(client, cfg.Tables), nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", drv)
	}
}
