// Package config resolves the immutable runtime configuration from flags,
// environment, an optional config file and an optional SSM parameter path.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bher20/fuelsync/internal/awsconf"
	"github.com/bher20/fuelsync/internal/storage"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FUELSYNC"

type Source struct {
	ListEndpoint   string `mapstructure:"list_endpoint"`
	DetailEndpoint string `mapstructure:"detail_endpoint"`
}

type Tables struct {
	Stations string `mapstructure:"stations"`
	Prices   string `mapstructure:"prices"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Sync struct {
	// Workers bounds concurrent detail fetches and upserts; 1 is sequential.
	Workers int `mapstructure:"workers"`
	// TimestampPrecision is "second" or "millisecond".
	TimestampPrecision string `mapstructure:"timestamp_precision"`
	TouchUpdatedAt     bool   `mapstructure:"touch_updated_at"`
}

type HTTP struct {
	// Timeout of zero means no client-side timeout.
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

type Params struct {
	// Path is an SSM parameter path such as /fuelsync/. Empty disables the
	// remote source.
	Path string `mapstructure:"path"`
}

type Metrics struct {
	Addr        string `mapstructure:"addr"`
	Pushgateway string `mapstructure:"pushgateway"`
}

type Worker struct {
	// Schedule is integer seconds or a cron expression.
	Schedule string        `mapstructure:"schedule"`
	LockKey  int64         `mapstructure:"lock_key"`
	Tick     time.Duration `mapstructure:"tick"`
}

type Config struct {
	Source  Source          `mapstructure:"source"`
	Tables  Tables          `mapstructure:"tables"`
	Store   Store           `mapstructure:"store"`
	Sync    Sync            `mapstructure:"sync"`
	HTTP    HTTP            `mapstructure:"http"`
	Params  Params          `mapstructure:"params"`
	AWS     awsconf.Options `mapstructure:"aws"`
	Metrics Metrics         `mapstructure:"metrics"`
	Worker  Worker          `mapstructure:"worker"`
}

const (
	PrecisionSecond      = "second"
	PrecisionMillisecond = "millisecond"
)

// envAliases lists the legacy variable names accepted next to FUELSYNC_*.
var envAliases = map[string][]string{
	"source.list_endpoint":   {"DBEG_ENDPOINT_1"},
	"source.detail_endpoint": {"DBEG_ENDPOINT_2"},
	"tables.stations":        {"AWS_DYNAMO_TABLE"},
	"tables.prices":          {"AWS_DYNAMO_TABLE_PRICES"},
	"aws.region":             {"AWS_REGION"},
	"aws.access_key_id":      {"AWS_ACCESS_KEY"},
	"aws.secret_access_key":  {"AWS_ACCESS_KEY_SECRET"},
}

var defaults = map[string]any{
	"source.list_endpoint":      "",
	"source.detail_endpoint":    "",
	"tables.stations":           "stations",
	"tables.prices":             "station_prices",
	"store.driver":              "memory",
	"store.dsn":                 "",
	"sync.workers":              1,
	"sync.timestamp_precision":  PrecisionSecond,
	"sync.touch_updated_at":     false,
	"http.timeout":              time.Duration(0),
	"http.insecure_skip_verify": false,
	"params.path":               "",
	"aws.region":                "",
	"aws.profile":               "",
	"aws.access_key_id":         "",
	"aws.secret_access_key":     "",
	"aws.session_token":         "",
	"aws.endpoint":              "",
	"metrics.addr":              "",
	"metrics.pushgateway":       "",
	"worker.schedule":           "@every 1h",
	"worker.lock_key":           int64(4242),
	"worker.tick":               10 * time.Second,
}

// SetDefaults registers every known key with its default and binds
// FUELSYNC_* variables plus the legacy aliases.
func SetDefaults(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		envs := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		envs = append(envs, envAliases[key]...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("could not bind environment variable: %w", err)
		}
	}
	return nil
}

// ReadConfigFile loads path, or searches for fuelsync.yaml in the usual
// places when path is empty. A missing file is not an error.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fuelsync")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fuelsync")
	}
	if err := v.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if errors.As(err, &e) {
			slog.Info("No configuration file. Using defaults, env variables and flags.")
			return nil
		}
		return fmt.Errorf("invalid configuration file: %w", err)
	}
	slog.Info("Using configuration file", "file", v.ConfigFileUsed())
	return nil
}

type loadOptions struct {
	ssm ParameterClient
}

type Option func(*loadOptions)

// WithParameterClient replaces the SSM client built from the AWS settings.
func WithParameterClient(c ParameterClient) Option {
	return func(o *loadOptions) { o.ssm = c }
}

// Load builds the Config from v and, when params.path is set, overlays the
// values stored under that SSM path. Any failure is returned; callers treat
// it as fatal.
func Load(ctx context.Context, v *viper.Viper, opts ...Option) (Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}

	if cfg.Params.Path != "" {
		client := o.ssm
		if client == nil {
			var err error
			if client, err = newSSMClient(ctx, cfg.AWS); err != nil {
				return Config{}, err
			}
		}
		params, err := fetchParameters(ctx, client, cfg.Params.Path)
		if err != nil {
			return Config{}, err
		}
		cfg.applyParameters(params)
	}
	return cfg, nil
}

// Validate reports missing or malformed values needed by a sync pass.
func (c Config) Validate() error {
	var errs []error
	if c.Source.ListEndpoint == "" {
		errs = append(errs, errors.New("source.list_endpoint is required"))
	}
	if c.Source.DetailEndpoint == "" {
		errs = append(errs, errors.New("source.detail_endpoint is required"))
	}
	if c.Tables.Stations == "" {
		errs = append(errs, errors.New("tables.stations is required"))
	}
	if c.Tables.Prices == "" {
		errs = append(errs, errors.New("tables.prices is required"))
	}
	if c.Sync.Workers < 0 {
		errs = append(errs, fmt.Errorf("sync.workers must be >= 0, got %d", c.Sync.Workers))
	}
	switch c.Sync.TimestampPrecision {
	case PrecisionSecond, PrecisionMillisecond, "":
	default:
		errs = append(errs, fmt.Errorf("sync.timestamp_precision must be %q or %q, got %q",
			PrecisionSecond, PrecisionMillisecond, c.Sync.TimestampPrecision))
	}
	return errors.Join(errs...)
}

// TimestampLayout returns the price-history sort key layout.
func (c Config) TimestampLayout() string {
	if c.Sync.TimestampPrecision == PrecisionMillisecond {
		return storage.TimestampLayoutMillisecond
	}
	return storage.TimestampLayoutSecond
}

// StorageConfig maps the store and table settings to storage.Config.
func (c Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver: c.Store.Driver,
		DSN:    c.Store.DSN,
		Tables: storage.Tables{Stations: c.Tables.Stations, Prices: c.Tables.Prices},
		AWS:    c.AWS,
	}
}
