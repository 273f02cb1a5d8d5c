package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"regexp"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var embedMigrations embed.FS

// Tables holds the configurable table names substituted into the migrations.
type Tables struct {
	Stations string
	Prices   string
}

// Env vars read by the ENVSUB blocks of the embedded migrations.
const (
	EnvStationsTable = "FUELSYNC_TABLES_STATIONS"
	EnvPricesTable   = "FUELSYNC_TABLES_PRICES"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]{0,62}$`)

func (t Tables) export() error {
	for env, name := range map[string]string{EnvStationsTable: t.Stations, EnvPricesTable: t.Prices} {
		if name == "" {
			continue
		}
		if !tableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
		if err := os.Setenv(env, name); err != nil {
			return err
		}
	}
	return nil
}

func configureGoose(driver string) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetTableName("schema_migrations")

	if driver == "sqlite" || driver == "sqlite3" {
		return goose.SetDialect("sqlite3")
	}
	if driver == "postgres" || driver == "pgx" || driver == "postgrespool" {
		return goose.SetDialect("postgres")
	}
	return fmt.Errorf("unsupported driver for goose: %s", driver)
}

func getMigrationDir(driver string) string {
	if driver == "postgres" || driver == "pgx" || driver == "postgrespool" {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

func openDB(driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if dsn == "" {
		dsn = "fuelsync.db"
	}

	// Map custom driver names to stdlib drivers
	switch driver {
	case "postgrespool", "postgres":
		driver = "pgx"
	case "sqlite3":
		driver = "sqlite"
	}

	return sql.Open(driver, dsn)
}

func prepare(driver, dsn string, tables Tables) (*sql.DB, string, error) {
	if err := configureGoose(driver); err != nil {
		return nil, "", err
	}
	if err := tables.export(); err != nil {
		return nil, "", err
	}
	db, err := openDB(driver, dsn)
	if err != nil {
		return nil, "", err
	}
	return db, getMigrationDir(driver), nil
}

// Up applies every pending migration.
func Up(ctx context.Context, driver, dsn string, tables Tables) error {
	db, dir, err := prepare(driver, dsn, tables)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.UpContext(ctx, db, dir)
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, driver, dsn string, tables Tables) error {
	db, dir, err := prepare(driver, dsn, tables)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.DownContext(ctx, db, dir)
}

// Status logs the applied state of every migration.
func Status(ctx context.Context, driver, dsn string, tables Tables) error {
	db, dir, err := prepare(driver, dsn, tables)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.StatusContext(ctx, db, dir)
}

// Version returns the current schema version.
func Version(ctx context.Context, driver, dsn string) (int64, error) {
	db, _, err := prepare(driver, dsn, Tables{})
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return goose.GetDBVersionContext(ctx, db)
}
