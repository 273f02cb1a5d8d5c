package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bher20/fuelsync/internal/metrics"
)

type PostgresPoolStorage struct {
	pool     *pgxpool.Pool
	stations string
	prices   string

	// Advisory locks are session scoped, so each held key pins the
	// connection it was taken on until release.
	mu    sync.Mutex
	locks map[int64]*pgxpool.Conn
}

func OpenPostgresPool(ctx context.Context, dsn string, tables Tables) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/fuelsync?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresPoolStorage{
		pool:     pool,
		stations: pgx.Identifier{tables.Stations}.Sanitize(),
		prices:   pgx.Identifier{tables.Prices}.Sanitize(),
		locks:    make(map[int64]*pgxpool.Conn),
	}, nil
}

func (s *PostgresPoolStorage) Close() error {
	s.mu.Lock()
	for key, conn := range s.locks {
		conn.Release()
		delete(s.locks, key)
	}
	s.mu.Unlock()
	s.pool.Close()
	return nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ReportPoolMetrics publishes the pool statistics as gauges.
func (s *PostgresPoolStorage) ReportPoolMetrics() {
	stat := s.pool.Stat()
	metrics.UpdateDBPoolMetrics("postgrespool",
		float64(stat.TotalConns()),
		float64(stat.IdleConns()),
		float64(stat.AcquiredConns()),
		stat.AcquireCount(),
	)
}

func (s *PostgresPoolStorage) CreateStation(ctx context.Context, st Station) (CreateResult, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO `+s.stations+` (
            id, name, brand, usage_type, address, operating_hours, services,
            payment_methods, fuels, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO NOTHING`,
		st.ID, st.Name, st.Brand, st.Usage,
		jsonArg(st.Address), jsonArg(st.OperatingHours), jsonArg(st.Services),
		jsonArg(st.PaymentMethods), jsonArg(st.Fuels),
		st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func (s *PostgresPoolStorage) GetStation(ctx context.Context, id string) (*Station, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, brand, usage_type, address, operating_hours,
            services, payment_methods, fuels, created_at, updated_at
        FROM `+s.stations+` WHERE id=$1`, id)
	var (
		st                                  Station
		address, hours, services, pay, fuel []byte
	)
	err := row.Scan(&st.ID, &st.Name, &st.Brand, &st.Usage, &address, &hours,
		&services, &pay, &fuel, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.Address, st.OperatingHours, st.Services, st.PaymentMethods, st.Fuels = address, hours, services, pay, fuel
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

func (s *PostgresPoolStorage) TouchStation(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE `+s.stations+` SET updated_at=$2 WHERE id=$1`, id, at)
	return err
}

func (s *PostgresPoolStorage) PutPriceSnapshot(ctx context.Context, snap PriceSnapshot) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO `+s.prices+` (station_id, taken_at, fuels)
        VALUES ($1, $2, $3)
        ON CONFLICT (station_id, taken_at) DO UPDATE SET fuels = EXCLUDED.fuels`,
		snap.StationID, snap.Timestamp, jsonArg(snap.Fuels))
	return err
}

func (s *PostgresPoolStorage) LatestPriceSnapshot(ctx context.Context, stationID, atOrBefore string) (*PriceSnapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT station_id, taken_at, fuels FROM `+s.prices+`
        WHERE station_id=$1 AND taken_at <= $2
        ORDER BY taken_at DESC LIMIT 1`, stationID, atOrBefore)
	var (
		snap  PriceSnapshot
		fuels []byte
	)
	if err := row.Scan(&snap.StationID, &snap.Timestamp, &fuels); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	snap.Fuels = fuels
	return &snap, nil
}

func (s *PostgresPoolStorage) ListPriceSnapshots(ctx context.Context, stationID string) ([]PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT station_id, taken_at, fuels FROM `+s.prices+`
        WHERE station_id=$1 ORDER BY taken_at ASC`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceSnapshot
	for rows.Next() {
		var (
			snap  PriceSnapshot
			fuels []byte
		)
		if err := rows.Scan(&snap.StationID, &snap.Timestamp, &fuels); err != nil {
			return nil, err
		}
		snap.Fuels = fuels
		out = append(out, snap)
	}
	return out, rows.Err()
}

// AcquireAdvisoryLock tries to take a session-level advisory lock on a
// dedicated connection. It returns false when another session holds the key.
func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return true, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return false, err
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	s.locks[key] = conn
	return true, nil
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, held := s.locks[key]
	if !held {
		return false, nil
	}
	delete(s.locks, key)
	defer conn.Release()

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok); err != nil {
		// The session may still hold the lock; drop the connection so the
		// server releases it.
		_ = conn.Conn().Close(ctx)
		return false, err
	}
	return ok, nil
}

func (s *PostgresPoolStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO scheduled_jobs (name, last_run_at, last_duration_ms, last_success, last_error)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (name) DO UPDATE SET
            last_run_at = EXCLUDED.last_run_at,
            last_duration_ms = EXCLUDED.last_duration_ms,
            last_success = EXCLUDED.last_success,
            last_error = EXCLUDED.last_error`,
		name, started, dur.Milliseconds(), status, errMsg)
	return err
}

// jsonArg maps an absent document to SQL NULL.
func jsonArg(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
