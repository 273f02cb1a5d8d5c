package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db     *gorm.DB
	tables Tables
}

func NewGormStorage(driver, dsn string, tables Tables) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	switch driver {
	case "postgres":
		gormDialector = postgres.Open(dsn)
	case "sqlite":
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db, tables: tables}, nil
}

// Migrate creates the station, price and job tables if they are missing.
// Existing rows are never altered.
func (s *GormStorage) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Table(s.tables.Stations).AutoMigrate(&Station{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.tables.Stations, err)
	}
	if err := db.Table(s.tables.Prices).AutoMigrate(&PriceSnapshot{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.tables.Prices, err)
	}
	return db.AutoMigrate(&ScheduledJob{})
}

// Stations

func (s *GormStorage) CreateStation(ctx context.Context, st Station) (CreateResult, error) {
	res := s.db.WithContext(ctx).Table(s.tables.Stations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&st)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func (s *GormStorage) GetStation(ctx context.Context, id string) (*Station, error) {
	var st Station
	result := s.db.WithContext(ctx).Table(s.tables.Stations).Take(&st, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &st, nil
}

func (s *GormStorage) TouchStation(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Table(s.tables.Stations).
		Where("id = ?", id).
		Update("updated_at", at).Error
}

// Price history

func (s *GormStorage) PutPriceSnapshot(ctx context.Context, snap PriceSnapshot) error {
	return s.db.WithContext(ctx).Table(s.tables.Prices).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "station_id"}, {Name: "taken_at"}},
		DoUpdates: clause.AssignmentColumns([]string{"fuels"}),
	}).Create(&snap).Error
}

func (s *GormStorage) LatestPriceSnapshot(ctx context.Context, stationID, atOrBefore string) (*PriceSnapshot, error) {
	var snap PriceSnapshot
	result := s.db.WithContext(ctx).Table(s.tables.Prices).
		Where("station_id = ? AND taken_at <= ?", stationID, atOrBefore).
		Order("taken_at desc").
		Limit(1).
		Take(&snap)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &snap, nil
}

func (s *GormStorage) ListPriceSnapshots(ctx context.Context, stationID string) ([]PriceSnapshot, error) {
	var snaps []PriceSnapshot
	result := s.db.WithContext(ctx).Table(s.tables.Prices).
		Where("station_id = ?", stationID).
		Order("taken_at asc").
		Find(&snaps)
	return snaps, result.Error
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Scheduled jobs

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}
