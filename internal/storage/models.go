package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Price-history sort key layouts. Both sort lexicographically in time order.
const (
	TimestampLayoutSecond      = "2006-01-02 15:04:05"
	TimestampLayoutMillisecond = "2006-01-02 15:04:05.000"
)

// Station is the latest known profile of a fuel station.
//
// Address, OperatingHours, Services, PaymentMethods and Fuels are passed
// through verbatim from the upstream detail document.
type Station struct {
	ID             string         `json:"id" gorm:"primaryKey;column:id"`
	Name           string         `json:"name" gorm:"column:name;not null"`
	Brand          string         `json:"brand,omitempty" gorm:"column:brand;not null;default:''"`
	Usage          string         `json:"usageType,omitempty" gorm:"column:usage_type;not null;default:''"`
	Address        datatypes.JSON `json:"address,omitempty" gorm:"column:address"`
	OperatingHours datatypes.JSON `json:"operatingHours,omitempty" gorm:"column:operating_hours"`
	Services       datatypes.JSON `json:"services,omitempty" gorm:"column:services"`
	PaymentMethods datatypes.JSON `json:"paymentMethods,omitempty" gorm:"column:payment_methods"`
	Fuels          datatypes.JSON `json:"fuels,omitempty" gorm:"column:fuels"`
	CreatedAt      time.Time      `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" gorm:"column:updated_at"`
}

// PriceSnapshot is an immutable price-history row.
type PriceSnapshot struct {
	StationID string         `json:"stationId" gorm:"primaryKey;column:station_id"`
	Timestamp string         `json:"timestamp" gorm:"primaryKey;column:taken_at"`
	Fuels     datatypes.JSON `json:"fuels" gorm:"column:fuels"`
}

// ScheduledJob records the last run of a worker job.
type ScheduledJob struct {
	Name           string    `gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `gorm:"column:last_run_at"`
	LastDurationMs int64     `gorm:"column:last_duration_ms"`
	LastSuccess    int       `gorm:"column:last_success"`
	LastError      string    `gorm:"column:last_error"`
}

// Tables names the two tables a backend writes to.
type Tables struct {
	Stations string
	Prices   string
}
