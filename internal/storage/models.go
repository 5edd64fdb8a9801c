package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Watcher categories stored on target and alert rows.
const (
	CategoryPortfolio = "portfolio"
	CategoryBase      = "base"
	CategoryToken     = "token"
)

// TargetRow is the persisted configuration and state of one watch target.
type TargetRow struct {
	ID              string
	Category        string
	DisplayName     string
	MinorPct        decimal.Decimal
	MajorPct        decimal.Decimal
	CriticalPct     decimal.Decimal
	AlertMinor      bool
	AlertMajor      bool
	AlertCritical   bool
	IntervalSeconds int
	LastValue       decimal.Decimal
	LastSampleAt    *time.Time
	Latched         bool
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AlertRecord captures an emitted alert for auditing. Rows are append-only;
// only the Delivered flag is ever updated.
type AlertRecord struct {
	ID        int64
	Category  string
	TargetID  string
	Severity  string
	Message   string
	Value     decimal.Decimal
	DeltaPct  decimal.Decimal
	Delivered bool
	CreatedAt time.Time
}

// HistoryPoint is one persisted sample for a target.
type HistoryPoint struct {
	ID        int64
	TargetID  string
	Label     string
	Value     decimal.Decimal
	SampledAt time.Time
}
