package watch

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wallet-watch/internal/config"
	"wallet-watch/internal/storage"
	"wallet-watch/internal/tier"
)

// BaseTargetID is the reserved id of the privileged base token target.
const BaseTargetID = "base"

// EnabledTiers gates alert emission per severity tier.
type EnabledTiers struct {
	Minor    bool
	Major    bool
	Critical bool
}

// For reports whether the given tier is enabled.
func (e EnabledTiers) For(t tier.Tier) bool {
	switch t {
	case tier.Minor:
		return e.Minor
	case tier.Major:
		return e.Major
	case tier.Critical:
		return e.Critical
	default:
		return false
	}
}

// Target is the configuration and state of one monitored entity.
type Target struct {
	ID           string
	Category     string
	DisplayName  string
	Tiers        tier.Config
	Enabled      EnabledTiers
	Interval     time.Duration
	LastValue    decimal.Decimal
	LastSampleAt time.Time
	Latched      bool
	Active       bool
}

// Validate enforces the configuration invariants: strictly increasing tier
// thresholds and a sample interval within bounds.
func (t *Target) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if err := t.Tiers.Validate(); err != nil {
		return &ValidationError{Field: "tiers", Reason: err.Error()}
	}
	if err := config.ValidateInterval(t.Interval); err != nil {
		return &ValidationError{Field: "interval", Reason: err.Error()}
	}
	return nil
}

// ValidationError is returned synchronously at the configuration boundary;
// loop state is never mutated when one occurs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigPatch is a partial configuration update; nil fields keep the current
// value.
type ConfigPatch struct {
	DisplayName   *string
	MinorPct      *float64
	MajorPct      *float64
	CriticalPct   *float64
	AlertMinor    *bool
	AlertMajor    *bool
	AlertCritical *bool
	Interval      *time.Duration
}

// Apply merges the patch into a copy of t.
func (p ConfigPatch) Apply(t Target) Target {
	if p.DisplayName != nil {
		t.DisplayName = *p.DisplayName
	}
	if p.MinorPct != nil {
		t.Tiers.Minor = decimal.NewFromFloat(*p.MinorPct)
	}
	if p.MajorPct != nil {
		t.Tiers.Major = decimal.NewFromFloat(*p.MajorPct)
	}
	if p.CriticalPct != nil {
		t.Tiers.Critical = decimal.NewFromFloat(*p.CriticalPct)
	}
	if p.AlertMinor != nil {
		t.Enabled.Minor = *p.AlertMinor
	}
	if p.AlertMajor != nil {
		t.Enabled.Major = *p.AlertMajor
	}
	if p.AlertCritical != nil {
		t.Enabled.Critical = *p.AlertCritical
	}
	if p.Interval != nil {
		t.Interval = *p.Interval
	}
	return t
}

// TargetFromRow reconstructs an in-memory target from its persisted row.
func TargetFromRow(row storage.TargetRow) Target {
	t := Target{
		ID:          row.ID,
		Category:    row.Category,
		DisplayName: row.DisplayName,
		Tiers: tier.Config{
			Minor:    row.MinorPct,
			Major:    row.MajorPct,
			Critical: row.CriticalPct,
		},
		Enabled: EnabledTiers{
			Minor:    row.AlertMinor,
			Major:    row.AlertMajor,
			Critical: row.AlertCritical,
		},
		Interval:  time.Duration(row.IntervalSeconds) * time.Second,
		LastValue: row.LastValue,
		Latched:   row.Latched,
		Active:    row.Active,
	}
	if row.LastSampleAt != nil {
		t.LastSampleAt = *row.LastSampleAt
	}
	return t
}

// RowFromTarget converts a target into its persisted representation.
func RowFromTarget(t Target) storage.TargetRow {
	row := storage.TargetRow{
		ID:              t.ID,
		Category:        t.Category,
		DisplayName:     t.DisplayName,
		MinorPct:        t.Tiers.Minor,
		MajorPct:        t.Tiers.Major,
		CriticalPct:     t.Tiers.Critical,
		AlertMinor:      t.Enabled.Minor,
		AlertMajor:      t.Enabled.Major,
		AlertCritical:   t.Enabled.Critical,
		IntervalSeconds: int(t.Interval / time.Second),
		LastValue:       t.LastValue,
		Latched:         t.Latched,
		Active:          t.Active,
	}
	if !t.LastSampleAt.IsZero() {
		sampleAt := t.LastSampleAt
		row.LastSampleAt = &sampleAt
	}
	return row
}
