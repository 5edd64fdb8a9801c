package tier

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is the severity bucket assigned to a percentage change.
type Tier int

const (
	None Tier = iota
	Minor
	Major
	Critical
)

// String returns the lowercase tier name used in storage and messages.
func (t Tier) String() string {
	switch t {
	case Minor:
		return "minor"
	case Major:
		return "major"
	case Critical:
		return "critical"
	default:
		return "none"
	}
}

// Parse maps a stored tier name back to its Tier value.
func Parse(s string) (Tier, error) {
	switch s {
	case "none":
		return None, nil
	case "minor":
		return Minor, nil
	case "major":
		return Major, nil
	case "critical":
		return Critical, nil
	}
	return None, fmt.Errorf("unknown tier %q", s)
}

// Config holds the percentage magnitudes for each tier. Thresholds must be
// positive and strictly increasing: minor < major < critical.
type Config struct {
	Minor    decimal.Decimal
	Major    decimal.Decimal
	Critical decimal.Decimal
}

// ConfigFromFloats builds a Config from raw percentage values.
func ConfigFromFloats(minor, major, critical float64) Config {
	return Config{
		Minor:    decimal.NewFromFloat(minor),
		Major:    decimal.NewFromFloat(major),
		Critical: decimal.NewFromFloat(critical),
	}
}

// Validate checks the tier ordering invariant.
func (c Config) Validate() error {
	if !c.Minor.IsPositive() {
		return fmt.Errorf("minor threshold must be greater than zero, got %s", c.Minor)
	}
	if c.Major.LessThanOrEqual(c.Minor) {
		return fmt.Errorf("major threshold %s must exceed minor %s", c.Major, c.Minor)
	}
	if c.Critical.LessThanOrEqual(c.Major) {
		return fmt.Errorf("critical threshold %s must exceed major %s", c.Critical, c.Major)
	}
	return nil
}

// Result captures one classification outcome.
type Result struct {
	Tier     Tier
	Delta    decimal.Decimal
	DeltaPct decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Classify computes the percentage change from prev to curr and assigns the
// highest tier whose magnitude threshold is met. A non-positive prev is a
// baseline sample and never classifies; a zero delta never classifies.
func Classify(prev, curr decimal.Decimal, cfg Config) Result {
	if prev.Sign() <= 0 {
		return Result{Tier: None}
	}

	delta := curr.Sub(prev)
	pct := delta.Div(prev).Mul(hundred)
	res := Result{Tier: None, Delta: delta, DeltaPct: pct}

	magnitude := pct.Abs()
	if magnitude.IsZero() {
		return res
	}

	switch {
	case magnitude.GreaterThanOrEqual(cfg.Critical):
		res.Tier = Critical
	case magnitude.GreaterThanOrEqual(cfg.Major):
		res.Tier = Major
	case magnitude.GreaterThanOrEqual(cfg.Minor):
		res.Tier = Minor
	}
	return res
}
