package watch

import (
	"fmt"

	"github.com/shopspring/decimal"

	"wallet-watch/internal/tier"
)

// SeverityMilestone is the severity recorded for level-triggered alerts.
const SeverityMilestone = "milestone"

// Alert is one qualifying emission produced by a policy during a cycle.
type Alert struct {
	Severity string
	Message  string
	Value    decimal.Decimal
	DeltaPct decimal.Decimal
}

// Policy decides whether a classified sample produces alerts. Policies run
// before the target's state is advanced, so t.LastValue still holds the
// previous sample. A policy may update t.Latched.
type Policy interface {
	Evaluate(t *Target, res tier.Result, current decimal.Decimal) []Alert
}

// EdgePolicy emits on every sample whose classification reaches an enabled
// tier. Percentage deltas always compare against the immediately preceding
// sample, so no extra suppression applies: sustained drift alerts on every
// qualifying cycle.
type EdgePolicy struct{}

// Evaluate implements Policy.
func (EdgePolicy) Evaluate(t *Target, res tier.Result, current decimal.Decimal) []Alert {
	if res.Tier == tier.None || !t.Enabled.For(res.Tier) {
		return nil
	}

	direction := "up"
	if res.Delta.Sign() < 0 {
		direction = "down"
	}

	return []Alert{{
		Severity: res.Tier.String(),
		Message: fmt.Sprintf("%s moved %s %s%% (%s -> %s)",
			t.DisplayName,
			direction,
			res.DeltaPct.Abs().StringFixed(2),
			t.LastValue.StringFixed(2),
			current.StringFixed(2),
		),
		Value:    current,
		DeltaPct: res.DeltaPct,
	}}
}

// LevelPolicy emits once when the value crosses from below to at-or-above
// the threshold, then latches. The latch resets when the value falls back
// below the line, permitting a new alert on the next upward crossing.
type LevelPolicy struct {
	Threshold decimal.Decimal
}

// Evaluate implements Policy.
func (p LevelPolicy) Evaluate(t *Target, res tier.Result, current decimal.Decimal) []Alert {
	if p.Threshold.Sign() <= 0 {
		return nil
	}

	if current.LessThan(p.Threshold) {
		t.Latched = false
		return nil
	}

	if t.Latched {
		return nil
	}
	t.Latched = true

	return []Alert{{
		Severity: SeverityMilestone,
		Message: fmt.Sprintf("%s reached the %s milestone (now %s)",
			t.DisplayName,
			p.Threshold.StringFixed(2),
			current.StringFixed(2),
		),
		Value:    current,
		DeltaPct: res.DeltaPct,
	}}
}
