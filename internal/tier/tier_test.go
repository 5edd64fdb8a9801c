package tier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return ConfigFromFloats(2, 10, 20)
}

func TestClassifyBaselineNeverAlerts(t *testing.T) {
	for _, prev := range []float64{0, -5} {
		res := Classify(decimal.NewFromFloat(prev), decimal.NewFromInt(100), testConfig())
		assert.Equal(t, None, res.Tier, "prev=%v must not classify", prev)
		assert.True(t, res.DeltaPct.IsZero())
	}
}

func TestClassifyZeroDelta(t *testing.T) {
	res := Classify(decimal.NewFromInt(100), decimal.NewFromInt(100), testConfig())
	assert.Equal(t, None, res.Tier)
	assert.True(t, res.Delta.IsZero())
}

func TestClassifyHighestTierWins(t *testing.T) {
	// 100 -> 121 is +21%: critical, even though major's threshold is also met.
	res := Classify(decimal.NewFromInt(100), decimal.NewFromInt(121), testConfig())
	assert.Equal(t, Critical, res.Tier)
	assert.True(t, res.DeltaPct.Equal(decimal.NewFromInt(21)), "got %s", res.DeltaPct)
}

func TestClassifyMinor(t *testing.T) {
	res := Classify(decimal.NewFromInt(100), decimal.NewFromInt(103), testConfig())
	assert.Equal(t, Minor, res.Tier)
	assert.True(t, res.DeltaPct.Equal(decimal.NewFromInt(3)), "got %s", res.DeltaPct)
}

func TestClassifyNegativeDeltaUsesMagnitude(t *testing.T) {
	res := Classify(decimal.NewFromInt(100), decimal.NewFromInt(88), testConfig())
	assert.Equal(t, Major, res.Tier)
	assert.True(t, res.DeltaPct.IsNegative())
}

func TestClassifyBelowMinorIsNone(t *testing.T) {
	res := Classify(decimal.NewFromInt(100), decimal.NewFromFloat(101.5), testConfig())
	assert.Equal(t, None, res.Tier)
}

func TestClassifyThresholdEqualityCounts(t *testing.T) {
	res := Classify(decimal.NewFromInt(100), decimal.NewFromInt(102), testConfig())
	assert.Equal(t, Minor, res.Tier)

	res = Classify(decimal.NewFromInt(100), decimal.NewFromInt(120), testConfig())
	assert.Equal(t, Critical, res.Tier)
}

func TestClassifyMonotonicInMagnitude(t *testing.T) {
	cfg := testConfig()
	prev := decimal.NewFromInt(100)

	last := None
	for pct := 0; pct <= 50; pct++ {
		curr := prev.Add(decimal.NewFromInt(int64(pct)))
		res := Classify(prev, curr, cfg)
		require.GreaterOrEqual(t, int(res.Tier), int(last),
			"tier regressed at deltaPct=%d", pct)
		last = res.Tier
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero minor", ConfigFromFloats(0, 10, 20)},
		{"negative minor", ConfigFromFloats(-1, 10, 20)},
		{"major below minor", ConfigFromFloats(5, 4, 20)},
		{"major equals minor", ConfigFromFloats(5, 5, 20)},
		{"critical below major", ConfigFromFloats(2, 10, 9)},
		{"critical equals major", ConfigFromFloats(2, 10, 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestTierRoundTrip(t *testing.T) {
	for _, v := range []Tier{None, Minor, Major, Critical} {
		parsed, err := Parse(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}

	_, err := Parse("catastrophic")
	assert.Error(t, err)
}
