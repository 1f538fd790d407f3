package alerting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestParseThresholds(t *testing.T) {
	rules, err := ParseThresholds("AAPL:150:200, BTC-USD::50000 ,MSFT:300:,")
	require.NoError(t, err)
	require.Len(t, rules, 3)

	require.Equal(t, "AAPL", rules[0].Symbol)
	require.Equal(t, 150.0, rules[0].Min.Float64)
	require.Equal(t, 200.0, rules[0].Max.Float64)

	require.Equal(t, "BTC-USD", rules[1].Symbol)
	require.False(t, rules[1].Min.Valid, "空下限表示不设置")
	require.Equal(t, 50000.0, rules[1].Max.Float64)

	require.True(t, rules[2].Min.Valid)
	require.False(t, rules[2].Max.Valid)
}

func TestParseThresholdsRejectsMalformed(t *testing.T) {
	for _, in := range []string{"AAPL:150", "AAPL:abc:200", ":1:2", "AAPL:1:2:3"} {
		_, err := ParseThresholds(in)
		require.Errorf(t, err, "输入 %q 应报错", in)
	}

	rules, err := ParseThresholds("")
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestThresholdConfigSummary(t *testing.T) {
	require.Equal(t, "No thresholds configured", ThresholdConfig{}.Summary())

	rules, err := ParseThresholds("MSFT:300:,AAPL:150:200")
	require.NoError(t, err)
	cfg := NewThresholdConfig(rules)

	require.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols())
	summary := cfg.Summary()
	require.Contains(t, summary, "AAPL:\n  🔴 Alert if below: $150.00\n  🟢 Alert if above: $200.00\n")
	require.Contains(t, summary, "MSFT:\n  🔴 Alert if below: $300.00\n\n")
}

func TestNewThresholdConfigLastRuleWins(t *testing.T) {
	rules, err := ParseThresholds("AAPL:1:2,AAPL:3:4")
	require.NoError(t, err)
	cfg := NewThresholdConfig(rules)
	require.Len(t, cfg, 1)
	require.Equal(t, 3.0, cfg["AAPL"].Min.Float64)
}
