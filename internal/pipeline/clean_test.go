package pipeline

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market-data-automation/internal/quote"
)

var fixedNow = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestCleaner() *Cleaner {
	return NewCleaner(zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
}

func scenarioRows() []quote.RawQuote {
	return []quote.RawQuote{
		{"symbol": "AAPL", "price": 150.5, "volume": 1000000, "timestamp": "2024-02-10T10:00:00", "provider": "yfinance"},
		{"symbol": "MSFT", "price": 350.75, "volume": 500000, "timestamp": "2024-02-10T10:00:00", "provider": "yfinance"},
	}
}

func TestCleanTwoValidRows(t *testing.T) {
	out, report, err := newTestCleaner().Clean(scenarioRows())
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Zero(t, report.Dropped())

	ts := time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "AAPL", out[0].Symbol)
	require.True(t, out[0].Price.Equal(decimal.RequireFromString("150.5")))
	require.Equal(t, int64(1000000), out[0].Volume)
	require.True(t, out[0].Timestamp.Equal(ts))
	require.Equal(t, "yfinance", out[0].Provider)
	require.Equal(t, "MSFT", out[1].Symbol)
	require.True(t, out[1].Price.Equal(decimal.RequireFromString("350.75")))
	require.Equal(t, out[0].ProcessedAt, out[1].ProcessedAt)
	require.True(t, out[0].ProcessedAt.Equal(fixedNow))
}

func TestCleanNullPriceYieldsEmpty(t *testing.T) {
	raw := []quote.RawQuote{{"symbol": "AAPL", "price": nil, "timestamp": "2024-02-10T10:00:00"}}

	out, report, err := newTestCleaner().Clean(raw)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, 1, report.DroppedMissingPrice)
}

func TestCleanEmptyInput(t *testing.T) {
	out, report, err := newTestCleaner().Clean(nil)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Empty(t, out)
	require.Zero(t, report.Input)
}

func TestCleanSchemaError(t *testing.T) {
	raw := []quote.RawQuote{
		{"symbol": "AAPL", "timestamp": "2024-02-10T10:00:00"},
		{"symbol": "MSFT", "volume": 1},
	}

	_, _, err := newTestCleaner().Clean(raw)
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr), "缺少 price 列应返回 SchemaError, 实际 %v", err)
	require.Equal(t, []string{"price"}, schemaErr.Missing)
}

func TestCleanSchemaKeyOnSomeRowsIsEnough(t *testing.T) {
	raw := []quote.RawQuote{
		{"symbol": "AAPL", "price": 1.0},
		{"symbol": "MSFT", "price": 2.0, "timestamp": "2024-02-10T10:00:00"},
	}

	out, report, err := newTestCleaner().Clean(raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, report.TimestampFallbacks)
}

func TestCleanFieldPolicies(t *testing.T) {
	cases := []struct {
		name   string
		row    quote.RawQuote
		keep   bool
		assert func(t *testing.T, q quote.CleanQuote, r Report)
	}{
		{
			name: "string price coerced",
			row:  quote.RawQuote{"symbol": "AAPL", "price": " 12.50 ", "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, r Report) {
				require.True(t, q.Price.Equal(decimal.RequireFromString("12.5")))
			},
		},
		{
			name: "json number price",
			row:  quote.RawQuote{"symbol": "AAPL", "price": json.Number("99.1"), "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
		},
		{
			name: "null.Float price",
			row:  quote.RawQuote{"symbol": "AAPL", "price": null.FloatFrom(3.25), "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
		},
		{
			name: "invalid null.Float price counts as invalid",
			row:  quote.RawQuote{"symbol": "AAPL", "price": null.Float{}, "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedInvalidPrice)
			},
		},
		{
			name: "non numeric price dropped",
			row:  quote.RawQuote{"symbol": "AAPL", "price": "n/a", "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedInvalidPrice)
			},
		},
		{
			name: "NaN price treated as missing",
			row:  quote.RawQuote{"symbol": "AAPL", "price": math.NaN(), "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedMissingPrice)
			},
		},
		{
			name: "infinite price dropped",
			row:  quote.RawQuote{"symbol": "AAPL", "price": math.Inf(1), "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedInvalidPrice)
			},
		},
		{
			name: "overflowing string price dropped",
			row:  quote.RawQuote{"symbol": "AAPL", "price": "1e400", "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedInvalidPrice, "超出 float64 范围的价格应视为无效")
			},
		},
		{
			name: "underflowing string price dropped",
			row:  quote.RawQuote{"symbol": "AAPL", "price": "1e-400", "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedInvalidPrice)
			},
		},
		{
			name: "overflowing json number dropped",
			row:  quote.RawQuote{"symbol": "AAPL", "price": json.Number("-1e400"), "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedInvalidPrice)
			},
		},
		{
			name: "zero price dropped",
			row:  quote.RawQuote{"symbol": "AAPL", "price": 0, "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedNonPositive)
			},
		},
		{
			name: "negative price dropped",
			row:  quote.RawQuote{"symbol": "AAPL", "price": -3.2, "timestamp": "2024-02-10T10:00:00Z"},
			assert: func(t *testing.T, _ quote.CleanQuote, r Report) {
				require.Equal(t, 1, r.DroppedNonPositive)
			},
		},
		{
			name: "missing symbol defaults",
			row:  quote.RawQuote{"symbol": nil, "price": 1, "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, r Report) {
				require.Equal(t, quote.UnknownSymbol, q.Symbol)
				require.Equal(t, 1, r.DefaultedSymbol)
			},
		},
		{
			name: "blank symbol defaults",
			row:  quote.RawQuote{"symbol": "   ", "price": 1, "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, _ Report) {
				require.Equal(t, quote.UnknownSymbol, q.Symbol)
			},
		},
		{
			name: "fractional volume truncated",
			row:  quote.RawQuote{"symbol": "AAPL", "price": 1, "volume": "1234.9", "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, _ Report) {
				require.Equal(t, int64(1234), q.Volume)
			},
		},
		{
			name: "bad volume defaults to zero",
			row:  quote.RawQuote{"symbol": "AAPL", "price": 1, "volume": "lots", "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, r Report) {
				require.Zero(t, q.Volume)
				require.Equal(t, 1, r.DefaultedVolume)
			},
		},
		{
			name: "negative volume defaults to zero",
			row:  quote.RawQuote{"symbol": "AAPL", "price": 1, "volume": -5, "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, _ Report) {
				require.Zero(t, q.Volume)
			},
		},
		{
			name: "unparseable timestamp falls back to now",
			row:  quote.RawQuote{"symbol": "AAPL", "price": 1, "timestamp": "yesterday"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, r Report) {
				require.True(t, q.Timestamp.Equal(fixedNow))
				require.Equal(t, 1, r.TimestampFallbacks)
			},
		},
		{
			name: "offset timestamp converted to UTC",
			row:  quote.RawQuote{"symbol": "AAPL", "price": 1, "timestamp": "2024-02-10T12:00:00+02:00"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, _ Report) {
				require.True(t, q.Timestamp.Equal(time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)))
				require.Equal(t, time.UTC, q.Timestamp.Location())
			},
		},
		{
			name: "missing provider defaults",
			row:  quote.RawQuote{"symbol": "AAPL", "price": 1, "timestamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, r Report) {
				require.Equal(t, quote.UnknownProvider, q.Provider)
				require.Equal(t, 1, r.DefaultedProvider)
			},
		},
		{
			name: "mixed case keys",
			row:  quote.RawQuote{" Symbol": "AAPL", "PRICE": "2", "TimeStamp": "2024-02-10T10:00:00Z"},
			keep: true,
			assert: func(t *testing.T, q quote.CleanQuote, _ Report) {
				require.Equal(t, "AAPL", q.Symbol)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, report, err := newTestCleaner().Clean([]quote.RawQuote{tc.row})
			require.NoError(t, err)
			if tc.keep {
				require.Len(t, out, 1)
			} else {
				require.Empty(t, out)
			}
			if tc.assert != nil {
				var q quote.CleanQuote
				if len(out) > 0 {
					q = out[0]
				}
				tc.assert(t, q, report)
			}
		})
	}
}

func TestCleanSortsNewestFirstStable(t *testing.T) {
	raw := []quote.RawQuote{
		{"symbol": "A", "price": 1, "timestamp": "2024-02-10T09:00:00Z"},
		{"symbol": "B", "price": 1, "timestamp": "2024-02-10T11:00:00Z"},
		{"symbol": "C", "price": 1, "timestamp": "2024-02-10T09:00:00Z"},
		{"symbol": "D", "price": 1, "timestamp": "2024-02-10T10:00:00Z"},
	}

	out, _, err := newTestCleaner().Clean(raw)
	require.NoError(t, err)

	got := make([]string, 0, len(out))
	for _, q := range out {
		got = append(got, q.Symbol)
	}
	require.Equal(t, []string{"B", "D", "A", "C"}, got)
}

func TestCleanDoesNotMutateInput(t *testing.T) {
	raw := []quote.RawQuote{{"symbol": " AAPL ", "price": "1.5", "timestamp": "2024-02-10T10:00:00"}}

	_, _, err := newTestCleaner().Clean(raw)
	require.NoError(t, err)
	require.Equal(t, quote.RawQuote{"symbol": " AAPL ", "price": "1.5", "timestamp": "2024-02-10T10:00:00"}, raw[0])
}

func TestParseTimestampLayouts(t *testing.T) {
	want := time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)
	inputs := []any{
		"2024-02-10T10:00:00",
		"2024-02-10T10:00:00Z",
		"2024-02-10T10:00:00z",
		"2024-02-10T10:00:00+00:00",
		"2024-02-10T11:00:00+0100",
		"2024-02-10 10:00:00",
		"2024-02-10T10:00:00.000000",
		want.In(time.FixedZone("X", -5*3600)),
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		require.NoErrorf(t, err, "解析失败: %v", in)
		require.Truef(t, got.Equal(want), "输入 %v 解析为 %s", in, got)
	}

	got, err := ParseTimestamp("2024-02-10T10:00:00.1234567Z")
	require.NoError(t, err)
	require.Equal(t, 123456000, got.Nanosecond(), "应截断到微秒")

	for _, bad := range []any{nil, "", "10/02/2024", 1707559200} {
		_, err := ParseTimestamp(bad)
		require.Errorf(t, err, "应解析失败: %v", bad)
	}
}

func TestFieldPolicyTable(t *testing.T) {
	policies := map[string]FieldPolicy{}
	for _, rule := range Rules {
		policies[rule.Field] = rule.Policy
	}
	require.Equal(t, DefaultValue, policies[quote.FieldSymbol])
	require.Equal(t, DropRow, policies[quote.FieldPrice])
	require.Equal(t, BestEffortCoerce, policies[quote.FieldVolume])
	require.Equal(t, BestEffortCoerce, policies[quote.FieldTimestamp])
	require.Equal(t, DefaultValue, policies[quote.FieldProvider])
	require.Equal(t, "drop_row", DropRow.String())
}
