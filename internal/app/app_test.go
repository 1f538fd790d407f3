package app

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market-data-automation/internal/alerting"
	"market-data-automation/internal/config"
	"market-data-automation/internal/pipeline"
	"market-data-automation/internal/quote"
	"market-data-automation/internal/service"
	"market-data-automation/internal/storage"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Fetch: config.FetchConfig{Provider: "yfinance", Symbols: []string{"AAPL", "MSFT"}},
		Storage: config.StorageConfig{
			Driver:        "sqlite",
			SQLitePath:    filepath.Join(dir, "market.db"),
			CSVPath:       filepath.Join(dir, "market_data.csv"),
			RetentionDays: 90,
		},
		Alerting: config.AlertingConfig{Thresholds: []alerting.ThresholdRule{
			{Symbol: "AAPL", Min: null.FloatFrom(150), Max: null.FloatFrom(200)},
		}},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func seedMirror(t *testing.T, path string) {
	t.Helper()
	ts := time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)
	rows := []quote.CleanQuote{
		{Symbol: "AAPL", Price: decimal.RequireFromString("150.5"), Volume: 1000000, Timestamp: ts, Provider: "yfinance", ProcessedAt: ts},
		{Symbol: "MSFT", Price: decimal.RequireFromString("350.75"), Volume: 500000, Timestamp: ts, Provider: "yfinance", ProcessedAt: ts},
		{Symbol: "AAPL", Price: decimal.RequireFromString("151"), Volume: 900000, Timestamp: ts.Add(time.Hour), Provider: "yfinance", ProcessedAt: ts},
	}
	require.NoError(t, storage.NewCSVMirror(path).Append(rows))
}

func TestGroupThousands(t *testing.T) {
	cases := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for in, want := range cases {
		require.Equal(t, want, groupThousands(in), "千分位格式错误: %d", in)
	}
}

func TestDownsampleRecords(t *testing.T) {
	records := make([]quote.StoredRecord, 10)
	for i := range records {
		records[i].ID = int64(i)
	}

	require.Len(t, downsampleRecords(records, 0), 10)
	require.Len(t, downsampleRecords(records, 20), 10)

	sampled := downsampleRecords(records, 4)
	require.Len(t, sampled, 4)
	require.Equal(t, int64(0), sampled[0].ID, "应保留首个样本")
	require.Equal(t, int64(9), sampled[3].ID, "应保留最后一个样本")

	single := downsampleRecords(records, 1)
	require.Equal(t, int64(9), single[0].ID)
}

func TestWriteSummary(t *testing.T) {
	earliest := time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)
	latest := earliest.Add(time.Hour)
	res := service.Result{
		RunID:    "run-1",
		Duration: 1500 * time.Millisecond,
		Raw: []quote.RawQuote{
			{"symbol": "AAPL", "price": 99.5, "volume": 1234567},
			{"symbol": "MSFT", "price": nil},
		},
		Report: pipeline.Report{DroppedMissingPrice: 1},
		Stored: 1,
		Alerts: []alerting.Event{{Symbol: "AAPL", Message: "AAPL below minimum"}},
	}
	stats := storage.Stats{TotalRecords: 12345, UniqueSymbols: 2, Earliest: &earliest, Latest: &latest}

	var buf bytes.Buffer
	writeSummary(&buf, res, stats)
	out := buf.String()

	require.Contains(t, out, "EXECUTION SUMMARY")
	require.Contains(t, out, "AAPL: $99.50 (Volume: 1,234,567) 🚨")
	require.Contains(t, out, "MSFT: n/a (Volume: 0)")
	require.Contains(t, out, "Total Records: 12,345")
	require.Contains(t, out, "Records Saved This Run: 1")
	require.Contains(t, out, "Rows Dropped While Cleaning: 1")
	require.Contains(t, out, "ALERTS TRIGGERED: 1")
	require.Contains(t, out, "completed in 1.50 seconds")
}

func TestWriteSummaryWithoutAlerts(t *testing.T) {
	var buf bytes.Buffer
	writeSummary(&buf, service.Result{RunID: "run-2"}, storage.Stats{})
	require.Contains(t, buf.String(), "No price alerts triggered")
	require.NotContains(t, buf.String(), "Data Range")
}

func TestImportMirrorIsIdempotent(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	seedMirror(t, a.Config.Storage.CSVPath)

	require.NoError(t, a.Import(ctx, ImportOptions{}))
	require.Contains(t, out.String(), "3 stored")

	out.Reset()
	require.NoError(t, a.Import(ctx, ImportOptions{}))
	require.Contains(t, out.String(), "0 new", "重复导入不应写入新行")

	out.Reset()
	require.NoError(t, a.Stats(ctx))
	require.Contains(t, out.String(), "Total Records: 3")
	require.Contains(t, out.String(), "Unique Symbols: 2")
}

func TestImportDryRunWritesNothing(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	seedMirror(t, a.Config.Storage.CSVPath)

	require.NoError(t, a.Import(ctx, ImportOptions{DryRun: true}))
	require.Contains(t, out.String(), "3 new (nothing written)")

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Limit: 10}))
	require.Contains(t, out.String(), "No historical data available")
}

func TestImportMissingFile(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, a.Import(context.Background(), ImportOptions{Path: filepath.Join(t.TempDir(), "absent.csv")}))
	require.Contains(t, out.String(), "No rows found")
}

func TestShowAndLatest(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	seedMirror(t, a.Config.Storage.CSVPath)
	require.NoError(t, a.Import(ctx, ImportOptions{}))

	out.Reset()
	require.NoError(t, a.Show(ctx, ShowOptions{Symbol: "AAPL", Limit: 10}))
	shown := out.String()
	require.Contains(t, shown, "HISTORICAL DATA - AAPL")
	require.Contains(t, shown, "151.00")
	require.NotContains(t, shown, "MSFT")

	out.Reset()
	require.NoError(t, a.Latest(ctx))
	latest := out.String()
	require.Contains(t, latest, "151.00", "应展示最新一条 AAPL")
	require.NotContains(t, latest, "150.50")
	require.Contains(t, latest, "350.75")
}

func TestCleanupRequiresRetention(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Storage.RetentionDays = 0
	require.Error(t, a.Cleanup(context.Background(), 0))
}

func TestCleanupDeletesOldRows(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	seedMirror(t, a.Config.Storage.CSVPath)
	require.NoError(t, a.Import(ctx, ImportOptions{}))

	out.Reset()
	require.NoError(t, a.Cleanup(ctx, 1))
	require.Contains(t, out.String(), "Deleted 3 records")
}

func TestExportCSV(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	seedMirror(t, a.Config.Storage.CSVPath)
	require.NoError(t, a.Import(ctx, ImportOptions{}))

	path := filepath.Join(t.TempDir(), "out", "aapl.csv")
	require.NoError(t, a.Export(ctx, ExportOptions{Symbol: "AAPL", CSVPath: path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "timestamp,symbol,price,volume,provider", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "2024-02-10T10:00:00.000000Z,AAPL,150.5"), "应按时间正序导出: %s", lines[1])
}

func TestExportValidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	require.Error(t, a.Export(ctx, ExportOptions{Symbol: "AAPL"}), "缺少输出路径应报错")
	require.Error(t, a.Export(ctx, ExportOptions{CSVPath: "x.csv"}), "缺少 symbol 应报错")

	from := time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	require.Error(t, a.Export(ctx, ExportOptions{Symbol: "AAPL", CSVPath: "x.csv", From: &from, To: &to}))
}

func TestSimulateAlertPrintsBreach(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, a.SimulateAlert(context.Background(), SimulateOptions{Symbol: "AAPL", Price: 120}))
	require.Contains(t, out.String(), "PRICE ALERTS TRIGGERED")
	require.Contains(t, out.String(), "Threshold: $150.00")
}

func TestSimulateAlertWithinRange(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, a.SimulateAlert(context.Background(), SimulateOptions{Symbol: "AAPL", Price: 175}))
	require.Contains(t, out.String(), "within its configured range")
}

func TestSimulateAlertValidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.Error(t, a.SimulateAlert(ctx, SimulateOptions{Symbol: "", Price: 10}))
	require.Error(t, a.SimulateAlert(ctx, SimulateOptions{Symbol: "AAPL", Price: 0}))
	require.Error(t, a.SimulateAlert(ctx, SimulateOptions{Symbol: "TSLA", Price: 10}), "未配置阈值的标的应报错")
	require.Error(t, a.SimulateAlert(ctx, SimulateOptions{Symbol: "AAPL", Price: math.Inf(1)}), "清洗阶段丢弃的价格应报错")
}

func TestThresholdsSummary(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, a.Thresholds())
	require.Contains(t, out.String(), "AAPL")
}
