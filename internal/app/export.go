package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	chart "github.com/wcharczuk/go-chart/v2"

	"market-data-automation/internal/quote"
	"market-data-automation/internal/storage"
)

// Export renders a symbol's stored history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if strings.TrimSpace(opts.Symbol) == "" {
		return errors.New("--symbol is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	filter := storage.QuoteFilter{Symbol: opts.Symbol}
	if opts.From != nil {
		filter.From = opts.From.UTC()
	}
	if opts.To != nil {
		filter.To = opts.To.UTC()
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return errors.New("from must be before to")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListQuotes(ctx, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no quotes found for export window")
		return nil
	}

	// ListQuotes is newest first; charts read left to right.
	chronological := make([]quote.StoredRecord, len(records))
	for i, r := range records {
		chronological[len(records)-1-i] = r
	}

	downsampled := downsampleRecords(chronological, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []quote.StoredRecord, max int) []quote.StoredRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]quote.StoredRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

type exportRow struct {
	Timestamp string `csv:"timestamp"`
	Symbol    string `csv:"symbol"`
	Price     string `csv:"price"`
	Volume    int64  `csv:"volume"`
	Provider  string `csv:"provider"`
}

func writeRecordsCSV(path string, records []quote.StoredRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	rows := make([]exportRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, exportRow{
			Timestamp: quote.FormatTimestamp(r.Timestamp),
			Symbol:    r.Symbol,
			Price:     r.Price.String(),
			Volume:    r.Volume,
			Provider:  r.Provider,
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return gocsv.MarshalFile(&rows, file)
}

func writeRecordsPNG(path, symbol string, records []quote.StoredRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	price := make([]float64, len(records))
	volume := make([]float64, len(records))
	for i, r := range records {
		x[i] = r.Timestamp
		price[i] = r.Price.InexactFloat64()
		volume[i] = float64(r.Volume)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    strings.ToUpper(symbol) + " price",
			XValues: x,
			YValues: price,
		},
	}
	if hasVolume(volume) {
		series = append(series, chart.TimeSeries{
			Name:    "Volume",
			XValues: x,
			YValues: volume,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Volume",
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func hasVolume(v []float64) bool {
	for _, f := range v {
		if f > 0 {
			return true
		}
	}
	return false
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
