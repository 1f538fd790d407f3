package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"market-data-automation/internal/quote"
	"market-data-automation/internal/storage"
)

// Show prints stored quotes, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListQuotes(ctx, storage.QuoteFilter{Symbol: opts.Symbol, Limit: opts.Limit})
	if err != nil {
		return err
	}

	title := "📜 HISTORICAL DATA"
	if opts.Symbol != "" {
		title += " - " + strings.ToUpper(opts.Symbol)
	}
	fmt.Fprintln(a.Out, title)
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "No historical data available")
		return nil
	}
	a.writeRecords(records)
	return nil
}

// Latest prints the newest stored quote per symbol.
func (a *App) Latest(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.LatestPerSymbol(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "No data available")
		return nil
	}
	a.writeRecords(records)
	return nil
}

// Stats prints aggregate storage statistics.
func (a *App) Stats(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Statistics(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.Out, "📁 DATABASE STATISTICS")
	fmt.Fprintf(a.Out, "Total Records: %s\n", groupThousands(stats.TotalRecords))
	fmt.Fprintf(a.Out, "Unique Symbols: %d\n", stats.UniqueSymbols)
	if stats.Earliest != nil && stats.Latest != nil {
		fmt.Fprintf(a.Out, "Data Range: %s to %s\n", quote.FormatTimestamp(*stats.Earliest), quote.FormatTimestamp(*stats.Latest))
	}
	if len(stats.RecordsPerSymbol) > 0 {
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Symbol\tRecords")
		for _, sc := range stats.RecordsPerSymbol {
			fmt.Fprintf(writer, "%s\t%d\n", sc.Symbol, sc.Count)
		}
		writer.Flush()
	}
	return nil
}

// Cleanup deletes quotes older than days; zero means the configured retention.
func (a *App) Cleanup(ctx context.Context, days int) error {
	if days == 0 {
		days = a.Config.Storage.RetentionDays
	}
	if days <= 0 {
		return errors.New("retention days must be positive")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := storage.NewPersister(store, nil, a.Logger).DeleteOlderThan(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Deleted %d records older than %d days\n", deleted, days)
	return nil
}

func (a *App) writeRecords(records []quote.StoredRecord) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tPrice\tVolume\tTime (UTC)\tProvider")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			sanitizeInline(r.Symbol),
			r.Price.StringFixed(2),
			groupThousands(r.Volume),
			quote.FormatTimestamp(r.Timestamp),
			sanitizeInline(r.Provider),
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
