package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"market-data-automation/internal/pipeline"
	"market-data-automation/internal/quote"
	"market-data-automation/internal/scheduler"
	"market-data-automation/internal/service"
	"market-data-automation/internal/storage"
)

// Run executes one batch: fetch, clean, dedupe, persist, alert, then prints a summary.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.logConfiguration()
	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	res, runErr := rt.svc.RunOnce(ctx)
	if err := rt.metrics.Flush(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("flush metrics failed")
	}
	if runErr != nil {
		return runErr
	}

	stats, err := rt.store.Statistics(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("load statistics failed")
	}
	writeSummary(a.Out, res, stats)
	return nil
}

// Watch runs batches on an aligned interval until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToBucket:  a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.logConfiguration()
	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch loop")
	err = sched.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		tickErr := rt.svc.RunTick(ctx, bucket)
		if err := rt.metrics.Flush(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("flush metrics failed")
		}
		return tickErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}

func writeSummary(w io.Writer, res service.Result, stats storage.Stats) {
	rule := strings.Repeat("=", 70)
	bold := color.New(color.Bold)

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	bold.Fprintln(w, "📊 EXECUTION SUMMARY")
	fmt.Fprintln(w, rule)

	alerted := make(map[string]bool, len(res.Alerts))
	for _, ev := range res.Alerts {
		alerted[ev.Symbol] = true
	}

	fmt.Fprintln(w, "\n💰 LATEST PRICES:")
	for _, q := range res.Raw {
		fmt.Fprintln(w, "  "+latestLine(q, alerted))
	}

	fmt.Fprintln(w, "\n📁 DATABASE STATISTICS:")
	fmt.Fprintf(w, "  Total Records: %s\n", groupThousands(stats.TotalRecords))
	fmt.Fprintf(w, "  Unique Symbols: %d\n", stats.UniqueSymbols)
	fmt.Fprintf(w, "  Records Saved This Run: %d\n", res.Stored)
	if stats.Earliest != nil && stats.Latest != nil {
		fmt.Fprintf(w, "  Data Range: %s to %s\n", quote.FormatTimestamp(*stats.Earliest), quote.FormatTimestamp(*stats.Latest))
	}
	if dropped := res.Report.Dropped(); dropped > 0 {
		fmt.Fprintf(w, "  Rows Dropped While Cleaning: %d\n", dropped)
	}

	if len(res.Alerts) > 0 {
		fmt.Fprintf(w, "\n🚨 ALERTS TRIGGERED: %d\n", len(res.Alerts))
		for _, ev := range res.Alerts {
			fmt.Fprintf(w, "  - %s\n", ev.Message)
		}
	} else {
		fmt.Fprintln(w, "\n✓ No price alerts triggered")
	}

	fmt.Fprintf(w, "\n✅ Run %s completed in %.2f seconds\n", res.RunID, res.Duration.Seconds())
	fmt.Fprintln(w, rule)
}

func latestLine(q quote.RawQuote, alerted map[string]bool) string {
	symbolVal, _ := q.Lookup(quote.FieldSymbol)
	symbol := fmt.Sprint(symbolVal)

	priceText := "n/a"
	if v, ok := q.Lookup(quote.FieldPrice); ok {
		if f, ok := pipeline.ToFloat(v); ok {
			priceText = fmt.Sprintf("$%.2f", f)
		}
	}

	var volume int64
	if v, ok := q.Lookup(quote.FieldVolume); ok {
		if f, ok := pipeline.ToFloat(v); ok && f > 0 {
			volume = int64(f)
		}
	}

	marker := ""
	if alerted[symbol] {
		marker = " 🚨"
	}
	return fmt.Sprintf("%s: %s (Volume: %s)%s", symbol, priceText, groupThousands(volume), marker)
}

func groupThousands(n int64) string {
	s := fmt.Sprint(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Thresholds prints the configured alert bounds.
func (a *App) Thresholds() error {
	fmt.Fprintln(a.Out, a.Config.Thresholds().Summary())
	return nil
}

