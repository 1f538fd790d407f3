// Package pipeline turns raw provider records into canonical, duplicate-free rows.
package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-data-automation/internal/quote"
)

// FieldPolicy 描述字段缺失或非法时的处理方式。
type FieldPolicy int

const (
	// DropRow discards the whole row.
	DropRow FieldPolicy = iota
	// DefaultValue substitutes a fixed default.
	DefaultValue
	// BestEffortCoerce converts what it can and falls back to a default.
	BestEffortCoerce
)

func (p FieldPolicy) String() string {
	switch p {
	case DropRow:
		return "drop_row"
	case DefaultValue:
		return "default_value"
	case BestEffortCoerce:
		return "best_effort_coerce"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// FieldRule binds a field to its policy.
type FieldRule struct {
	Field    string
	Policy   FieldPolicy
	Required bool
}

// Rules is the per-field policy table applied by Cleaner. Required fields must
// appear as a key on at least one row of a batch.
var Rules = []FieldRule{
	{Field: quote.FieldSymbol, Policy: DefaultValue, Required: true},
	{Field: quote.FieldPrice, Policy: DropRow, Required: true},
	{Field: quote.FieldVolume, Policy: BestEffortCoerce},
	{Field: quote.FieldTimestamp, Policy: BestEffortCoerce, Required: true},
	{Field: quote.FieldProvider, Policy: DefaultValue},
}

// SchemaError reports required fields missing from every row of a batch.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// Report summarises what a Clean call did to its input.
type Report struct {
	Input               int
	Output              int
	DroppedMissingPrice int
	DroppedInvalidPrice int
	DroppedNonPositive  int
	DefaultedSymbol     int
	DefaultedVolume     int
	DefaultedProvider   int
	TimestampFallbacks  int
}

// Dropped totals every discarded row.
func (r Report) Dropped() int {
	return r.DroppedMissingPrice + r.DroppedInvalidPrice + r.DroppedNonPositive
}

// CleanerOption customises a Cleaner.
type CleanerOption func(*Cleaner)

// WithClock overrides the time source used for processed_at and timestamp fallbacks.
func WithClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		if now != nil {
			c.now = now
		}
	}
}

// Cleaner validates and normalises raw quotes.
type Cleaner struct {
	now    func() time.Time
	logger zerolog.Logger
}

// NewCleaner constructs a Cleaner.
func NewCleaner(logger zerolog.Logger, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		now:    time.Now,
		logger: logger.With().Str("component", "cleaner").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean applies the field policies, drops non-positive prices and returns the
// rows ordered by timestamp, newest first. Input rows are never modified.
func (c *Cleaner) Clean(raw []quote.RawQuote) ([]quote.CleanQuote, Report, error) {
	report := Report{Input: len(raw)}
	if len(raw) == 0 {
		return []quote.CleanQuote{}, report, nil
	}

	if err := checkSchema(raw); err != nil {
		return nil, report, err
	}

	now := quote.NormalizeTimestamp(c.now())
	out := make([]quote.CleanQuote, 0, len(raw))

	for i, row := range raw {
		priceVal, ok := row.Lookup(quote.FieldPrice)
		if !ok || isMissing(priceVal) {
			report.DroppedMissingPrice++
			continue
		}
		price, ok := toDecimal(priceVal)
		if !ok {
			report.DroppedInvalidPrice++
			c.logger.Debug().Int("row", i).Interface("price", priceVal).Msg("dropping row with non-numeric price")
			continue
		}

		cq := quote.CleanQuote{Price: price, ProcessedAt: now}

		symVal, _ := row.Lookup(quote.FieldSymbol)
		if sym, ok := toSymbol(symVal); ok {
			cq.Symbol = sym
		} else {
			cq.Symbol = quote.UnknownSymbol
			report.DefaultedSymbol++
		}

		volVal, present := row.Lookup(quote.FieldVolume)
		if vol, ok := toVolume(volVal); ok {
			cq.Volume = vol
		} else {
			if present && volVal != nil {
				c.logger.Debug().Int("row", i).Interface("volume", volVal).Msg("volume not usable, defaulting to 0")
			}
			report.DefaultedVolume++
		}

		tsVal, _ := row.Lookup(quote.FieldTimestamp)
		ts, err := ParseTimestamp(tsVal)
		if err != nil {
			ts = now
			report.TimestampFallbacks++
			c.logger.Warn().Err(err).Str("symbol", cq.Symbol).Interface("timestamp", tsVal).Msg("timestamp unparseable, using current UTC time")
		}
		cq.Timestamp = ts

		provVal, _ := row.Lookup(quote.FieldProvider)
		if prov, ok := toSymbol(provVal); ok {
			cq.Provider = prov
		} else {
			cq.Provider = quote.UnknownProvider
			report.DefaultedProvider++
		}

		if !cq.Price.IsPositive() {
			report.DroppedNonPositive++
			continue
		}

		out = append(out, cq)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	report.Output = len(out)
	c.logEvent(report)
	return out, report, nil
}

func (c *Cleaner) logEvent(r Report) {
	event := c.logger.Info()
	if r.Output == 0 || r.TimestampFallbacks > 0 {
		event = c.logger.Warn()
	}
	event.Int("input", r.Input).
		Int("output", r.Output).
		Int("dropped_missing_price", r.DroppedMissingPrice).
		Int("dropped_invalid_price", r.DroppedInvalidPrice).
		Int("dropped_non_positive", r.DroppedNonPositive).
		Int("timestamp_fallbacks", r.TimestampFallbacks).
		Msg("batch cleaned")
}

func checkSchema(raw []quote.RawQuote) error {
	var missing []string
	for _, rule := range Rules {
		if !rule.Required {
			continue
		}
		found := false
		for _, row := range raw {
			if row.Has(rule.Field) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, rule.Field)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// isMissing treats nil and float NaN as absent values.
func isMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(val)
	case float32:
		return math.IsNaN(float64(val))
	}
	return false
}
