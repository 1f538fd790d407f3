package alerting

import (
	"fmt"
	"time"

	"market-data-automation/internal/pipeline"
	"market-data-automation/internal/quote"
)

// ThresholdType 标识触发方向。
type ThresholdType string

const (
	BelowMinimum ThresholdType = "BELOW_MINIMUM"
	AboveMaximum ThresholdType = "ABOVE_MAXIMUM"
)

// Severity of an alert. Threshold crossings are always high.
type Severity string

const SeverityHigh Severity = "HIGH"

// Event 是一次阈值越界。
type Event struct {
	Symbol         string        `json:"symbol"`
	CurrentPrice   float64       `json:"current_price"`
	ThresholdType  ThresholdType `json:"threshold_type"`
	ThresholdValue float64       `json:"threshold_value"`
	Message        string        `json:"message"`
	Timestamp      time.Time     `json:"timestamp"`
	Severity       Severity      `json:"severity"`
}

// Evaluate checks every quote against cfg and returns events in input order.
// A quote without a symbol, a numeric price or a configured bound yields
// nothing. The min check runs before the max check, so an inverted band can
// fire both. fallback stamps events whose quote has no usable timestamp.
func Evaluate(quotes []quote.RawQuote, cfg ThresholdConfig, fallback time.Time) []Event {
	var events []Event
	for _, q := range quotes {
		events = append(events, evaluateOne(q, cfg, fallback)...)
	}
	return events
}

func evaluateOne(q quote.RawQuote, cfg ThresholdConfig, fallback time.Time) []Event {
	symbolVal, _ := q.Lookup(quote.FieldSymbol)
	symbol, ok := pipeline.ToSymbol(symbolVal)
	if !ok {
		return nil
	}

	bound, ok := cfg[symbol]
	if !ok {
		return nil
	}

	priceVal, _ := q.Lookup(quote.FieldPrice)
	price, ok := pipeline.ToFloat(priceVal)
	if !ok {
		return nil
	}

	ts := fallback
	if raw, ok := q.Lookup(quote.FieldTimestamp); ok {
		if parsed, err := pipeline.ParseTimestamp(raw); err == nil {
			ts = parsed
		}
	}

	var events []Event
	if bound.Min.Valid && price < bound.Min.Float64 {
		events = append(events, Event{
			Symbol:         symbol,
			CurrentPrice:   price,
			ThresholdType:  BelowMinimum,
			ThresholdValue: bound.Min.Float64,
			Message:        fmt.Sprintf("🔴 ALERT: %s fell below $%.2f! Current: $%.2f", symbol, bound.Min.Float64, price),
			Timestamp:      ts,
			Severity:       SeverityHigh,
		})
	}
	if bound.Max.Valid && price > bound.Max.Float64 {
		events = append(events, Event{
			Symbol:         symbol,
			CurrentPrice:   price,
			ThresholdType:  AboveMaximum,
			ThresholdValue: bound.Max.Float64,
			Message:        fmt.Sprintf("🟢 ALERT: %s exceeded $%.2f! Current: $%.2f", symbol, bound.Max.Float64, price),
			Timestamp:      ts,
			Severity:       SeverityHigh,
		})
	}
	return events
}

// EvaluateClean runs Evaluate over already cleaned quotes.
func EvaluateClean(quotes []quote.CleanQuote, cfg ThresholdConfig, fallback time.Time) []Event {
	raw := make([]quote.RawQuote, 0, len(quotes))
	for _, q := range quotes {
		raw = append(raw, q.Raw())
	}
	return Evaluate(raw, cfg, fallback)
}
