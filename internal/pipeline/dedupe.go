package pipeline

import (
	"market-data-automation/internal/quote"
)

// Dedupe keeps the first occurrence of every (symbol, timestamp) key in batch
// and then drops keys already present in existing. A nil existing slice means
// nothing was loaded. The input slices are not modified.
func Dedupe(batch []quote.CleanQuote, existing []quote.StoredRecord) []quote.CleanQuote {
	stored := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		stored[rec.Key().String()] = struct{}{}
	}

	seen := make(map[string]struct{}, len(batch))
	out := make([]quote.CleanQuote, 0, len(batch))
	for _, q := range batch {
		key := q.Key().String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, exists := stored[key]; exists {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Symbols returns the distinct symbols of batch in first-seen order.
func Symbols(batch []quote.CleanQuote) []string {
	seen := make(map[string]struct{}, len(batch))
	out := make([]string, 0, len(batch))
	for _, q := range batch {
		if _, ok := seen[q.Symbol]; ok {
			continue
		}
		seen[q.Symbol] = struct{}{}
		out = append(out, q.Symbol)
	}
	return out
}
