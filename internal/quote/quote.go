// Package quote defines the record shapes that flow through a collection run.
package quote

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the canonical fixed-width UTC text form of quote timestamps.
// Lexicographic order of formatted values equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Field names recognised on raw quotes.
const (
	FieldSymbol    = "symbol"
	FieldPrice     = "price"
	FieldVolume    = "volume"
	FieldTimestamp = "timestamp"
	FieldProvider  = "provider"
)

// Defaults applied when a field is absent or unusable.
const (
	UnknownSymbol   = "UNKNOWN"
	UnknownProvider = "unknown"
)

// RawQuote is an untyped record as produced by a quote source. Any field may be
// absent, nil or malformed.
type RawQuote map[string]any

// Lookup returns the value stored under name. Keys match case-insensitively
// after trimming; on collision the exact lowercase key wins, otherwise the
// lexicographically smallest original key.
func (r RawQuote) Lookup(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	want := strings.ToLower(strings.TrimSpace(name))
	if v, ok := r[want]; ok {
		return v, true
	}

	var matches []string
	for k := range r {
		if strings.ToLower(strings.TrimSpace(k)) == want {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)
	return r[matches[0]], true
}

// Has reports whether the field key is present, even when its value is nil.
func (r RawQuote) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// CleanQuote is a validated, canonical quote row.
type CleanQuote struct {
	Symbol      string
	Price       decimal.Decimal
	Volume      int64
	Timestamp   time.Time
	Provider    string
	ProcessedAt time.Time
}

// Key returns the identity of the row.
func (q CleanQuote) Key() Key {
	return Key{Symbol: q.Symbol, Timestamp: q.Timestamp}
}

// Raw renders the row back into the untyped shape consumed by the threshold evaluator.
func (q CleanQuote) Raw() RawQuote {
	return RawQuote{
		FieldSymbol:    q.Symbol,
		FieldPrice:     q.Price.InexactFloat64(),
		FieldVolume:    q.Volume,
		FieldTimestamp: FormatTimestamp(q.Timestamp),
		FieldProvider:  q.Provider,
	}
}

// Key identifies a quote by symbol and normalised timestamp.
type Key struct {
	Symbol    string
	Timestamp time.Time
}

// String returns a stable text form usable as a map key across time.Location values.
func (k Key) String() string {
	return k.Symbol + "@" + FormatTimestamp(k.Timestamp)
}

// StoredRecord is a row as persisted by the primary store.
type StoredRecord struct {
	ID int64
	CleanQuote
	CreatedAt time.Time
}

// NormalizeTimestamp converts t to UTC with microsecond precision.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTimestamp renders t in the canonical layout.
func FormatTimestamp(t time.Time) string {
	return NormalizeTimestamp(t).Format(TimestampLayout)
}
