package storage

import (
	"context"
	"errors"
	"time"

	"market-data-automation/internal/quote"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrDuplicate indicates a (symbol, timestamp) uniqueness violation.
	ErrDuplicate = errors.New("storage: duplicate quote")
)

// QuoteStore is the append-only primary store. The (symbol, timestamp)
// uniqueness constraint it enforces is authoritative; callers never rely on a
// prior read for correctness.
type QuoteStore interface {
	// EnsureSchema creates the market_data table and its indexes if absent.
	EnsureSchema(ctx context.Context) error
	// BulkInsert stores every row in one transaction or none. A uniqueness
	// violation is reported as an error wrapping ErrDuplicate.
	BulkInsert(ctx context.Context, batch []quote.CleanQuote) ([]quote.CleanQuote, error)
	// InsertIgnoringDuplicates stores rows one at a time, skipping rows whose
	// key already exists, and returns the rows actually stored.
	InsertIgnoringDuplicates(ctx context.Context, batch []quote.CleanQuote) ([]quote.CleanQuote, error)
	// LoadExisting returns stored rows for the given symbols; nil symbols loads everything.
	LoadExisting(ctx context.Context, symbols []string) ([]quote.StoredRecord, error)
	ListQuotes(ctx context.Context, filter QuoteFilter) ([]quote.StoredRecord, error)
	LatestPerSymbol(ctx context.Context) ([]quote.StoredRecord, error)
	Statistics(ctx context.Context) (Stats, error)
	// DeleteBefore removes rows whose quote timestamp is older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close()
}
