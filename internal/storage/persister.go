package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-data-automation/internal/quote"
)

// Persister writes cleaned batches to the primary store and mirrors the rows
// that were actually stored.
type Persister struct {
	store  QuoteStore
	mirror Mirror
	logger zerolog.Logger
	now    func() time.Time
}

// NewPersister wires a store and an optional mirror. A nil mirror disables the flat file.
func NewPersister(store QuoteStore, mirror Mirror, logger zerolog.Logger) *Persister {
	return &Persister{
		store:  store,
		mirror: mirror,
		logger: logger.With().Str("component", "persister").Logger(),
		now:    time.Now,
	}
}

// Persist stores batch and returns how many rows were newly written. The bulk
// path is tried first; on a uniqueness violation it falls back to row-at-a-time
// inserts that skip conflicting keys.
func (p *Persister) Persist(ctx context.Context, batch []quote.CleanQuote) (int, error) {
	if p.store == nil {
		return 0, ErrNotConfigured
	}
	if len(batch) == 0 {
		return 0, nil
	}

	stored, err := p.store.BulkInsert(ctx, batch)
	if errors.Is(err, ErrDuplicate) {
		p.logger.Warn().Err(err).Int("rows", len(batch)).Msg("bulk insert hit duplicates, retrying row by row")
		stored, err = p.store.InsertIgnoringDuplicates(ctx, batch)
		if err == nil && len(stored) < len(batch) {
			p.logger.Info().Int("skipped", len(batch)-len(stored)).Msg("skipped rows already stored")
		}
	}
	if err != nil {
		return 0, fmt.Errorf("persist batch: %w", err)
	}

	if p.mirror != nil && len(stored) > 0 {
		if err := p.mirror.Append(stored); err != nil {
			return len(stored), fmt.Errorf("mirror batch: %w", err)
		}
	}

	p.logger.Info().Int("stored", len(stored)).Int("batch", len(batch)).Msg("batch persisted")
	return len(stored), nil
}

// LoadExisting loads stored rows relevant to batch for deduplication.
func (p *Persister) LoadExisting(ctx context.Context, symbols []string) ([]quote.StoredRecord, error) {
	if p.store == nil {
		return nil, ErrNotConfigured
	}
	return p.store.LoadExisting(ctx, symbols)
}

// DeleteOlderThan removes rows whose quote timestamp is more than days old.
func (p *Persister) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	if p.store == nil {
		return 0, ErrNotConfigured
	}
	if days < 0 {
		return 0, fmt.Errorf("retention days cannot be negative: %d", days)
	}
	cutoff := p.now().UTC().AddDate(0, 0, -days)
	deleted, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.logger.Info().Int("days", days).Time("cutoff", cutoff).Int64("deleted", deleted).Msg("retention cleanup finished")
	return deleted, nil
}
