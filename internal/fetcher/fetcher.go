package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"

	"market-data-automation/internal/quote"
)

var (
	// ErrNoQuote indicates the provider answered but had no quote for the symbol.
	ErrNoQuote = errors.New("fetcher: no quote returned")
	// ErrNotRetryable marks failures that another attempt cannot fix.
	ErrNotRetryable = errors.New("fetcher: not retryable")
)

//go:generate mockgen -package=fetcher -destination=mock_fetcher_test.go -source=fetcher.go

// Source produces raw quotes for a set of symbols. Returning fewer records
// than symbols is normal; missing symbols are simply absent.
type Source interface {
	Fetch(ctx context.Context, symbols []string) ([]quote.RawQuote, error)
}

// Provider fetches a single symbol from one upstream API.
type Provider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (quote.RawQuote, error)
}

// RetryOptions tune per-symbol retries and pacing. Zero values take the
// defaults; a negative SymbolDelay disables pacing.
type RetryOptions struct {
	Attempts    int           `default:"3"`
	Delay       time.Duration `default:"2s"`
	SymbolDelay time.Duration `default:"500ms"`
}

// Fetcher drives a Provider over a symbol list with fixed-delay retries.
type Fetcher struct {
	provider Provider
	opts     RetryOptions
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a Fetcher.
func New(provider Provider, opts RetryOptions, logger zerolog.Logger) (*Fetcher, error) {
	if provider == nil {
		return nil, errors.New("fetcher: provider is required")
	}
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("apply retry defaults: %w", err)
	}
	return &Fetcher{
		provider: provider,
		opts:     opts,
		logger:   logger.With().Str("component", "fetcher").Str("provider", provider.Name()).Logger(),
		sleep:    sleepContext,
	}, nil
}

// Fetch retrieves every symbol in order. Symbols whose attempts are exhausted
// are logged and omitted. Only context cancellation is returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string) ([]quote.RawQuote, error) {
	results := make([]quote.RawQuote, 0, len(symbols))
	fetched := 0

	for i, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		if i > 0 && f.opts.SymbolDelay > 0 {
			if err := f.sleep(ctx, f.opts.SymbolDelay); err != nil {
				return results, err
			}
		}

		q, err := retryWithResult(ctx, f.opts.Attempts, f.opts.Delay, f.sleep, func(attempt int) (quote.RawQuote, error) {
			q, err := f.provider.FetchQuote(ctx, symbol)
			if err != nil && !errors.Is(err, ErrNotRetryable) && attempt < f.opts.Attempts {
				f.logger.Warn().Err(err).Str("symbol", symbol).
					Int("attempt", attempt).Int("attempts", f.opts.Attempts).
					Msg("fetch attempt failed, retrying")
			}
			return q, err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return results, ctxErr
			}
			f.logger.Error().Err(err).Str("symbol", symbol).Msg("giving up on symbol")
			continue
		}

		fetched++
		results = append(results, q)
		f.logger.Debug().Str("symbol", symbol).Interface("price", q[quote.FieldPrice]).Msg("quote fetched")
	}

	f.logger.Info().Int("requested", len(symbols)).Int("fetched", fetched).Msg("fetch finished")
	return results, nil
}

// permanent marks err as not worth retrying.
func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrNotRetryable, err)
}

var _ Source = (*Fetcher)(nil)
