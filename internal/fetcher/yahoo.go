package fetcher

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	yquote "github.com/piquette/finance-go/quote"
	"github.com/rs/zerolog"

	"market-data-automation/internal/quote"
)

// ProviderYahoo identifies quotes sourced from Yahoo Finance.
const ProviderYahoo = "yfinance"

// QuoteGetter looks up a single Yahoo quote. It matches finance-go's quote.Get.
type QuoteGetter func(symbol string) (*finance.Quote, error)

// YahooOption customises a YahooClient.
type YahooOption func(*YahooClient)

// WithQuoteGetter replaces the finance-go lookup.
func WithQuoteGetter(get QuoteGetter) YahooOption {
	return func(c *YahooClient) {
		if get != nil {
			c.get = get
		}
	}
}

// YahooClient fetches quotes from Yahoo Finance via piquette/finance-go.
type YahooClient struct {
	get    QuoteGetter
	now    func() time.Time
	logger zerolog.Logger
}

// NewYahooClient constructs a Yahoo provider.
func NewYahooClient(logger zerolog.Logger, opts ...YahooOption) *YahooClient {
	c := &YahooClient{
		get:    yquote.Get,
		now:    time.Now,
		logger: logger.With().Str("component", "yahoo_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Provider.
func (c *YahooClient) Name() string { return ProviderYahoo }

// FetchQuote returns the regular-market quote. The price falls back to the
// previous close and is left nil when Yahoo has neither.
func (c *YahooClient) FetchQuote(ctx context.Context, symbol string) (quote.RawQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q, err := c.get(symbol)
	if err != nil {
		return nil, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	if q == nil {
		return nil, permanent(fmt.Errorf("yahoo quote %s: %w", symbol, ErrNoQuote))
	}

	var price any
	switch {
	case q.RegularMarketPrice > 0:
		price = q.RegularMarketPrice
	case q.RegularMarketPreviousClose > 0:
		price = q.RegularMarketPreviousClose
	}

	ts := c.now()
	if q.RegularMarketTime > 0 {
		ts = time.Unix(int64(q.RegularMarketTime), 0)
	}

	return quote.RawQuote{
		quote.FieldSymbol:    symbol,
		quote.FieldPrice:     price,
		quote.FieldVolume:    q.RegularMarketVolume,
		quote.FieldTimestamp: quote.FormatTimestamp(ts),
		quote.FieldProvider:  ProviderYahoo,
	}, nil
}

var _ Provider = (*YahooClient)(nil)
