package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/stretchr/testify/require"

	"market-data-automation/internal/quote"
)

func TestYahooRegularMarketQuote(t *testing.T) {
	get := func(symbol string) (*finance.Quote, error) {
		require.Equal(t, "AAPL", symbol)
		return &finance.Quote{
			Symbol:              "AAPL",
			RegularMarketPrice:  150.5,
			RegularMarketVolume: 1000000,
			RegularMarketTime:   int(time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC).Unix()),
		}, nil
	}

	q, err := NewYahooClient(noopLogger(), WithQuoteGetter(get)).FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 150.5, q[quote.FieldPrice])
	require.Equal(t, 1000000, q[quote.FieldVolume])
	require.Equal(t, "2024-02-10T10:00:00.000000Z", q[quote.FieldTimestamp])
	require.Equal(t, ProviderYahoo, q[quote.FieldProvider])
}

func TestYahooPriceFallbacks(t *testing.T) {
	c := NewYahooClient(noopLogger(), WithQuoteGetter(func(string) (*finance.Quote, error) {
		return &finance.Quote{RegularMarketPreviousClose: 99.5}, nil
	}))
	fixed := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	q, err := c.FetchQuote(context.Background(), "MSFT")
	require.NoError(t, err)
	require.Equal(t, 99.5, q[quote.FieldPrice], "无实时价时使用昨收")
	require.Equal(t, quote.FormatTimestamp(fixed), q[quote.FieldTimestamp])

	c = NewYahooClient(noopLogger(), WithQuoteGetter(func(string) (*finance.Quote, error) {
		return &finance.Quote{}, nil
	}))
	q, err = c.FetchQuote(context.Background(), "MSFT")
	require.NoError(t, err)
	require.Nil(t, q[quote.FieldPrice], "无价格时仍返回报价, 交由清洗阶段丢弃")
}

func TestYahooErrors(t *testing.T) {
	c := NewYahooClient(noopLogger(), WithQuoteGetter(func(string) (*finance.Quote, error) {
		return nil, nil
	}))
	_, err := c.FetchQuote(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrNoQuote)
	require.ErrorIs(t, err, ErrNotRetryable)

	c = NewYahooClient(noopLogger(), WithQuoteGetter(func(string) (*finance.Quote, error) {
		return nil, errors.New("remote error")
	}))
	_, err = c.FetchQuote(context.Background(), "AAPL")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotRetryable))
}
