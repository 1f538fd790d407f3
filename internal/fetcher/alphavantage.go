package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-data-automation/internal/quote"
)

// ProviderAlphaVantage identifies quotes sourced from Alpha Vantage.
const ProviderAlphaVantage = "alphavantage"

const (
	avQueryPath       = "/query"
	avGlobalQuote     = "Global Quote"
	avExchangeRate    = "Realtime Currency Exchange Rate"
	avRefreshedLayout = "2006-01-02 15:04:05"
)

// AlphaVantageOptions parameterise the Alpha Vantage client.
type AlphaVantageOptions struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// AlphaVantageClient fetches stock quotes (GLOBAL_QUOTE) and crypto exchange
// rates (CURRENCY_EXCHANGE_RATE).
type AlphaVantageClient struct {
	opts    AlphaVantageOptions
	client  *http.Client
	baseURL string
	now     func() time.Time
	logger  zerolog.Logger
}

// NewAlphaVantageClient constructs an Alpha Vantage provider.
func NewAlphaVantageClient(opts AlphaVantageOptions, logger zerolog.Logger) *AlphaVantageClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co"
	}

	return &AlphaVantageClient{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
		logger:  logger.With().Str("component", "alphavantage_client").Logger(),
	}
}

// Name implements Provider.
func (c *AlphaVantageClient) Name() string { return ProviderAlphaVantage }

// FetchQuote retrieves one symbol. Symbols shaped like "BTC-USD" are treated as
// currency pairs.
func (c *AlphaVantageClient) FetchQuote(ctx context.Context, symbol string) (quote.RawQuote, error) {
	if c.opts.APIKey == "" {
		return nil, permanent(errors.New("alphavantage api key not configured"))
	}

	params := url.Values{}
	params.Set("apikey", c.opts.APIKey)
	crypto := isCryptoSymbol(symbol)
	if crypto {
		from, to := splitPair(symbol)
		params.Set("function", "CURRENCY_EXCHANGE_RATE")
		params.Set("from_currency", from)
		params.Set("to_currency", to)
	} else {
		params.Set("function", "GLOBAL_QUOTE")
		params.Set("symbol", symbol)
	}

	payload, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, permanent(fmt.Errorf("decode alphavantage response: %w", err))
	}
	if msg := apiMessage(body); msg != "" {
		return nil, permanent(fmt.Errorf("alphavantage %s: %s", symbol, msg))
	}

	if crypto {
		return c.parseExchangeRate(symbol, body)
	}
	return c.parseGlobalQuote(symbol, body)
}

func (c *AlphaVantageClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + avQueryPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alphavantage request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read alphavantage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

func (c *AlphaVantageClient) parseGlobalQuote(symbol string, body map[string]json.RawMessage) (quote.RawQuote, error) {
	var fields map[string]string
	raw, ok := body[avGlobalQuote]
	if !ok {
		return nil, permanent(fmt.Errorf("alphavantage %s: %w", symbol, ErrNoQuote))
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, permanent(fmt.Errorf("decode global quote: %w", err))
	}
	if len(fields) == 0 {
		return nil, permanent(fmt.Errorf("alphavantage %s: %w", symbol, ErrNoQuote))
	}

	out := quote.RawQuote{
		quote.FieldSymbol:    symbol,
		quote.FieldPrice:     fields["05. price"],
		quote.FieldVolume:    0,
		quote.FieldTimestamp: quote.FormatTimestamp(c.now()),
		quote.FieldProvider:  ProviderAlphaVantage,
	}
	if v, ok := fields["06. volume"]; ok {
		out[quote.FieldVolume] = v
	}
	return out, nil
}

func (c *AlphaVantageClient) parseExchangeRate(symbol string, body map[string]json.RawMessage) (quote.RawQuote, error) {
	var fields map[string]string
	raw, ok := body[avExchangeRate]
	if !ok {
		return nil, permanent(fmt.Errorf("alphavantage %s: %w", symbol, ErrNoQuote))
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, permanent(fmt.Errorf("decode exchange rate: %w", err))
	}

	ts := c.now()
	if refreshed := strings.TrimSpace(fields["6. Last Refreshed"]); refreshed != "" {
		zone := strings.TrimSpace(fields["7. Time Zone"])
		if zone == "" || strings.EqualFold(zone, "UTC") {
			if parsed, err := time.ParseInLocation(avRefreshedLayout, refreshed, time.UTC); err == nil {
				ts = parsed
			}
		}
	}

	return quote.RawQuote{
		quote.FieldSymbol:    symbol,
		quote.FieldPrice:     fields["5. Exchange Rate"],
		quote.FieldVolume:    0,
		quote.FieldTimestamp: quote.FormatTimestamp(ts),
		quote.FieldProvider:  ProviderAlphaVantage,
	}, nil
}

// apiMessage extracts Alpha Vantage's in-band error or throttling notes.
func apiMessage(body map[string]json.RawMessage) string {
	for _, key := range []string{"Error Message", "Note", "Information"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
			return msg
		}
	}
	return ""
}

func isCryptoSymbol(symbol string) bool {
	upper := strings.ToUpper(symbol)
	return strings.Contains(upper, "-") || strings.Contains(upper, "BTC") || strings.Contains(upper, "ETH")
}

func splitPair(symbol string) (string, string) {
	parts := strings.SplitN(strings.ToUpper(symbol), "-", 2)
	if len(parts) == 2 && parts[1] != "" {
		return parts[0], parts[1]
	}
	return parts[0], "USD"
}

type errorResponse struct {
	ErrorMessage string `json:"Error Message"`
	Message      string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.ErrorMessage != "" {
			return fmt.Errorf("alphavantage api error (%d): %s", status, apiErr.ErrorMessage)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("alphavantage api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("alphavantage api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("alphavantage api error (%d)", status)
}

var _ Provider = (*AlphaVantageClient)(nil)
