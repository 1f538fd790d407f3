package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-data-automation/internal/quote"
)

// ProviderChainlink identifies quotes read from Chainlink price feeds.
const ProviderChainlink = "chainlink"

const aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain provider. Feeds maps a symbol to
// its AggregatorV3 contract address.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// ParseFeeds reads "SYMBOL=0xaddress" entries.
func ParseFeeds(entries []string) (map[string]string, error) {
	feeds := make(map[string]string, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, addr, ok := strings.Cut(entry, "=")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		addr = strings.TrimSpace(addr)
		if !ok || symbol == "" || !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid chainlink feed %q, want SYMBOL=0xaddress", entry)
		}
		feeds[symbol] = addr
	}
	return feeds, nil
}

// ChainlinkClient reads the latest round of an AggregatorV3 feed.
type ChainlinkClient struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	caller    ethereum.ContractCaller
	callerMux sync.Mutex
}

// NewChainlinkClient builds a feed reader. A nil caller dials opts.RPCURL lazily.
func NewChainlinkClient(opts ChainlinkOptions, caller ethereum.ContractCaller, logger zerolog.Logger) *ChainlinkClient {
	feeds := make(map[string]string, len(opts.Feeds))
	for symbol, addr := range opts.Feeds {
		feeds[strings.ToUpper(symbol)] = addr
	}
	opts.Feeds = feeds
	return &ChainlinkClient{
		opts:   opts,
		caller: caller,
		logger: logger.With().Str("component", "chainlink_client").Logger(),
	}
}

// Name implements Provider.
func (c *ChainlinkClient) Name() string { return ProviderChainlink }

// FetchQuote reads latestRoundData and scales the answer by the feed decimals.
// The round's updatedAt becomes the quote timestamp.
func (c *ChainlinkClient) FetchQuote(ctx context.Context, symbol string) (quote.RawQuote, error) {
	addrHex, ok := c.opts.Feeds[strings.ToUpper(symbol)]
	if !ok {
		return nil, permanent(fmt.Errorf("no chainlink feed configured for %s", symbol))
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		return nil, err
	}
	addr := common.HexToAddress(addrHex)

	decOut, err := c.call(ctx, caller, addr, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return nil, permanent(errors.New("failed to decode decimals output"))
	}

	roundOut, err := c.call(ctx, caller, addr, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(roundOut) != 5 {
		return nil, permanent(errors.New("unexpected latestRoundData response"))
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok {
		return nil, permanent(errors.New("failed to decode latestRoundData answer"))
	}
	updatedAt, ok := roundOut[3].(*big.Int)
	if !ok {
		return nil, permanent(errors.New("failed to decode latestRoundData updatedAt"))
	}

	price := decimal.NewFromBigInt(answer, -int32(decimals))
	ts := time.Unix(updatedAt.Int64(), 0)

	c.logger.Debug().Str("symbol", symbol).Str("feed", addr.Hex()).
		Str("price", price.String()).Time("updated_at", ts).Msg("chainlink round read")

	return quote.RawQuote{
		quote.FieldSymbol:    symbol,
		quote.FieldPrice:     price,
		quote.FieldVolume:    0,
		quote.FieldTimestamp: quote.FormatTimestamp(ts),
		quote.FieldProvider:  ProviderChainlink,
	}, nil
}

func (c *ChainlinkClient) call(ctx context.Context, caller ethereum.ContractCaller, addr common.Address, method string) ([]any, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, permanent(err)
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, permanent(fmt.Errorf("unpack %s: %w", method, err))
	}
	if len(outputs) == 0 {
		return nil, permanent(fmt.Errorf("empty %s response", method))
	}
	return outputs, nil
}

func (c *ChainlinkClient) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	c.callerMux.Lock()
	defer c.callerMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}
	if c.opts.RPCURL == "" {
		return nil, permanent(errors.New("ethereum rpc url not configured"))
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ Provider = (*ChainlinkClient)(nil)
