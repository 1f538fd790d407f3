package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-data-automation/internal/alerting"
	"market-data-automation/internal/quote"
)

// SimulateAlert 用给定价格构造一条行情，经清洗后评估阈值并可选地推送告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	symbol := strings.TrimSpace(opts.Symbol)
	if symbol == "" {
		return errors.New("--symbol 不能为空")
	}
	if opts.Price <= 0 {
		return errors.New("--price 必须大于 0")
	}

	thresholds := a.Config.Thresholds()
	if _, ok := thresholds[symbol]; !ok {
		return fmt.Errorf("未配置 %s 的价格阈值", symbol)
	}

	now := time.Now().UTC()
	raw := quote.RawQuote{
		quote.FieldSymbol:    symbol,
		quote.FieldPrice:     opts.Price,
		quote.FieldVolume:    int64(0),
		quote.FieldTimestamp: quote.FormatTimestamp(now),
		quote.FieldProvider:  "simulated",
	}

	clean, _, err := a.newCleaner().Clean([]quote.RawQuote{raw})
	if err != nil {
		return err
	}
	if len(clean) == 0 {
		return fmt.Errorf("价格 %v 未通过清洗校验", opts.Price)
	}

	events := alerting.EvaluateClean(clean, thresholds, now)
	if len(events) == 0 {
		fmt.Fprintf(a.Out, "✅ %s at $%.2f is within its configured range\n", symbol, opts.Price)
		return nil
	}

	if !opts.Notify {
		return alerting.NewConsoleChannel(a.Out).Send(ctx, events)
	}

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	a.Logger.Info().Str("symbol", symbol).Strs("channels", notifier.Channels()).Int("alerts", len(events)).Msg("dispatching simulated alerts")
	return notifier.Deliver(ctx, events)
}
