package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

//go:generate mockgen -package=alerting -destination=mock_notifier_test.go -source=notifier.go

// Notifier 定义告警输送接口。
type Notifier interface {
	Deliver(ctx context.Context, events []Event) error
}

// Channel is a single delivery route such as console, email or Telegram.
type Channel interface {
	Name() string
	Send(ctx context.Context, events []Event) error
}

// MultiNotifier fans events out to every channel. A failing channel does not
// stop the others; failures are joined into the returned error.
type MultiNotifier struct {
	channels []Channel
	logger   zerolog.Logger
}

// NewMultiNotifier 构造多通道告警器。nil 通道会被忽略。
func NewMultiNotifier(logger zerolog.Logger, channels ...Channel) *MultiNotifier {
	mn := &MultiNotifier{logger: logger.With().Str("component", "notifier").Logger()}
	for _, ch := range channels {
		if ch != nil {
			mn.channels = append(mn.channels, ch)
		}
	}
	return mn
}

// Channels lists configured channel names.
func (mn *MultiNotifier) Channels() []string {
	names := make([]string, 0, len(mn.channels))
	for _, ch := range mn.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Deliver sends events to every channel. An empty batch is a no-op.
func (mn *MultiNotifier) Deliver(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	var errs []error
	for _, ch := range mn.channels {
		if err := ch.Send(ctx, events); err != nil {
			mn.logger.Error().Err(err).Str("channel", ch.Name()).Int("events", len(events)).Msg("告警发送失败")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		mn.logger.Debug().Str("channel", ch.Name()).Int("events", len(events)).Msg("告警已发送")
	}
	return errors.Join(errs...)
}

func displayType(t ThresholdType) string {
	words := strings.Split(strings.ToLower(string(t)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func formatEventTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// renderText 生成纯文本告警内容。
func renderText(events []Event, generated time.Time) string {
	var b strings.Builder
	b.WriteString("MARKET PRICE ALERTS\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "Symbol: %s\n", ev.Symbol)
		fmt.Fprintf(&b, "Current Price: $%.2f\n", ev.CurrentPrice)
		fmt.Fprintf(&b, "Alert Type: %s\n", ev.ThresholdType)
		fmt.Fprintf(&b, "Threshold: $%.2f\n", ev.ThresholdValue)
		fmt.Fprintf(&b, "Time: %s\n", formatEventTime(ev.Timestamp))
		b.WriteString(strings.Repeat("-", 50))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "\nTotal Alerts: %d\n", len(events))
	fmt.Fprintf(&b, "Generated: %s\n", formatEventTime(generated))
	return b.String()
}

var _ Notifier = (*MultiNotifier)(nil)
