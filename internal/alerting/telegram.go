package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramChannel 通过 Telegram Bot API 推送消息。
type TelegramChannel struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramChannel 构造 Telegram 告警通道。
func NewTelegramChannel(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name implements Channel.
func (n *TelegramChannel) Name() string { return "telegram" }

// Send 调用 sendMessage API，整批告警合并为一条消息。
func (n *TelegramChannel) Send(ctx context.Context, events []Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderTelegram(events),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int("events", len(events)).Msg("告警已发送 (Telegram)")
	return nil
}

func renderTelegram(events []Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Market Alert] %d price threshold(s) crossed\n", len(events))
	for _, ev := range events {
		b.WriteString("\n")
		b.WriteString(ev.Message)
		b.WriteString("\n")
		fmt.Fprintf(&b, "Type: %s, threshold $%.2f\n", ev.ThresholdType, ev.ThresholdValue)
		fmt.Fprintf(&b, "Time: %s\n", formatEventTime(ev.Timestamp))
	}
	return b.String()
}

var _ Channel = (*TelegramChannel)(nil)
