package alerting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
)

// SendMailFunc matches net/smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailOptions configure the SMTP channel.
type EmailOptions struct {
	Host     string `default:"smtp.gmail.com"`
	Port     int    `default:"587"`
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel sends one multipart (text + HTML) message per batch.
type EmailChannel struct {
	opts   EmailOptions
	send   SendMailFunc
	now    func() time.Time
	logger zerolog.Logger
}

// NewEmailChannel 构造邮件告警通道。From 缺省为 Username。
func NewEmailChannel(opts EmailOptions, send SendMailFunc, logger zerolog.Logger) (*EmailChannel, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("apply email defaults: %w", err)
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	if opts.Username == "" || opts.Password == "" || len(opts.To) == 0 {
		return nil, errors.New("email credentials incomplete")
	}
	if send == nil {
		send = smtp.SendMail
	}
	return &EmailChannel{
		opts:   opts,
		send:   send,
		now:    time.Now,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}, nil
}

// Name implements Channel.
func (e *EmailChannel) Name() string { return "email" }

// Send implements Channel.
func (e *EmailChannel) Send(ctx context.Context, events []Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := e.buildMessage(events)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", e.opts.Host, e.opts.Port)
	auth := smtp.PlainAuth("", e.opts.Username, e.opts.Password, e.opts.Host)
	if err := e.send(addr, auth, e.opts.From, e.opts.To, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	e.logger.Info().Strs("to", e.opts.To).Int("events", len(events)).Msg("告警邮件已发送")
	return nil
}

func (e *EmailChannel) buildMessage(events []Event) ([]byte, error) {
	generated := e.now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", renderText(events, generated)},
		{"text/html; charset=UTF-8", renderHTML(events, generated)},
	}
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", p.contentType)
		header.Set("Content-Transfer-Encoding", "8bit")
		w, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.opts.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.opts.To, ", "))
	fmt.Fprintf(&msg, "Subject: 🚨 Market Alert: %d Price Threshold(s) Crossed\r\n", len(events))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func renderHTML(events []Event, generated time.Time) string {
	var b strings.Builder
	b.WriteString(`<html><head><style>
body { font-family: Arial, sans-serif; }
.header { background-color: #f44336; color: white; padding: 20px; text-align: center; }
.alert-box { background-color: #f9f9f9; border-left: 5px solid #f44336; margin: 20px 0; padding: 15px; }
.alert-high { border-left-color: #f44336; }
.alert-medium { border-left-color: #ff9800; }
.price { font-size: 24px; font-weight: bold; color: #333; }
.footer { margin-top: 30px; padding: 20px; background-color: #f0f0f0; text-align: center; font-size: 12px; }
</style></head><body>
<div class="header"><h1>🚨 Market Price Alerts</h1></div>
`)
	for _, ev := range events {
		class := "alert-medium"
		if ev.Severity == SeverityHigh {
			class = "alert-high"
		}
		fmt.Fprintf(&b, `<div class="alert-box %s">`+"\n", class)
		fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(ev.Symbol))
		fmt.Fprintf(&b, `<p class="price">Current Price: $%.2f</p>`+"\n", ev.CurrentPrice)
		fmt.Fprintf(&b, "<p><strong>Alert Type:</strong> %s</p>\n", displayType(ev.ThresholdType))
		fmt.Fprintf(&b, "<p><strong>Threshold:</strong> $%.2f</p>\n", ev.ThresholdValue)
		fmt.Fprintf(&b, "<p><strong>Time:</strong> %s</p>\n", formatEventTime(ev.Timestamp))
		b.WriteString("</div>\n")
	}
	b.WriteString(`<div class="footer">` + "\n")
	fmt.Fprintf(&b, "<p>Total Alerts: %d</p>\n", len(events))
	fmt.Fprintf(&b, "<p>Generated: %s</p>\n", formatEventTime(generated))
	b.WriteString("<p>Market Data Automation Tool</p>\n</div>\n</body></html>\n")
	return b.String()
}

var _ Channel = (*EmailChannel)(nil)
