package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// ConsoleChannel prints alerts to a terminal. It is always enabled.
type ConsoleChannel struct {
	out  io.Writer
	red  *color.Color
	bold *color.Color
}

// NewConsoleChannel writes to out, or stdout when out is nil.
func NewConsoleChannel(out io.Writer) *ConsoleChannel {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleChannel{
		out:  out,
		red:  color.New(color.FgRed, color.Bold),
		bold: color.New(color.Bold),
	}
}

// Name implements Channel.
func (c *ConsoleChannel) Name() string { return "console" }

// Send implements Channel.
func (c *ConsoleChannel) Send(_ context.Context, events []Event) error {
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, rule)
	c.red.Fprintln(c.out, "🚨 PRICE ALERTS TRIGGERED 🚨")
	fmt.Fprintln(c.out, rule)

	for _, ev := range events {
		fmt.Fprintln(c.out)
		c.bold.Fprintln(c.out, ev.Message)
		fmt.Fprintf(c.out, "   Time: %s\n", formatEventTime(ev.Timestamp))
		fmt.Fprintf(c.out, "   Threshold: $%.2f\n", ev.ThresholdValue)
		fmt.Fprintf(c.out, "   Type: %s\n", ev.ThresholdType)
	}

	fmt.Fprintln(c.out)
	_, err := fmt.Fprintln(c.out, rule)
	return err
}

var _ Channel = (*ConsoleChannel)(nil)
