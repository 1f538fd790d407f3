package alerting

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/guregu/null/v6"
)

// ThresholdRule is one configured price band. Either bound may be unset.
type ThresholdRule struct {
	Symbol string     `mapstructure:"symbol" validate:"required"`
	Min    null.Float `mapstructure:"min"`
	Max    null.Float `mapstructure:"max"`
}

// Bound 表示单个标的的上下限。
type Bound struct {
	Min null.Float
	Max null.Float
}

// ThresholdConfig maps a symbol to its bound. Build it once and pass it to Evaluate.
type ThresholdConfig map[string]Bound

// ParseThresholdRule parses "SYMBOL:min:max"; an empty bound means none.
func ParseThresholdRule(s string) (ThresholdRule, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return ThresholdRule{}, fmt.Errorf("invalid threshold %q, want SYMBOL:min:max", s)
	}

	rule := ThresholdRule{Symbol: strings.TrimSpace(parts[0])}
	if rule.Symbol == "" {
		return ThresholdRule{}, fmt.Errorf("invalid threshold %q: symbol is empty", s)
	}

	var err error
	if rule.Min, err = parseBound(parts[1]); err != nil {
		return ThresholdRule{}, fmt.Errorf("invalid threshold %q min: %w", s, err)
	}
	if rule.Max, err = parseBound(parts[2]); err != nil {
		return ThresholdRule{}, fmt.Errorf("invalid threshold %q max: %w", s, err)
	}
	return rule, nil
}

// ParseThresholds parses a comma-separated list of rules.
func ParseThresholds(s string) ([]ThresholdRule, error) {
	var rules []ThresholdRule
	for _, entry := range strings.Split(s, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		rule, err := ParseThresholdRule(entry)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseBound(s string) (null.Float, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Float{}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, err
	}
	return null.FloatFrom(f), nil
}

// NewThresholdConfig indexes rules by symbol. Later rules for the same symbol win.
func NewThresholdConfig(rules []ThresholdRule) ThresholdConfig {
	cfg := make(ThresholdConfig, len(rules))
	for _, r := range rules {
		cfg[r.Symbol] = Bound{Min: r.Min, Max: r.Max}
	}
	return cfg
}

// Symbols returns configured symbols in lexical order.
func (c ThresholdConfig) Symbols() []string {
	out := make([]string, 0, len(c))
	for s := range c {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Summary renders the configured bounds for display.
func (c ThresholdConfig) Summary() string {
	if len(c) == 0 {
		return "No thresholds configured"
	}

	var b strings.Builder
	b.WriteString("CONFIGURED PRICE THRESHOLDS\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")
	for _, symbol := range c.Symbols() {
		bound := c[symbol]
		fmt.Fprintf(&b, "%s:\n", symbol)
		if bound.Min.Valid {
			fmt.Fprintf(&b, "  🔴 Alert if below: $%.2f\n", bound.Min.Float64)
		}
		if bound.Max.Valid {
			fmt.Fprintf(&b, "  🟢 Alert if above: $%.2f\n", bound.Max.Float64)
		}
		b.WriteString("\n")
	}
	return b.String()
}
