package storage

import (
	"strings"
	"time"
)

// dialect captures the few SQL differences between the two backends.
type dialect struct {
	placeholder func(n int) string
	tsColumn    string
	bindTime    func(t time.Time) any
}

func (d dialect) selectColumns() string {
	return "id, symbol, price, volume, " + d.tsColumn + ", provider, processed_at, created_at"
}

// listQuery renders the filtered history query, newest first.
func (d dialect) listQuery(filter QuoteFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if sym := strings.TrimSpace(filter.Symbol); sym != "" {
		args = append(args, sym)
		clauses = append(clauses, "symbol = "+d.placeholder(len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, d.bindTime(filter.From))
		clauses = append(clauses, d.tsColumn+" >= "+d.placeholder(len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, d.bindTime(filter.To))
		clauses = append(clauses, d.tsColumn+" < "+d.placeholder(len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(d.selectColumns())
	b.WriteString(" FROM market_data")
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY " + d.tsColumn + " DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		b.WriteString(" LIMIT " + d.placeholder(len(args)))
	}
	return b.String(), args
}
