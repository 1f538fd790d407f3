package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"

	"market-data-automation/internal/quote"
)

// MirrorRow is the flat-file shape of a stored quote, without the surrogate
// id and created_at.
type MirrorRow struct {
	Symbol      string `csv:"symbol"`
	Price       string `csv:"price"`
	Volume      int64  `csv:"volume"`
	Timestamp   string `csv:"timestamp"`
	Provider    string `csv:"provider"`
	ProcessedAt string `csv:"processed_at"`
}

// Mirror receives exactly the rows the primary store accepted.
type Mirror interface {
	Append(rows []quote.CleanQuote) error
}

// CSVMirror appends stored quotes to a CSV file, writing the header only when
// the file is new or empty.
type CSVMirror struct {
	path string
	mu   sync.Mutex
}

// NewCSVMirror constructs a mirror writing to path.
func NewCSVMirror(path string) *CSVMirror {
	return &CSVMirror{path: path}
}

// Path returns the mirror file location.
func (m *CSVMirror) Path() string {
	return m.path
}

// Append writes rows to the end of the file.
func (m *CSVMirror) Append(rows []quote.CleanQuote) error {
	if len(rows) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := filepath.Dir(m.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create mirror directory: %w", err)
		}
	}

	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat mirror: %w", err)
	}

	out := make([]MirrorRow, 0, len(rows))
	for _, q := range rows {
		out = append(out, toMirrorRow(q))
	}

	if info.Size() == 0 {
		err = gocsv.Marshal(&out, file)
	} else {
		err = gocsv.MarshalWithoutHeaders(&out, file)
	}
	if err != nil {
		return fmt.Errorf("write mirror: %w", err)
	}
	return file.Sync()
}

// ReadAll loads every row of the mirror as raw quotes. A missing file yields no rows.
func (m *CSVMirror) ReadAll() ([]quote.RawQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	defer file.Close()

	var rows []MirrorRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("read mirror: %w", err)
	}

	raw := make([]quote.RawQuote, 0, len(rows))
	for _, r := range rows {
		raw = append(raw, quote.RawQuote{
			quote.FieldSymbol:    r.Symbol,
			quote.FieldPrice:     r.Price,
			quote.FieldVolume:    r.Volume,
			quote.FieldTimestamp: r.Timestamp,
			quote.FieldProvider:  r.Provider,
		})
	}
	return raw, nil
}

func toMirrorRow(q quote.CleanQuote) MirrorRow {
	return MirrorRow{
		Symbol:      q.Symbol,
		Price:       q.Price.String(),
		Volume:      q.Volume,
		Timestamp:   quote.FormatTimestamp(q.Timestamp),
		Provider:    q.Provider,
		ProcessedAt: quote.FormatTimestamp(q.ProcessedAt),
	}
}

var _ Mirror = (*CSVMirror)(nil)
