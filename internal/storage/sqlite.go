package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"market-data-automation/internal/quote"
)

// sqliteChunkRows bounds a multi-row INSERT well below SQLite's variable limit.
const sqliteChunkRows = 500

const (
	sqliteSchemaSQL = `
	CREATE TABLE IF NOT EXISTS market_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		volume INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT 'unknown',
		processed_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(symbol, timestamp)
	);

	CREATE INDEX IF NOT EXISTS idx_market_data_symbol_timestamp ON market_data(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_market_data_timestamp ON market_data(timestamp);
	`

	sqliteInsertPrefix = `INSERT INTO market_data (symbol, price, volume, timestamp, provider, processed_at, created_at) VALUES `

	sqliteInsertIgnoreSQL = sqliteInsertPrefix + `(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timestamp) DO NOTHING`

	sqliteLatestPerSymbolSQL = `SELECT m.id, m.symbol, m.price, m.volume, m.timestamp, m.provider, m.processed_at, m.created_at
		FROM market_data m
		WHERE m.id = (
			SELECT i.id FROM market_data i
			WHERE i.symbol = m.symbol
			ORDER BY i.timestamp DESC, i.id DESC
			LIMIT 1
		)
		ORDER BY m.symbol`

	sqliteSummarySQL = `SELECT COUNT(*), COUNT(DISTINCT symbol), MIN(timestamp), MAX(timestamp) FROM market_data`

	sqlitePerSymbolSQL = `SELECT symbol, COUNT(*) AS n FROM market_data GROUP BY symbol ORDER BY n DESC, symbol`

	sqliteDeleteBeforeSQL = `DELETE FROM market_data WHERE timestamp < ?`
)

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	tsColumn:    "timestamp",
	bindTime:    func(t time.Time) any { return quote.FormatTimestamp(t) },
}

// SQLiteStore implements QuoteStore on an embedded SQLite file. Timestamps are
// stored as canonical fixed-width UTC text so range predicates compare correctly.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// EnsureSchema creates the market_data table.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// BulkInsert writes the batch with multi-row INSERTs inside one transaction.
func (s *SQLiteStore) BulkInsert(ctx context.Context, batch []quote.CleanQuote) ([]quote.CleanQuote, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bulk insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := quote.FormatTimestamp(s.now())
	for start := 0; start < len(batch); start += sqliteChunkRows {
		end := start + sqliteChunkRows
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]

		var b strings.Builder
		b.WriteString(sqliteInsertPrefix)
		args := make([]any, 0, len(chunk)*7)
		for i, q := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, sqliteArgs(q, createdAt)...)
		}

		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return nil, classifySQLiteError("bulk insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLiteError("commit bulk insert", err)
	}
	return batch, nil
}

// InsertIgnoringDuplicates inserts row by row, skipping existing keys.
func (s *SQLiteStore) InsertIgnoringDuplicates(ctx context.Context, batch []quote.CleanQuote) ([]quote.CleanQuote, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin row insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteInsertIgnoreSQL)
	if err != nil {
		return nil, fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	createdAt := quote.FormatTimestamp(s.now())
	stored := make([]quote.CleanQuote, 0, len(batch))
	for _, q := range batch {
		res, err := stmt.ExecContext(ctx, sqliteArgs(q, createdAt)...)
		if err != nil {
			return nil, fmt.Errorf("insert quote %s: %w", q.Key(), err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			continue
		}
		stored = append(stored, q)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit row insert: %w", err)
	}
	return stored, nil
}

// LoadExisting returns stored rows for symbols.
func (s *SQLiteStore) LoadExisting(ctx context.Context, symbols []string) ([]quote.StoredRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query := "SELECT " + sqliteDialect.selectColumns() + " FROM market_data"
	args := make([]any, 0, len(symbols))
	if symbols != nil {
		if len(symbols) == 0 {
			return []quote.StoredRecord{}, nil
		}
		marks := make([]string, len(symbols))
		for i, sym := range symbols {
			marks[i] = "?"
			args = append(args, sym)
		}
		query += " WHERE symbol IN (" + strings.Join(marks, ", ") + ")"
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load existing: %w", err)
	}
	return collectSQLiteRecords(rows)
}

// ListQuotes lists stored quotes newest first.
func (s *SQLiteStore) ListQuotes(ctx context.Context, filter QuoteFilter) ([]quote.StoredRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	query, args := sqliteDialect.listQuery(filter)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	return collectSQLiteRecords(rows)
}

// LatestPerSymbol returns the newest row of every symbol.
func (s *SQLiteStore) LatestPerSymbol(ctx context.Context) ([]quote.StoredRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteLatestPerSymbolSQL)
	if err != nil {
		return nil, fmt.Errorf("latest per symbol: %w", err)
	}
	return collectSQLiteRecords(rows)
}

// Statistics summarises stored rows.
func (s *SQLiteStore) Statistics(ctx context.Context) (Stats, error) {
	db, err := s.getDB()
	if err != nil {
		return Stats{}, err
	}

	var (
		stats            Stats
		earliest, latest sql.NullString
	)
	if err := db.QueryRowContext(ctx, sqliteSummarySQL).Scan(&stats.TotalRecords, &stats.UniqueSymbols, &earliest, &latest); err != nil {
		return Stats{}, fmt.Errorf("statistics summary: %w", err)
	}
	if earliest.Valid {
		t, err := parseStoredTime(earliest.String)
		if err != nil {
			return Stats{}, err
		}
		stats.Earliest = &t
	}
	if latest.Valid {
		t, err := parseStoredTime(latest.String)
		if err != nil {
			return Stats{}, err
		}
		stats.Latest = &t
	}

	rows, err := db.QueryContext(ctx, sqlitePerSymbolSQL)
	if err != nil {
		return Stats{}, fmt.Errorf("statistics per symbol: %w", err)
	}
	defer rows.Close()

	stats.RecordsPerSymbol = make([]SymbolCount, 0)
	for rows.Next() {
		var sc SymbolCount
		if err := rows.Scan(&sc.Symbol, &sc.Count); err != nil {
			return Stats{}, err
		}
		stats.RecordsPerSymbol = append(stats.RecordsPerSymbol, sc)
	}
	if rows.Err() != nil {
		return Stats{}, rows.Err()
	}
	return stats, nil
}

// DeleteBefore removes rows older than cutoff.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, sqliteDeleteBeforeSQL, quote.FormatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	return res.RowsAffected()
}

func sqliteArgs(q quote.CleanQuote, createdAt string) []any {
	return []any{
		q.Symbol,
		q.Price.String(),
		q.Volume,
		quote.FormatTimestamp(q.Timestamp),
		q.Provider,
		quote.FormatTimestamp(q.ProcessedAt),
		createdAt,
	}
}

func collectSQLiteRecords(rows *sql.Rows) ([]quote.StoredRecord, error) {
	defer rows.Close()

	records := make([]quote.StoredRecord, 0)
	for rows.Next() {
		var (
			rec                              quote.StoredRecord
			price                            string
			timestamp, processedAt, createdAt string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&price,
			&rec.Volume,
			&timestamp,
			&rec.Provider,
			&processedAt,
			&createdAt,
		); err != nil {
			return nil, err
		}

		value, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of %s: %w", rec.Symbol, err)
		}
		rec.Price = value

		if rec.Timestamp, err = parseStoredTime(timestamp); err != nil {
			return nil, err
		}
		if rec.ProcessedAt, err = parseStoredTime(processedAt); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = parseStoredTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func parseStoredTime(v string) (time.Time, error) {
	t, err := time.Parse(quote.TimestampLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

// classifySQLiteError maps unique violations onto ErrDuplicate.
func classifySQLiteError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicate, sqliteErr.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ QuoteStore = (*SQLiteStore)(nil)
