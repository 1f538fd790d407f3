package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"market-data-automation/internal/quote"
)

const pgUniqueViolation = "23505"

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS market_data (
        id           BIGSERIAL PRIMARY KEY,
        symbol       TEXT        NOT NULL,
        price        NUMERIC     NOT NULL,
        volume       BIGINT      NOT NULL DEFAULT 0,
        "timestamp"  TIMESTAMPTZ NOT NULL,
        provider     TEXT        NOT NULL DEFAULT 'unknown',
        processed_at TIMESTAMPTZ NOT NULL,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (symbol, "timestamp")
    );
    CREATE INDEX IF NOT EXISTS idx_market_data_symbol_timestamp ON market_data (symbol, "timestamp");
    CREATE INDEX IF NOT EXISTS idx_market_data_timestamp ON market_data ("timestamp");`

	pgInsertIgnoreSQL = `INSERT INTO market_data (
        symbol,
        price,
        volume,
        "timestamp",
        provider,
        processed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (symbol, "timestamp") DO NOTHING;`

	pgSelectColumns = `id, symbol, price, volume, "timestamp", provider, processed_at, created_at`

	pgLoadExistingSQL = `SELECT ` + pgSelectColumns + `
    FROM market_data
    WHERE symbol = ANY($1);`

	pgLoadAllSQL = `SELECT ` + pgSelectColumns + ` FROM market_data;`

	pgLatestPerSymbolSQL = `SELECT DISTINCT ON (symbol) ` + pgSelectColumns + `
    FROM market_data
    ORDER BY symbol, "timestamp" DESC, id DESC;`

	pgSummarySQL = `SELECT COUNT(*), COUNT(DISTINCT symbol), MIN("timestamp"), MAX("timestamp") FROM market_data;`

	pgPerSymbolSQL = `SELECT symbol, COUNT(*) AS n
    FROM market_data
    GROUP BY symbol
    ORDER BY n DESC, symbol;`

	pgDeleteBeforeSQL = `DELETE FROM market_data WHERE "timestamp" < $1;`
)

var pgCopyColumns = []string{"symbol", "price", "volume", "timestamp", "provider", "processed_at"}

var pgDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	tsColumn:    `"timestamp"`,
	bindTime:    func(t time.Time) any { return t.UTC() },
}

// PostgresStore implements QuoteStore on PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the market_data table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// BulkInsert copies the batch inside a single transaction.
func (s *PostgresStore) BulkInsert(ctx context.Context, batch []quote.CleanQuote) ([]quote.CleanQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin bulk insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"market_data"}, pgCopyColumns, pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
		q := batch[i]
		return []any{q.Symbol, toNumeric(q.Price), q.Volume, q.Timestamp, q.Provider, q.ProcessedAt}, nil
	}))
	if err != nil {
		return nil, classifyPgError("bulk insert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPgError("commit bulk insert", err)
	}
	return batch, nil
}

// InsertIgnoringDuplicates queues one ON CONFLICT DO NOTHING insert per row.
func (s *PostgresStore) InsertIgnoringDuplicates(ctx context.Context, batch []quote.CleanQuote) ([]quote.CleanQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin row insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, q := range batch {
		b.Queue(pgInsertIgnoreSQL, q.Symbol, toNumeric(q.Price), q.Volume, q.Timestamp, q.Provider, q.ProcessedAt)
	}

	results := tx.SendBatch(ctx, b)
	stored := make([]quote.CleanQuote, 0, len(batch))
	for _, q := range batch {
		ct, execErr := results.Exec()
		if execErr != nil {
			_ = results.Close()
			return nil, fmt.Errorf("insert quote %s: %w", q.Key(), execErr)
		}
		if ct.RowsAffected() == 0 {
			continue
		}
		stored = append(stored, q)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("close insert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit row insert: %w", err)
	}
	return stored, nil
}

// LoadExisting returns stored rows for symbols.
func (s *PostgresStore) LoadExisting(ctx context.Context, symbols []string) ([]quote.StoredRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	if symbols == nil {
		rows, err = pool.Query(ctx, pgLoadAllSQL)
	} else {
		rows, err = pool.Query(ctx, pgLoadExistingSQL, symbols)
	}
	if err != nil {
		return nil, fmt.Errorf("load existing: %w", err)
	}
	return collectPgRecords(rows)
}

// ListQuotes lists stored quotes newest first.
func (s *PostgresStore) ListQuotes(ctx context.Context, filter QuoteFilter) ([]quote.StoredRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query, args := pgDialect.listQuery(filter)
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	return collectPgRecords(rows)
}

// LatestPerSymbol returns the newest row of every symbol.
func (s *PostgresStore) LatestPerSymbol(ctx context.Context) ([]quote.StoredRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgLatestPerSymbolSQL)
	if err != nil {
		return nil, fmt.Errorf("latest per symbol: %w", err)
	}
	return collectPgRecords(rows)
}

// Statistics summarises stored rows.
func (s *PostgresStore) Statistics(ctx context.Context) (Stats, error) {
	pool, err := s.getPool()
	if err != nil {
		return Stats{}, err
	}

	var (
		stats    Stats
		earliest pgtype.Timestamptz
		latest   pgtype.Timestamptz
	)
	if err := pool.QueryRow(ctx, pgSummarySQL).Scan(&stats.TotalRecords, &stats.UniqueSymbols, &earliest, &latest); err != nil {
		return Stats{}, fmt.Errorf("statistics summary: %w", err)
	}
	if earliest.Valid {
		t := earliest.Time.UTC()
		stats.Earliest = &t
	}
	if latest.Valid {
		t := latest.Time.UTC()
		stats.Latest = &t
	}

	rows, err := pool.Query(ctx, pgPerSymbolSQL)
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
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, pgDeleteBeforeSQL, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectPgRecords(rows pgx.Rows) ([]quote.StoredRecord, error) {
	defer rows.Close()

	records := make([]quote.StoredRecord, 0)
	for rows.Next() {
		var (
			rec   quote.StoredRecord
			price pgtype.Numeric
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&price,
			&rec.Volume,
			&rec.Timestamp,
			&rec.Provider,
			&rec.ProcessedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		value, err := fromNumeric(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of %s: %w", rec.Symbol, err)
		}
		rec.Price = value
		rec.Timestamp = quote.NormalizeTimestamp(rec.Timestamp)
		rec.ProcessedAt = quote.NormalizeTimestamp(rec.ProcessedAt)
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Decimal{}, errors.New("null numeric")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, errors.New("non-finite numeric")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// classifyPgError maps unique violations onto ErrDuplicate.
func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicate, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ QuoteStore = (*PostgresStore)(nil)
