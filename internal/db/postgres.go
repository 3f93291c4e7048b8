package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/pairs-trader/internal/candle"
)

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol      TEXT             NOT NULL,
	timeframe   TEXT             NOT NULL,
	timestamp   TIMESTAMPTZ      NOT NULL,
	open        DOUBLE PRECISION NOT NULL,
	high        DOUBLE PRECISION NOT NULL,
	low         DOUBLE PRECISION NOT NULL,
	close       DOUBLE PRECISION NOT NULL,
	volume      DOUBLE PRECISION NOT NULL,
	trade_count BIGINT           NOT NULL DEFAULT 0,
	source      TEXT             NOT NULL,
	PRIMARY KEY (symbol, timeframe, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_candles_range ON candles (symbol, timeframe, timestamp DESC);
`

// Transaction context key.
type txKey struct{}

// WithTransaction returns a context carrying tx. Storage methods called
// with it join the transaction instead of opening their own.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func transactionFrom(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Postgres stores candles in a single upsert-keyed table via lib/pq.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection, and applies the candle
// schema.
func OpenPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{db: sqlDB}
	if err := p.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing connection without applying the schema.
// Used by tests that manage their own database lifecycle.
func NewPostgres(sqlDB *sql.DB) *Postgres {
	return &Postgres{db: sqlDB}
}

func (p *Postgres) migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, candleSchema); err != nil {
		return fmt.Errorf("apply candle schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// executeWithTransaction runs fn inside the context's transaction when one
// is present, otherwise in a fresh transaction that is committed on success
// and rolled back on error.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := transactionFrom(ctx); tx != nil {
		return fn(tx)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := transactionFrom(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// SaveCandles upserts the batch. Later writes for the same
// (symbol, timeframe, timestamp) overwrite earlier ones, so re-persisting
// a force-closed bar after reconnect is harmless.
func (p *Postgres) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("invalid candle at index %d (%s %s): %w",
				i, candles[i].Symbol, candles[i].Timeframe, err)
		}
	}
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, trade_count, source)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume,
				trade_count=EXCLUDED.trade_count, source=EXCLUDED.source`)
		if err != nil {
			return fmt.Errorf("prepare candle upsert: %w", err)
		}
		defer stmt.Close()

		for i := range candles {
			c := &candles[i]
			_, err := stmt.ExecContext(ctx,
				c.Symbol, c.Timeframe, c.Timestamp.UTC(),
				c.Open, c.High, c.Low, c.Close, c.Volume, c.TradeCount, c.Source)
			if err != nil {
				return fmt.Errorf("save candle %s %s at %s: %w",
					c.Symbol, c.Timeframe, c.Timestamp.Format(time.RFC3339), err)
			}
		}
		return nil
	})
}

// GetCandles returns candles in [start, end), oldest first.
func (p *Postgres) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume, trade_count, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp ASC`,
		symbol, timeframe, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles for %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// GetLatestCandle returns the newest persisted candle, or nil when none
// exists.
func (p *Postgres) GetLatestCandle(ctx context.Context, symbol, timeframe string) (*candle.Candle, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume, trade_count, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2
		ORDER BY timestamp DESC
		LIMIT 1`,
		symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("query latest candle for %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	return &candles[0], nil
}

// DeleteCandles removes candles strictly before the cutoff.
func (p *Postgres) DeleteCandles(ctx context.Context, symbol, timeframe string, before time.Time) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM candles
			WHERE symbol=$1 AND timeframe=$2 AND timestamp < $3`,
			symbol, timeframe, before.UTC())
		if err != nil {
			return fmt.Errorf("delete candles for %s %s: %w", symbol, timeframe, err)
		}
		return nil
	})
}

func scanCandles(rows *sql.Rows) ([]candle.Candle, error) {
	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.TradeCount, &c.Source); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return out, nil
}
