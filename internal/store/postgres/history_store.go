package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/crossarb/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// RecordCandle persists one observation. Re-observations of the same
// (venue, symbol, timestamp) overwrite the earlier row.
func (s *HistoryStore) RecordCandle(ctx context.Context, c domain.Candle) error {
	const query = `
		INSERT INTO candles (venue_id, symbol, open, high, low, close, volume, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (venue_id, symbol, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high,
			low = EXCLUDED.low, close = EXCLUDED.close,
			volume = EXCLUDED.volume`
	if _, err := s.pool.Exec(ctx, query,
		c.VenueID, c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume, c.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: record candle: %w", err)
	}
	return nil
}

// GetCloses returns the most recent lookback closes for the symbol, oldest
// first. Per timestamp the venues' closes are averaged so no single venue
// skews the series.
func (s *HistoryStore) GetCloses(ctx context.Context, symbol string, lookback int) ([]float64, error) {
	const query = `
		SELECT close FROM (
			SELECT ts, AVG(close) AS close
			FROM candles WHERE symbol = $1
			GROUP BY ts ORDER BY ts DESC LIMIT $2
		) recent ORDER BY ts ASC`
	rows, err := s.pool.Query(ctx, query, symbol, lookback)
	if err != nil {
		return nil, fmt.Errorf("postgres: closes for %s: %w", symbol, err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("postgres: scan close: %w", err)
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}

// GetCandlesSince returns all candles at or after the given time, oldest
// first.
func (s *HistoryStore) GetCandlesSince(ctx context.Context, since time.Time) ([]domain.Candle, error) {
	const query = `
		SELECT venue_id, symbol, open, high, low, close, volume, ts
		FROM candles WHERE ts >= $1 ORDER BY ts ASC`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: candles since: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(
			&c.VenueID, &c.Symbol, &c.Open, &c.High, &c.Low,
			&c.Close, &c.Volume, &c.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// DeleteCandlesBefore removes archived candles. Returns the number deleted.
func (s *HistoryStore) DeleteCandlesBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM candles WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete candles before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListCandlesBefore returns candles older than the given time for archiving,
// oldest first.
func (s *HistoryStore) ListCandlesBefore(ctx context.Context, before time.Time) ([]domain.Candle, error) {
	const query = `
		SELECT venue_id, symbol, open, high, low, close, volume, ts
		FROM candles WHERE ts < $1 ORDER BY ts ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candles before: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(
			&c.VenueID, &c.Symbol, &c.Open, &c.High, &c.Low,
			&c.Close, &c.Volume, &c.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
