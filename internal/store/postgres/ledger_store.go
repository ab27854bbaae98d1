package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/crossarb/internal/domain"
)

// LedgerStore implements domain.Ledger using PostgreSQL. Portfolio value is
// the sum of cash balances plus open positions marked at entry price.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// GetPortfolioValue returns cash plus open position notional at entry.
func (s *LedgerStore) GetPortfolioValue(ctx context.Context) (float64, error) {
	const query = `
		SELECT COALESCE((SELECT SUM(amount) FROM balances), 0)
		     + COALESCE((SELECT SUM(quantity * entry_price) FROM positions WHERE status = 'open'), 0)`
	var total float64
	if err := s.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: portfolio value: %w", err)
	}
	return total, nil
}

const positionSelectCols = `id, symbol, side, quantity, entry_price,
	stop_loss, take_profit, status, opened_at, closed_at, exit_price`

// GetPositions returns all positions, open first, newest first within status.
func (s *LedgerStore) GetPositions(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions ORDER BY status, opened_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.Side, &p.Quantity, &p.EntryPrice,
			&p.StopLoss, &p.TakeProfit, &p.Status, &p.OpenedAt,
			&p.ClosedAt, &p.ExitPrice,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetTradesSince returns trades executed at or after the given time, oldest
// first.
func (s *LedgerStore) GetTradesSince(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	const query = `
		SELECT id, symbol, venue_id, side, price, amount, fee, executed_at
		FROM trades WHERE executed_at >= $1 ORDER BY executed_at ASC`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: trades since: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.VenueID, &t.Side,
			&t.Price, &t.Amount, &t.Fee, &t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecordTrade persists a single executed trade.
func (s *LedgerStore) RecordTrade(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (id, symbol, venue_id, side, price, amount, fee, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, query,
		t.ID, t.Symbol, t.VenueID, t.Side, t.Price, t.Amount, t.Fee, t.ExecutedAt,
	); err != nil {
		return fmt.Errorf("postgres: record trade: %w", err)
	}
	return nil
}

// UpsertPosition inserts the position or updates its mutable fields.
func (s *LedgerStore) UpsertPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (id, symbol, side, quantity, entry_price,
			stop_loss, take_profit, status, opened_at, closed_at, exit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			entry_price = EXCLUDED.entry_price,
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at,
			exit_price = EXCLUDED.exit_price`
	if _, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.Side, p.Quantity, p.EntryPrice,
		p.StopLoss, p.TakeProfit, p.Status, p.OpenedAt, p.ClosedAt, p.ExitPrice,
	); err != nil {
		return fmt.Errorf("postgres: upsert position: %w", err)
	}
	return nil
}

// ClosePosition marks the position closed at the given exit price.
func (s *LedgerStore) ClosePosition(ctx context.Context, id string, exitPrice float64) error {
	const query = `
		UPDATE positions SET status = 'closed', closed_at = NOW(), exit_price = $2
		WHERE id = $1 AND status = 'open'`
	tag, err := s.pool.Exec(ctx, query, id, exitPrice)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// RecordArbitrageTrade persists the initial (buy_filled) arbitrage record.
func (s *LedgerStore) RecordArbitrageTrade(ctx context.Context, rec domain.ArbitrageTrade) error {
	const query = `
		INSERT INTO arbitrage_trades (id, opportunity_id, symbol, buy_venue, sell_venue,
			buy_order_id, sell_order_id, amount, buy_price, sell_price,
			buy_cost, sell_revenue, realized_profit, status, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := s.pool.Exec(ctx, query,
		rec.ID, rec.OpportunityID, rec.Symbol, rec.BuyVenue, rec.SellVenue,
		rec.BuyOrderID, rec.SellOrderID, rec.Amount, rec.BuyPrice, rec.SellPrice,
		rec.BuyCost, rec.SellRevenue, rec.RealizedProfit, rec.Status, rec.ExecutedAt,
	); err != nil {
		return fmt.Errorf("postgres: record arbitrage trade: %w", err)
	}
	return nil
}

// UpdateArbitrageTradeStatus transitions the record out of buy_filled with
// the sell-leg outcome.
func (s *LedgerStore) UpdateArbitrageTradeStatus(
	ctx context.Context,
	id string,
	status domain.ArbitrageTradeStatus,
	sellOrderID string,
	sellPrice, sellRevenue, realized float64,
) error {
	const query = `
		UPDATE arbitrage_trades SET status = $2, sell_order_id = $3,
			sell_price = $4, sell_revenue = $5, realized_profit = $6
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, status, sellOrderID, sellPrice, sellRevenue, realized)
	if err != nil {
		return fmt.Errorf("postgres: update arbitrage trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update arbitrage trade %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetArbitrageTrade fetches one record by ID.
func (s *LedgerStore) GetArbitrageTrade(ctx context.Context, id string) (domain.ArbitrageTrade, error) {
	const query = `
		SELECT id, opportunity_id, symbol, buy_venue, sell_venue,
			buy_order_id, sell_order_id, amount, buy_price, sell_price,
			buy_cost, sell_revenue, realized_profit, status, executed_at
		FROM arbitrage_trades WHERE id = $1`
	var rec domain.ArbitrageTrade
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.OpportunityID, &rec.Symbol, &rec.BuyVenue, &rec.SellVenue,
		&rec.BuyOrderID, &rec.SellOrderID, &rec.Amount, &rec.BuyPrice, &rec.SellPrice,
		&rec.BuyCost, &rec.SellRevenue, &rec.RealizedProfit, &rec.Status, &rec.ExecutedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ArbitrageTrade{}, fmt.Errorf("postgres: arbitrage trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ArbitrageTrade{}, fmt.Errorf("postgres: arbitrage trade %s: %w", id, err)
	}
	return rec, nil
}
