package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hft-engine/inventory"
	"hft-engine/order"
)

// Store implements order.Store and inventory.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertOrder inserts a new order row.
func (s *Store) InsertOrder(ctx context.Context, o order.Order) error {
	const query = `
		INSERT INTO orders (
			id, symbol, order_type, side, price, size, filled_size, status,
			strategy_name, signal_strength, last_error, created_at, filled_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Symbol, string(o.Type), string(o.Side), o.Price, o.Size, o.FilledSize,
		string(o.Status), o.Strategy, o.SignalStrength, o.LastError, o.CreatedAt, nullTime(o.FilledAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrder replaces the mutable fields of an order.
func (s *Store) UpdateOrder(ctx context.Context, o order.Order) error {
	const query = `
		UPDATE orders SET
			price       = $2,
			filled_size = $3,
			status      = $4,
			last_error  = $5,
			filled_at   = $6,
			updated_at  = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.Price, o.FilledSize, string(o.Status), o.LastError, nullTime(o.FilledAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, order.ErrOrderNotFound)
	}
	return nil
}

// InsertTrade inserts a fill.
func (s *Store) InsertTrade(ctx context.Context, t order.Trade) error {
	const query = `
		INSERT INTO trades (
			id, order_id, symbol, side, price, size, strategy_name, execution_latency_us, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var lat *float64
	if t.ExecutionLatencyUs > 0 {
		lat = &t.ExecutionLatencyUs
	}
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.OrderID, t.Symbol, string(t.Side), t.Price, t.Size, t.Strategy, lat, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// GetOrder 按 id 读取订单。
func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	const query = `
		SELECT id, symbol, order_type, side, price, size, filled_size, status,
		       strategy_name, signal_strength, last_error, created_at, filled_at
		FROM orders WHERE id = $1`

	var o order.Order
	var typ, side, status string
	var filledAt *time.Time
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.Symbol, &typ, &side, &o.Price, &o.Size, &o.FilledSize, &status,
		&o.Strategy, &o.SignalStrength, &o.LastError, &o.CreatedAt, &filledAt,
	)
	if err == pgx.ErrNoRows {
		return order.Order{}, fmt.Errorf("postgres: get order %s: %w", id, order.ErrOrderNotFound)
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	o.Type, o.Side, o.Status = order.Type(typ), order.Side(side), order.Status(status)
	if filledAt != nil {
		o.FilledAt = filledAt.UTC()
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

// RecentTrades 返回最近 limit 笔成交，新的在前。
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]order.Trade, error) {
	const query = `
		SELECT id, order_id, symbol, side, price, size, strategy_name,
		       COALESCE(execution_latency_us, 0), executed_at
		FROM trades WHERE symbol = $1
		ORDER BY executed_at DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent trades %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []order.Trade
	for rows.Next() {
		var t order.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Price, &t.Size,
			&t.Strategy, &t.ExecutionLatencyUs, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Side = order.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertPosition inserts or replaces the position of p.Symbol.
func (s *Store) UpsertPosition(ctx context.Context, p inventory.Position) error {
	const query = `
		INSERT INTO positions (
			symbol, id, size, entry_price, current_price, unrealized_pnl, realized_pnl, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			size           = EXCLUDED.size,
			entry_price    = EXCLUDED.entry_price,
			current_price  = EXCLUDED.current_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl   = EXCLUDED.realized_pnl,
			updated_at     = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.Symbol, p.ID, p.Size, p.EntryPrice, p.CurrentPrice, p.UnrealizedPnL, p.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// LoadAllPositions returns every stored position.
func (s *Store) LoadAllPositions(ctx context.Context) ([]inventory.Position, error) {
	const query = `
		SELECT id, symbol, size, entry_price, current_price, unrealized_pnl, realized_pnl, updated_at
		FROM positions ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var out []inventory.Position
	for rows.Next() {
		var p inventory.Position
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Size, &p.EntryPrice, &p.CurrentPrice,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
