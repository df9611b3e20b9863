package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Order is a persisted order record keyed by client order id.
type Order struct {
	ClientOrderID string
	VenueOrderID  string
	IntentKey     string
	Symbol        string
	Side          string
	Qty           float64
	FilledQty     float64
	LimitPrice    float64
	TakeProfit    float64
	StopLoss      float64
	Status        string
	AssetClass    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Position tracks the signed net position per symbol.
type Position struct {
	Symbol    string
	Qty       float64
	Notional  float64
	IsOption  bool
	UpdatedAt time.Time
}

// Decision is one decision-loop record.
type Decision struct {
	ID            string
	TS            time.Time
	Symbol        string
	Side          string
	Confidence    float64
	Probability   *float64
	ExpectedValue float64
	Qty           int
	Filters       string // JSON array
	Status        string
}

// UpsertOrder inserts or updates an order row.
func (d *Database) UpsertOrder(ctx context.Context, o Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			client_order_id, venue_order_id, intent_key, symbol, side, qty, filled_qty,
			limit_price, take_profit, stop_loss, status, asset_class, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			venue_order_id = excluded.venue_order_id,
			qty = excluded.qty,
			filled_qty = excluded.filled_qty,
			limit_price = excluded.limit_price,
			take_profit = excluded.take_profit,
			stop_loss = excluded.stop_loss,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		o.ClientOrderID, o.VenueOrderID, o.IntentKey, o.Symbol, o.Side, o.Qty, o.FilledQty,
		o.LimitPrice, o.TakeProfit, o.StopLoss, o.Status, o.AssetClass, o.CreatedAt, now,
	)
	return err
}

// GetOrder loads an order by client order id.
func (d *Database) GetOrder(ctx context.Context, clientOrderID string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT client_order_id, COALESCE(venue_order_id, ''), COALESCE(intent_key, ''), symbol, side,
		       qty, COALESCE(filled_qty, 0), COALESCE(limit_price, 0), COALESCE(take_profit, 0),
		       COALESCE(stop_loss, 0), status, COALESCE(asset_class, 'equity'), created_at, updated_at
		FROM orders WHERE client_order_id = ?
	`, clientOrderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// UpsertPosition stores the latest position for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, notional, is_option, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			notional = excluded.notional,
			is_option = excluded.is_option,
			updated_at = CURRENT_TIMESTAMP
	`, p.Symbol, p.Qty, p.Notional, p.IsOption)
	return err
}

// DeletePosition removes a flat position.
func (d *Database) DeletePosition(ctx context.Context, symbol string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

// ListPositions returns all stored positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, qty, notional, COALESCE(is_option, 0), updated_at FROM positions
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.Notional, &p.IsOption, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*Order, error) {
	var o Order
	if err := s.Scan(
		&o.ClientOrderID, &o.VenueOrderID, &o.IntentKey, &o.Symbol, &o.Side,
		&o.Qty, &o.FilledQty, &o.LimitPrice, &o.TakeProfit,
		&o.StopLoss, &o.Status, &o.AssetClass, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}
