package db

import (
	"context"
	"fmt"
)

// InsertDecisionSQL is used by the batch writer for decision history.
const InsertDecisionSQL = `
	INSERT INTO decisions (id, ts, symbol, side, confidence, probability, expected_value, qty, filters, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
`

// DecisionArgs flattens a decision into InsertDecisionSQL arguments.
func DecisionArgs(dec Decision) []any {
	var prob any
	if dec.Probability != nil {
		prob = *dec.Probability
	}
	return []any{
		dec.ID, dec.TS, dec.Symbol, dec.Side, dec.Confidence, prob,
		dec.ExpectedValue, dec.Qty, dec.Filters, dec.Status,
	}
}

// ListOrders returns the most recently updated orders, optionally filtered by status.
func (d *Database) ListOrders(ctx context.Context, status string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT client_order_id, COALESCE(venue_order_id, ''), COALESCE(intent_key, ''), symbol, side,
		       qty, COALESCE(filled_qty, 0), COALESCE(limit_price, 0), COALESCE(take_profit, 0),
		       COALESCE(stop_loss, 0), status, COALESCE(asset_class, 'equity'), created_at, updated_at
		FROM orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// RecentDecisions returns the newest decision rows first.
func (d *Database) RecentDecisions(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ts, symbol, side, COALESCE(confidence, 0), probability, COALESCE(expected_value, 0),
		       COALESCE(qty, 0), COALESCE(filters, '[]'), status
		FROM decisions ORDER BY ts DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var res []Decision
	for rows.Next() {
		var dec Decision
		var prob *float64
		if err := rows.Scan(&dec.ID, &dec.TS, &dec.Symbol, &dec.Side, &dec.Confidence, &prob,
			&dec.ExpectedValue, &dec.Qty, &dec.Filters, &dec.Status); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		dec.Probability = prob
		res = append(res, dec)
	}
	return res, rows.Err()
}
