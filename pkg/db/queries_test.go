package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestOrderUpsertAndLookup(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	o := Order{
		ClientOrderID: "gt-240102143000-abc123",
		VenueOrderID:  "v-1",
		Symbol:        "AAPL",
		Side:          "buy",
		Qty:           10,
		LimitPrice:    100,
		TakeProfit:    101,
		StopLoss:      99.5,
		Status:        "accepted",
		AssetClass:    "equity",
	}
	if err := database.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("UpsertOrder: %v", err)
	}

	o.FilledQty = 4
	o.Status = "partially_filled"
	if err := database.UpsertOrder(ctx, o); err != nil {
		t.Fatalf("UpsertOrder (update): %v", err)
	}

	got, err := database.GetOrder(ctx, o.ClientOrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.FilledQty != 4 || got.Status != "partially_filled" || got.VenueOrderID != "v-1" {
		t.Fatalf("unexpected order: %+v", got)
	}

	if _, err := database.GetOrder(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	open, err := database.ListOrders(ctx, "partially_filled", 10)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 order, got %d", len(open))
	}
}

func TestPositionLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.UpsertPosition(ctx, Position{Symbol: "MSFT", Qty: 5, Notional: 2000}); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}
	if err := database.UpsertPosition(ctx, Position{Symbol: "MSFT", Qty: -2, Notional: -800}); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}
	positions, err := database.ListPositions(ctx)
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Qty != -2 {
		t.Fatalf("unexpected positions: %+v", positions)
	}

	if err := database.DeletePosition(ctx, "MSFT"); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	positions, _ = database.ListPositions(ctx)
	if len(positions) != 0 {
		t.Fatalf("expected no positions, got %d", len(positions))
	}
}

func TestDecisionInsertAndRecent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	p := 0.61
	decisions := []Decision{
		{ID: "d1", TS: time.Now().Add(-time.Minute).UTC(), Symbol: "AAPL", Side: "buy", Probability: &p, Filters: "[]", Status: "accepted", Qty: 10},
		{ID: "d2", TS: time.Now().UTC(), Symbol: "MSFT", Side: "sell", Filters: `["ev_below_min"]`, Status: "filtered"},
	}
	for _, dec := range decisions {
		if _, err := database.DB.ExecContext(ctx, InsertDecisionSQL, DecisionArgs(dec)...); err != nil {
			t.Fatalf("insert decision: %v", err)
		}
	}

	got, err := database.RecentDecisions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDecisions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(got))
	}
	if got[0].ID != "d2" {
		t.Fatalf("expected newest first, got %s", got[0].ID)
	}
	if got[0].Probability != nil {
		t.Fatalf("expected nil probability for d2")
	}
	if got[1].Probability == nil || *got[1].Probability != p {
		t.Fatalf("expected probability %.2f for d1", p)
	}
}
