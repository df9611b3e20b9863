package main

import (
	"context"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/audit"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/killswitch"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/orchestrator"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/persistence"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/reconciliation"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/strategy"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/mock"
)

type fixedSignals []strategy.Candidate

func (f fixedSignals) Produce(context.Context, string, []string) ([]strategy.Candidate, error) {
	return f, nil
}

// TestFullWorkflow runs one decision cycle through the real gate, router and
// in-memory venue, then reconciles and halts.
func TestFullWorkflow(t *testing.T) {
	log.Println("🧪 Starting Full Workflow Test...")

	ctx := context.Background()
	dir := t.TempDir()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	stateMgr := state.NewManager(database)
	if err := stateMgr.Load(ctx); err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}

	bus := events.NewBus()
	kill := killswitch.New(filepath.Join(dir, "kill_switch"))
	preset, _ := risk.BuiltinPreset("balanced")
	preset.CooldownSec = 0
	gate := risk.NewGate(stateMgr, kill, preset)

	venue := mock.New(100000)
	venue.FillOnSubmit = true
	router := order.NewRouter(venue, gate, stateMgr, database, bus, nil, order.Config{
		ClientIDPrefix: "gt",
		DefaultTPPct:   1,
		DefaultSLPct:   0.5,
		Retry:          common.RetryPolicy{MaxAttempts: 1},
	})

	writer := persistence.NewBatchWriter(database.DB, 10, time.Hour)

	stop, target := 99.0, 103.0
	loop := orchestrator.New(orchestrator.Config{MinConf: 0.5, TopN: 1, MaxQty: 50}, orchestrator.Deps{
		Signals: fixedSignals{{Symbol: "AAPL", Side: "buy", Entry: 100, Stop: &stop, Target: &target, Confidence: 0.8, At: time.Now()}},
		Gate:    gate,
		Router:  router,
		Kill:    kill,
		Sink:    writer,
		Bus:     bus,
		Venue:   venue,
	})

	auditLog, err := audit.New(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	reconciler, err := reconciliation.NewService(venue, auditLog, filepath.Join(dir, "reconcile.json"), reconciliation.Options{
		SyncPositions: true,
		Retry:         common.RetryPolicy{MaxAttempts: 1},
		State:         stateMgr,
		Observer:      router,
		Bus:           bus,
	})
	if err != nil {
		t.Fatalf("reconciliation.NewService: %v", err)
	}

	var accepted orchestrator.Decision

	t.Run("DecisionCycle", func(t *testing.T) {
		loop.RunCycle(ctx)
		decs := loop.Decisions()
		if len(decs) != 1 {
			t.Fatalf("decisions = %d, want 1", len(decs))
		}
		accepted = decs[0]
		if accepted.Status != orchestrator.StatusAccepted {
			t.Fatalf("status = %s filters=%v", accepted.Status, accepted.Filters)
		}
		if accepted.Qty != 50 {
			t.Fatalf("qty = %d, want 50", accepted.Qty)
		}
		log.Printf("✅ Routed %s x%d (%s)", accepted.Symbol, accepted.Qty, accepted.Execution.ClientOrderID)
	})

	t.Run("OrderPersisted", func(t *testing.T) {
		rows, err := database.ListOrders(ctx, "", 10)
		if err != nil {
			t.Fatalf("ListOrders: %v", err)
		}
		if len(rows) != 1 || rows[0].Symbol != "AAPL" {
			t.Fatalf("orders = %+v", rows)
		}
	})

	t.Run("Reconciliation", func(t *testing.T) {
		summary, err := reconciler.SyncOnce(ctx, common.ScopeAll)
		if err != nil {
			t.Fatalf("SyncOnce: %v", err)
		}
		if summary.Seen != 1 {
			t.Fatalf("seen = %d, want 1", summary.Seen)
		}
		pos, ok := stateMgr.Position("AAPL")
		if !ok || pos.Qty != float64(accepted.Qty) {
			t.Fatalf("position = %+v ok=%v, want qty %d", pos, ok, accepted.Qty)
		}
		log.Printf("✅ Reconciled position AAPL=%.0f", pos.Qty)
	})

	t.Run("KillSwitchHaltsNextCycle", func(t *testing.T) {
		kill.Engage("integration test")
		loop.RunCycle(ctx)
		decs := loop.Decisions()
		last := decs[len(decs)-1]
		if last.Status != orchestrator.StatusRejected {
			t.Fatalf("status = %s, want rejected", last.Status)
		}
		want := "risk:" + risk.ReasonKillSwitch
		found := false
		for _, f := range last.Filters {
			if f == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("filters = %v, want %s", last.Filters, want)
		}
	})

	t.Run("DecisionsMirrored", func(t *testing.T) {
		if err := writer.Close(); err != nil {
			t.Fatalf("writer.Close: %v", err)
		}
		rows, err := database.RecentDecisions(ctx, 10)
		if err != nil {
			t.Fatalf("RecentDecisions: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("persisted decisions = %d, want 2", len(rows))
		}
	})
}
