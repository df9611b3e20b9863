package main

import (
	"context"
	"log"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/config"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/mock"
)

// dry_run_demo pushes a few intents through the router in dry-run mode.
// Nothing reaches a broker and no database is touched.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Submit a bracket BUY that the gate admits.
//   2) Resubmit the same intent to show duplicate suppression.
//   3) Submit an oversized intent the gate denies.

func main() {
	log.Println("=== DRY-RUN demo starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	preset, err := risk.ResolvePreset(cfg.RiskProfile, cfg.RiskPresetsFile, config.Getenv)
	if err != nil {
		log.Fatalf("risk presets: %v", err)
	}

	ctx := context.Background()
	bus := events.NewBus()
	orders, unsub := bus.SubscribeMany(32, events.EventOrderSubmitted, events.EventOrderRejected, events.EventOrderFilled)
	defer unsub()

	st := state.NewManager(nil)
	gate := risk.NewGate(st, nil, preset)
	router := order.NewRouter(mock.New(100000), gate, st, nil, bus, nil, order.Config{
		ClientIDPrefix: cfg.ClientIDPrefix,
		DefaultTPPct:   cfg.DefaultTPPct,
		DefaultSLPct:   cfg.DefaultSLPct,
		DryRun: order.DryRunSimConfig{
			SlippageBps:         cfg.DryRunSlippageBps,
			GatewayLatencyMinMs: cfg.DryRunGwLatencyMin,
			GatewayLatencyMaxMs: cfg.DryRunGwLatencyMax,
		},
	})
	router.SetDryRun(true)

	entry, stop := 190.0, 188.0
	intent := order.ExecIntent{
		Symbol: "AAPL", Side: "buy", Qty: 20, LimitPrice: &entry, Stop: &stop,
		AssetClass: "equity", Bracket: true,
	}

	log.Printf("[SCENARIO 1] Bracket BUY %v %s @ %.2f", intent.Qty, intent.Symbol, entry)
	report(router.Submit(ctx, intent))

	log.Printf("[SCENARIO 2] Same intent again")
	report(router.Submit(ctx, intent))

	log.Printf("[SCENARIO 3] Oversized BUY")
	big := intent
	big.Qty = 5000
	report(router.Submit(ctx, big))

	for {
		select {
		case env := <-orders:
			log.Printf("[EVENT] %s %+v", env.Topic, env.Payload)
		default:
			log.Printf("Positions after demo: %+v (live state is untouched by dry-run)", st.Positions())
			log.Println("=== DRY-RUN demo finished ===")
			return
		}
	}
}

func report(res order.ExecResult) {
	if res.Accepted {
		log.Printf("  ✓ accepted cid=%s status=%s fill=%.2f dry_run=%v", res.ClientOrderID, res.Status, res.FillPrice, res.DryRun)
		return
	}
	log.Printf("  ❌ rejected reason=%s max_qty=%v", res.Reason, res.MaxQty)
}
