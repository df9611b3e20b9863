package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/api"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/audit"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/engine"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/gateway"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/killswitch"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/market"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/monitor"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/orchestrator"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/persistence"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/reconciliation"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/strategy"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/cache"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/config"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/alpaca"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ %v (set MOCK_MODE=true to run without a broker)", err)
	}
	log.Printf("✓ Config loaded (port=%s, mock=%v, broker=%s)", cfg.Port, cfg.MockMode, cfg.BrokerMode)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v0.1-dev"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ Failed to apply migrations: %v", err)
	}

	// In-memory state seeded from DB
	stateMgr := state.NewManager(database)
	if err := stateMgr.Load(ctx); err != nil {
		log.Fatalf("❌ Failed to load state: %v", err)
	}

	kill := killswitch.New(cfg.KillSwitchPath, killswitch.WithForcedHalt(cfg.TradeHalt))
	if kill.Engaged() {
		log.Printf("🛑 Kill switch engaged at startup: %s", kill.Info().Reason)
	}

	resolvePreset := func(profile string) (risk.Preset, error) {
		return risk.ResolvePreset(profile, cfg.RiskPresetsFile, config.Getenv)
	}
	preset, err := resolvePreset(cfg.RiskProfile)
	if err != nil {
		log.Fatalf("❌ Failed to load risk presets: %v", err)
	}
	gate := risk.NewGate(stateMgr, kill, preset)

	venues, err := gateway.New(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to build venue: %v", err)
	}

	sysMetrics := monitor.NewSystemMetrics()
	quotes := cache.NewQuotes()
	router := order.NewRouter(venues.Venue, gate, stateMgr, database, bus, sysMetrics, order.Config{
		ClientIDPrefix: cfg.ClientIDPrefix,
		DefaultTPPct:   cfg.DefaultTPPct,
		DefaultSLPct:   cfg.DefaultSLPct,
		Retry:          gateway.RetryPolicy(cfg),
		DryRun: order.DryRunSimConfig{
			SlippageBps:         cfg.DryRunSlippageBps,
			GatewayLatencyMinMs: cfg.DryRunGwLatencyMin,
			GatewayLatencyMaxMs: cfg.DryRunGwLatencyMax,
		},
	})

	auditLog, err := audit.New(cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("❌ Failed to open audit log: %v", err)
	}

	reconciler, err := reconciliation.NewService(venues.Venue, auditLog, cfg.ReconcileStatePath, reconciliation.Options{
		Interval:      cfg.ReconcileInterval,
		Scope:         cfg.ReconcileScope,
		SyncPositions: cfg.ReconcileSyncPositions,
		Retry:         gateway.RetryPolicy(cfg),
		State:         stateMgr,
		Observer:      router,
		Bus:           bus,
		Metrics:       sysMetrics,
	})
	if err != nil {
		log.Fatalf("❌ Failed to init reconciler: %v", err)
	}

	breakers := monitor.NewBreakers(
		monitor.LimitsFrom(cfg.MaxDataStaleSec, cfg.MaxRejectsPerMin, cfg.MaxLatencyP95Ms),
		sysMetrics, kill, bus, cfg.BreakerInterval,
	)
	recentAlerts := monitor.NewMemorySink(100)
	alerts := &monitor.Monitor{Bus: bus, Sink: monitor.MultiSink{monitor.LogSink{}, recentAlerts}}

	// Signal sources: the built-in MA cross always runs; file and worker
	// sources are added when configured.
	maCross := strategy.NewMACrossSource(5, 20, cfg.DefaultSLPct, cfg.DefaultTPPct)
	sources := strategy.MultiSource{maCross}
	if cfg.SignalsFile != "" {
		sources = append(sources, strategy.NewFileSource(cfg.SignalsFile))
		log.Printf("✓ Signal file source: %s", cfg.SignalsFile)
	}
	if cfg.SignalServiceAddr != "" {
		worker, err := strategy.NewWorkerClient(cfg.SignalServiceAddr)
		if err != nil {
			log.Fatalf("❌ Failed to dial signal service: %v", err)
		}
		defer worker.Close()
		sources = append(sources, worker)
		log.Printf("✓ Signal service: %s", cfg.SignalServiceAddr)
	}
	var predictor strategy.Predictor
	if cfg.PredictorAddr != "" {
		pc, err := strategy.NewWorkerClient(cfg.PredictorAddr)
		if err != nil {
			log.Fatalf("❌ Failed to dial predictor: %v", err)
		}
		defer pc.Close()
		predictor = pc
		log.Printf("✓ Predictor: %s", cfg.PredictorAddr)
	}

	decisions := persistence.NewBatchWriter(database.DB, 50, 2*time.Second)
	defer decisions.Close()

	loop := orchestrator.New(orchestrator.Config{
		Profile:     cfg.TradeProfile,
		Universe:    cfg.TradeUniverse,
		Interval:    cfg.TradeInterval,
		TopN:        cfg.TradeTopN,
		MinConf:     cfg.TradeMinConf,
		MinEV:       cfg.TradeMinEV,
		MaxQty:      cfg.TradeMaxQty,
		AutoRestart: cfg.TradeAutoRestart,
		MaxRestarts: cfg.TradeMaxRestarts,
	}, orchestrator.Deps{
		Signals:   sources,
		Predictor: predictor,
		Gate:      gate,
		Router:    router,
		Kill:      kill,
		Sink:      decisions,
		Bus:       bus,
		Metrics:   sysMetrics,
		Venue:     venues.Venue,
		MockMode:  cfg.MockMode,
	})

	venueName := "alpaca-" + cfg.BrokerMode
	if venues.Mock != nil {
		venueName = "mock"
	}
	mode := "LIVE"
	if cfg.MockMode || cfg.BrokerMode == "paper" {
		mode = "PAPER"
	}

	g, gctx := errgroup.WithContext(ctx)

	engService := engine.NewImpl(engine.Config{
		Root:       gctx,
		Loop:       loop,
		Kill:       kill,
		State:      stateMgr,
		Router:     router,
		Gate:       gate,
		Breakers:   breakers,
		Reconciler: reconciler,
		Audit:      auditLog,
		Bus:        bus,
		DB:         database,
		Quotes:     quotes,
		Alerts:     recentAlerts,
		Metrics:    sysMetrics,
		Presets:    resolvePreset,
		Meta: engine.SystemStatus{
			Mode:        mode,
			Venue:       venueName,
			Symbols:     cfg.TradeUniverse,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
		},
	})
	server := api.NewServer(engService, bus, cfg.JWTSecret)

	alerts.Start(gctx)
	breakers.Start(gctx)
	g.Go(func() error { return reconciler.Run(gctx) })

	// Market data
	var stream *alpaca.StreamClient
	if venues.Alpaca != nil && venues.Alpaca.IsConfigured() {
		stream = alpaca.NewStreamClient(cfg.AlpacaTradeStream, cfg.AlpacaDataStream, cfg.AlpacaAPIKey, cfg.AlpacaAPISecret)
	}
	if cfg.UseMockFeed || stream == nil {
		feed := &market.MockFeed{Bus: bus, Symbols: cfg.TradeUniverse, StartPrice: 100, Step: 0.25, Interval: time.Second}
		g.Go(func() error { return feed.Run(gctx) })
		log.Println("✓ Mock market feed started")
	} else {
		feed := &market.Feed{Stream: stream, Bus: bus, Symbols: cfg.TradeUniverse}
		g.Go(func() error { return feed.Run(gctx) })
		log.Println("✓ Alpaca market data stream started")
	}
	g.Go(func() error {
		market.Consume(gctx, bus, func(t events.PriceTick) {
			sysMetrics.MarkMarketEvent(t.At)
			quotes.Set(t.Symbol, t.Price, t.At)
			maCross.OnTick(t.Symbol, t.Price, t.At)
			if venues.Mock != nil {
				venues.Mock.SetPrice(t.Symbol, t.Price)
			}
		})
		return nil
	})

	g.Go(func() error {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				quotes.Prune(now, time.Hour)
			}
		}
	})

	// Fill truth from the venue's trade-update stream
	if stream != nil {
		g.Go(func() error {
			err := stream.RunTradeUpdates(gctx, func(u events.TradeUpdate) {
				router.ProcessUpdate(gctx, u)
			})
			if errors.Is(err, alpaca.ErrAuthFailed) {
				log.Printf("❌ trade update stream: %v; relying on reconciliation", err)
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		log.Printf("✓ API listening on :%s", cfg.Port)
		return server.Serve(gctx, ":"+cfg.Port)
	})

	<-gctx.Done()
	log.Println("🛑 Shutting down...")
	// Process shutdown ends the loop without engaging the kill switch.
	loop.Wait()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("❌ %v", err)
	}
}
