package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/config"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/alpaca"
)

// user_stream_check connects the Alpaca trade-update and market-data
// streams and logs every decoded message until Ctrl-C.
//
// Usage:
//   go run ./scripts/user_stream_check            # symbols from TRADE_UNIVERSE
//   go run ./scripts/user_stream_check AAPL,MSFT

func main() {
	log.Println("=== Stream check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	if cfg.AlpacaAPIKey == "" || cfg.AlpacaAPISecret == "" {
		log.Fatal("ALPACA_API_KEY/SECRET empty")
	}
	symbols := cfg.TradeUniverse
	if len(os.Args) > 1 {
		symbols = strings.Split(strings.ToUpper(os.Args[1]), ",")
	}
	log.Printf("Config: trade=%s data=%s symbols=%v", cfg.AlpacaTradeStream, cfg.AlpacaDataStream, symbols)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream := alpaca.NewStreamClient(cfg.AlpacaTradeStream, cfg.AlpacaDataStream, cfg.AlpacaAPIKey, cfg.AlpacaAPISecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.RunTradeUpdates(gctx, func(u events.TradeUpdate) {
			log.Printf("[TRADE] %s %s %s status=%s filled=%v px=%.4f", u.Event, u.Symbol, u.ClientOrderID, u.Status, deref(u.FilledQty), u.FillPrice)
		})
	})
	g.Go(func() error {
		return stream.RunMarketData(gctx, symbols, func(t events.PriceTick) {
			log.Printf("[TICK] %s %.4f x %.0f @ %s", t.Symbol, t.Price, t.Size, t.At.Format("15:04:05.000"))
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("❌ stream error: %v", err)
	}
	log.Println("=== Stream check stopped ===")
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
