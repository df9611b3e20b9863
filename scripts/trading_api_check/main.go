package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/config"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/alpaca"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// trading_api_check exercises the Alpaca adapter against the configured
// account so credential and endpoint problems show up before the runtime
// starts.
//
// Usage (paper account recommended):
//
//   go run ./scripts/trading_api_check
//
// Environment (same as the runtime):
//   ALPACA_API_KEY / ALPACA_API_SECRET / ALPACA_BASE_URL / BROKER_MODE
//
// Control:
//   TRADING_CHECK_PLACE_ORDERS  (default "false")
//        - false: read-only calls (account, positions, orders)
//        - true : also submits and cancels a far-from-market 1 share limit order
//   CHECK_SYMBOL                (default "SPY")

func main() {
	log.Println("=== Trading API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	placeOrders := getenv("TRADING_CHECK_PLACE_ORDERS", "false") == "true"
	symbol := getenv("CHECK_SYMBOL", "SPY")

	client := alpaca.New(alpaca.Config{
		BaseURL:    cfg.AlpacaBaseURL,
		APIKey:     cfg.AlpacaAPIKey,
		APISecret:  cfg.AlpacaAPISecret,
		Timeout:    cfg.VenueTimeout,
		RatePerSec: cfg.VenueRatePerSec,
		RateBurst:  cfg.VenueRateBurst,
	})
	if !client.IsConfigured() {
		log.Fatal("ALPACA_API_KEY/SECRET empty, nothing to check")
	}
	log.Printf("Config: base=%s mode=%s placeOrders=%v symbol=%s", cfg.AlpacaBaseURL, cfg.BrokerMode, placeOrders, symbol)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	acct, err := client.GetAccount(ctx)
	if err != nil {
		log.Fatalf("[ACCOUNT] error: %v (unauthorized=%v)", err, common.IsUnauthorized(err))
	}
	log.Printf("[ACCOUNT] status=%v equity=%v buying_power=%v", acct["status"], acct["equity"], acct["buying_power"])

	positions, err := client.ListPositions(ctx)
	if err != nil {
		log.Printf("[POSITIONS] error: %v", err)
	} else {
		log.Printf("[POSITIONS] %d open", len(positions))
	}

	open, err := client.ListOrders(ctx, common.ScopeOpen, 50)
	if err != nil {
		log.Printf("[ORDERS] error: %v", err)
	} else {
		log.Printf("[ORDERS] %d open", len(open))
	}

	if !placeOrders {
		log.Println("=== Trading API check done (read-only) ===")
		return
	}

	res, err := client.SubmitOrder(ctx, common.OrderRequest{
		Symbol:      symbol,
		Side:        common.SideBuy,
		Type:        common.OrderTypeLimit,
		Qty:         1,
		LimitPrice:  1.00,
		TimeInForce: common.TIFDay,
		ClientID:    "gt-check-" + time.Now().UTC().Format("150405"),
		AssetClass:  "equity",
	})
	if err != nil {
		log.Fatalf("[SUBMIT] error: %v", err)
	}
	log.Printf("[SUBMIT] venue_id=%s status=%s", res.VenueOrderID, res.Status)

	if err := client.CancelOrder(ctx, res.VenueOrderID); err != nil {
		log.Printf("[CANCEL] error: %v", err)
	} else {
		log.Printf("[CANCEL] ok")
	}
	log.Println("=== Trading API check done ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
