// Package gateway selects the venue adapter the runtime trades through.
package gateway

import (
	"fmt"
	"log"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/config"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/alpaca"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/mock"
)

// MockStartingCash seeds the in-memory venue.
const MockStartingCash = 100000.0

// Venues bundles the adapter with its concrete form so callers can reach
// mock-only controls (prices, fills) without type switches.
type Venues struct {
	Venue  common.Venue
	Mock   *mock.Venue    // nil unless running against the in-memory venue
	Alpaca *alpaca.Client // nil in mock mode
}

// New builds the venue for cfg: the in-memory venue in mock mode, Alpaca
// paper or live otherwise.
func New(cfg *config.Config) (Venues, error) {
	if cfg.MockMode {
		v := mock.New(MockStartingCash)
		v.FillOnSubmit = true
		log.Printf("✓ Venue: in-memory mock (cash=%.0f)", MockStartingCash)
		return Venues{Venue: v, Mock: v}, nil
	}

	switch cfg.BrokerMode {
	case "paper", "live":
		c := alpaca.New(alpaca.Config{
			BaseURL:    cfg.AlpacaBaseURL,
			APIKey:     cfg.AlpacaAPIKey,
			APISecret:  cfg.AlpacaAPISecret,
			Timeout:    cfg.VenueTimeout,
			RatePerSec: cfg.VenueRatePerSec,
			RateBurst:  cfg.VenueRateBurst,
		})
		if !c.IsConfigured() {
			log.Printf("⚠️ Venue: alpaca %s without credentials, orders will be simulated", cfg.BrokerMode)
		} else {
			log.Printf("✓ Venue: alpaca %s (%s)", cfg.BrokerMode, cfg.AlpacaBaseURL)
		}
		return Venues{Venue: c, Alpaca: c}, nil
	default:
		return Venues{}, fmt.Errorf("unsupported broker mode: %s", cfg.BrokerMode)
	}
}

// RetryPolicy derives the venue retry policy from cfg.
func RetryPolicy(cfg *config.Config) common.RetryPolicy {
	p := common.DefaultRetryPolicy()
	if cfg.VenueMaxAttempts > 0 {
		p.MaxAttempts = cfg.VenueMaxAttempts
	}
	return p
}
