package order

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/mock"
)

// DryRunSimConfig shapes simulated fills.
type DryRunSimConfig struct {
	SlippageBps         float64 // basis points of slippage applied on fills
	GatewayLatencyMinMs int     // simulated gateway latency lower bound
	GatewayLatencyMaxMs int     // simulated gateway latency upper bound
}

// Simulator fills orders against an in-memory venue. It never touches live
// portfolio state.
type Simulator struct {
	venue *mock.Venue
	cfg   DryRunSimConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(cfg DryRunSimConfig) *Simulator {
	if cfg.GatewayLatencyMaxMs > 0 && cfg.GatewayLatencyMinMs > cfg.GatewayLatencyMaxMs {
		cfg.GatewayLatencyMinMs, cfg.GatewayLatencyMaxMs = cfg.GatewayLatencyMaxMs, cfg.GatewayLatencyMinMs
	}
	v := mock.New(1_000_000)
	v.FillOnSubmit = true
	return &Simulator{
		venue: v,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Venue exposes the simulated book (dry-run positions, orders).
func (s *Simulator) Venue() *mock.Venue { return s.venue }

// Execute applies slippage and latency, then fills req at the simulated price.
func (s *Simulator) Execute(ctx context.Context, req common.OrderRequest, refPrice float64) (common.OrderResult, error) {
	price := req.LimitPrice
	if price <= 0 {
		price = refPrice
	}
	if price <= 0 {
		price = 1 // guard to avoid zero
	}

	s.mu.Lock()
	slippageFrac := s.cfg.SlippageBps / 10000.0
	if slippageFrac > 0 {
		noise := s.rng.Float64() * slippageFrac
		if strings.EqualFold(string(req.Side), "buy") {
			price = price * (1 + noise)
		} else {
			price = price * (1 - noise)
		}
	}
	delay := s.latencyLocked()
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return common.OrderResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	simReq := req
	simReq.LimitPrice = price
	simReq.Bracket = nil
	return s.venue.SubmitOrder(ctx, simReq)
}

func (s *Simulator) latencyLocked() time.Duration {
	minMs, maxMs := s.cfg.GatewayLatencyMinMs, s.cfg.GatewayLatencyMaxMs
	if maxMs <= 0 {
		return 0
	}
	if minMs < 0 {
		minMs = 0
	}
	delayMs := minMs
	if span := maxMs - minMs; span > 0 {
		delayMs += s.rng.Intn(span + 1)
	}
	return time.Duration(delayMs) * time.Millisecond
}
