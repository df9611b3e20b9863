package risk

import (
	"log"
	"math"
	"strings"
	"sync"
	"time"
)

// Check evaluates a proposal against the preset. Rules run in a fixed order
// and the first failure wins.
func Check(p Proposal, pf Portfolio, preset Preset, halted bool) Decision {
	// 1. Kill switch.
	if halted {
		return deny(ReasonKillSwitch)
	}

	// 2. Daily loss limit.
	if pf.DayPnL() <= -math.Abs(preset.DailyLossLimit) {
		return deny(ReasonDailyLoss)
	}

	// 3. Basic sanity.
	if p.Qty <= 0 || p.Price <= 0 {
		return deny(ReasonInvalidQtyPrice)
	}

	existingQty, existingNotional, held := pf.PositionExposure(p.Symbol)
	additional := additionalNotional(p, existingQty)

	// 4. Portfolio notional cap.
	if pf.PortfolioNotional()+additional > preset.MaxNotional+notionalTolerance {
		return deny(ReasonPortfolioNotional)
	}

	// 5. Open position count, only for symbols not already held.
	if !held && pf.OpenPositionCount() >= preset.MaxPositions {
		return deny(ReasonMaxPositions)
	}

	// 6. Per-symbol notional cap.
	if math.Abs(existingNotional)+additional > preset.MaxSymbolNotional+notionalTolerance {
		return deny(ReasonSymbolNotional)
	}

	// 7. Cooldown.
	if age, ok := pf.LastTradeAge(p.Symbol); ok && age.Seconds() < preset.CooldownSec {
		return deny(ReasonCooldown)
	}

	// 8. Options liquidity and delta.
	if p.IsOption {
		if p.OpenInterest != nil && *p.OpenInterest < preset.OptionsMinOI {
			return deny(ReasonOptionsMinOI)
		}
		if p.Volume != nil && *p.Volume < preset.OptionsMinVolume {
			return deny(ReasonOptionsMinVolume)
		}
		if p.Delta != nil {
			d := math.Abs(*p.Delta)
			if d < preset.OptionsDeltaMin || d > preset.OptionsDeltaMax {
				return deny(ReasonOptionsDeltaBounds)
			}
		}
	}

	// 9. Per-trade risk against the stop.
	if p.Stop != nil {
		riskPerShare := math.Abs(p.Price - *p.Stop)
		if riskPerShare <= 0 {
			return deny(ReasonInvalidStop)
		}
		budget := RiskBudget(pf, preset)
		if budget <= 0 {
			zero := 0.0
			return Decision{Reason: ReasonPerTradeRisk, MaxQty: &zero}
		}
		maxQty := math.Max(budget/riskPerShare, 0)
		if p.Qty-maxQty > notionalTolerance {
			return Decision{Reason: ReasonPerTradeRisk, MaxQty: &maxQty}
		}
	}

	return Decision{Allow: true, Reason: ReasonOK}
}

// RiskBudget is the per-trade dollar risk: a percentage of equity, or of the
// notional cap while equity is unknown.
func RiskBudget(pf Portfolio, preset Preset) float64 {
	base := preset.MaxNotional
	if pf != nil {
		if eq, ok := pf.AccountEquity(); ok && eq > 0 {
			base = eq
		}
	}
	return preset.PerTradeRiskPct / 100.0 * base
}

func additionalNotional(p Proposal, existingQty float64) float64 {
	var dir float64
	switch strings.ToLower(p.Side) {
	case "buy":
		dir = 1
	case "sell":
		dir = -1
	default:
		return math.Abs(p.Qty * p.Price)
	}
	post := existingQty + dir*p.Qty
	addQty := math.Max(0, math.Abs(post)-math.Abs(existingQty))
	return addQty * p.Price
}

// Gate binds Check to live state, the halt flag and a preset, and keeps
// admission counters.
type Gate struct {
	portfolio Portfolio
	halter    Halter
	mu        sync.RWMutex
	preset    Preset
	metrics   GateMetrics
}

// NewGate creates a gate. halter may be nil.
func NewGate(pf Portfolio, halter Halter, preset Preset) *Gate {
	log.Printf("Risk gate initialized: profile=%s max_notional=%.0f per_trade_risk=%.2f%%",
		preset.Name, preset.MaxNotional, preset.PerTradeRiskPct)
	return &Gate{
		portfolio: pf,
		halter:    halter,
		preset:    preset,
		metrics:   GateMetrics{RejectionsBy: make(map[string]uint64)},
	}
}

// Check runs the admission rules against current state.
func (g *Gate) Check(p Proposal) Decision {
	start := time.Now()
	g.mu.RLock()
	preset := g.preset
	g.mu.RUnlock()

	halted := g.halter != nil && g.halter.Engaged()
	dec := Check(p, g.portfolio, preset, halted)

	g.mu.Lock()
	g.metrics.ChecksTotal++
	g.metrics.CheckLatencyNanos += uint64(time.Since(start).Nanoseconds())
	if !dec.Allow {
		g.metrics.RejectionsTotal++
		g.metrics.RejectionsBy[dec.Reason]++
	}
	g.mu.Unlock()
	return dec
}

// Budget returns the current per-trade dollar risk budget.
func (g *Gate) Budget() float64 {
	return RiskBudget(g.portfolio, g.Preset())
}

func (g *Gate) Preset() Preset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.preset
}

// SetPreset swaps the active limits.
func (g *Gate) SetPreset(p Preset) {
	g.mu.Lock()
	defer g.mu.Unlock()
	log.Printf("Risk preset changed: %s -> %s", g.preset.Name, p.Name)
	g.preset = p
}

// Metrics returns a snapshot of admission counters.
func (g *Gate) Metrics() GateMetrics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := g.metrics
	out.RejectionsBy = make(map[string]uint64, len(g.metrics.RejectionsBy))
	for k, v := range g.metrics.RejectionsBy {
		out.RejectionsBy[k] = v
	}
	return out
}
