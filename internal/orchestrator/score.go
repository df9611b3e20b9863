package orchestrator

import (
	"math"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/strategy"
)

type scored struct {
	cand strategy.Candidate
	ev   float64
	prob *float64
}

// directionProbability mirrors an up-probability for the sell side.
func directionProbability(side string, pUp *float64) *float64 {
	if pUp == nil {
		return nil
	}
	p := *pUp
	if side != "buy" {
		p = clamp(1-p, 0, 1)
	}
	return &p
}

// expectedValue is p*gain - (1-p)*loss when the candidate carries both a
// stop and a target and a probability is known; otherwise its confidence.
func expectedValue(c strategy.Candidate, prob *float64) float64 {
	if prob == nil || c.Stop == nil || c.Target == nil {
		return c.Confidence
	}
	var gain, loss float64
	if c.Side == "buy" {
		gain = *c.Target - c.Entry
		loss = c.Entry - *c.Stop
	} else {
		gain = c.Entry - *c.Target
		loss = *c.Stop - c.Entry
	}
	gain = math.Max(gain, 0)
	loss = math.Max(loss, 0)
	p := *prob
	return p*gain - clamp(1-p, 0, 1)*loss
}

// sizeQty converts a dollar risk budget into whole units.
func sizeQty(c strategy.Candidate, budget float64) int {
	if budget <= 0 || math.IsNaN(budget) || math.IsInf(budget, 0) {
		return 0
	}
	entry := math.Max(c.Entry, 1e-6)
	var raw float64
	if c.Stop != nil {
		perUnit := math.Abs(entry - *c.Stop)
		if perUnit <= 1e-6 {
			perUnit = math.Max(entry*0.01, 0.5)
		}
		raw = budget / perUnit
	} else {
		raw = budget / entry
	}
	qty := math.Floor(raw * clamp(c.Confidence, 0.25, 2.0))
	if qty <= 0 || math.IsNaN(qty) {
		return 0
	}
	if qty > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(qty)
}

func secondary(s scored) float64 {
	if s.prob != nil {
		return *s.prob
	}
	return s.cand.Score
}

// rankLess orders by EV desc, then secondary score desc, then symbol asc,
// then candidate time asc.
func rankLess(a, b scored) bool {
	if a.ev != b.ev {
		return a.ev > b.ev
	}
	if sa, sb := secondary(a), secondary(b); sa != sb {
		return sa > sb
	}
	if a.cand.Symbol != b.cand.Symbol {
		return a.cand.Symbol < b.cand.Symbol
	}
	return a.cand.At.Before(b.cand.At)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
