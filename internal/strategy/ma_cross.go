package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/indicators"
)

// MACrossSource is the built-in signal source used when no signal worker is
// configured. It keeps a price window per symbol and proposes trades in the
// direction of the fast/slow moving-average spread.
type MACrossSource struct {
	fastPeriod int
	slowPeriod int
	stopPct    float64
	targetPct  float64

	mu     sync.Mutex
	prices map[string][]float64
	last   map[string]time.Time
}

// NewMACrossSource creates a source; stops and targets sit stopPct and
// targetPct percent away from the last price.
func NewMACrossSource(fastPeriod, slowPeriod int, stopPct, targetPct float64) *MACrossSource {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = fastPeriod * 3
	}
	return &MACrossSource{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		stopPct:    stopPct,
		targetPct:  targetPct,
		prices:     make(map[string][]float64),
		last:       make(map[string]time.Time),
	}
}

// OnTick records a price observation.
func (s *MACrossSource) OnTick(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	symbol = strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	window := append(s.prices[symbol], price)
	if len(window) > s.slowPeriod {
		window = window[len(window)-s.slowPeriod:]
	}
	s.prices[symbol] = window
	s.last[symbol] = at
}

func (s *MACrossSource) Produce(ctx context.Context, profile string, universe []string) ([]Candidate, error) {
	keep := inUniverse(universe)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Candidate
	for sym, window := range s.prices {
		if !keep(sym) || len(window) < s.slowPeriod {
			continue
		}
		fast := indicators.SMA(window, s.fastPeriod)
		slow := indicators.SMA(window, s.slowPeriod)
		if slow <= 0 || fast == slow {
			continue
		}
		entry := window[len(window)-1]
		spread := (fast - slow) / slow
		rsi := indicators.RSI(window, len(window)-1)
		c := Candidate{
			Symbol:     sym,
			Side:       "buy",
			Entry:      entry,
			Confidence: 0.5 + math.Min(0.45, math.Abs(spread)*50),
			Score:      math.Abs(spread),
			Meta: map[string]any{
				"source": fmt.Sprintf("ma_cross_%d_%d", s.fastPeriod, s.slowPeriod),
				"fast":   fast,
				"slow":   slow,
				"rsi":    rsi,
			},
			At: s.last[sym],
		}
		dir := 1.0
		if spread < 0 {
			c.Side = "sell"
			dir = -1
		}
		// Chasing a stretched move: trade it, but with less conviction.
		if (dir > 0 && rsi > 70) || (dir < 0 && rsi < 30) {
			c.Confidence -= 0.1
		}
		if s.stopPct > 0 {
			stop := roundCents(entry * (1 - dir*s.stopPct/100))
			c.Stop = &stop
		}
		if s.targetPct > 0 {
			target := roundCents(entry * (1 + dir*s.targetPct/100))
			c.Target = &target
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
