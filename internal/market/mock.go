package market

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
)

// MockFeed generates a random walk per symbol for local development.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Seed       int64
}

// Run publishes one tick per symbol every Interval until ctx ends.
func (m *MockFeed) Run(ctx context.Context) error {
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return nil
	}
	symbols := m.Symbols
	if len(symbols) == 0 {
		symbols = []string{"SPY"}
	}
	start := m.StartPrice
	if start <= 0 {
		start = 100.0
	}
	step := m.Step
	if step <= 0 {
		step = 0.5
	}
	interval := m.Interval
	if interval <= 0 {
		interval = time.Second
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = start
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			for _, sym := range symbols {
				px := prices[sym] + (rng.Float64()*2-1)*step
				px = math.Max(math.Round(px*100)/100, 0.01)
				prices[sym] = px
				m.Bus.Publish(events.EventPriceTick, events.PriceTick{Symbol: sym, Price: px, Size: 1, At: now.UTC()})
			}
		}
	}
}
