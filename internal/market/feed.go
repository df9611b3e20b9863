// Package market turns venue market data (or a synthetic walk) into price
// ticks on the event bus.
package market

import (
	"context"
	"errors"
	"log"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/alpaca"
)

// Feed streams trades from the Alpaca data stream and publishes them.
type Feed struct {
	Stream  *alpaca.StreamClient
	Bus     *events.Bus
	Symbols []string
}

// Run blocks until ctx ends or the stream rejects the credentials.
func (f *Feed) Run(ctx context.Context) error {
	if f.Bus == nil || f.Stream == nil {
		log.Println("market feed not fully configured; skipping start")
		return nil
	}
	err := f.Stream.RunMarketData(ctx, f.Symbols, func(t events.PriceTick) {
		f.Bus.Publish(events.EventPriceTick, t)
	})
	if errors.Is(err, alpaca.ErrAuthFailed) {
		log.Printf("❌ market feed: %v; staleness breaker will see no data", err)
		return nil
	}
	return err
}

// Consume delivers every tick on the bus to the handlers until ctx ends.
func Consume(ctx context.Context, bus *events.Bus, handlers ...func(events.PriceTick)) {
	ch, unsub := bus.Subscribe(events.EventPriceTick, 256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			tick, ok := msg.(events.PriceTick)
			if !ok {
				continue
			}
			for _, h := range handlers {
				h(tick)
			}
		}
	}
}
