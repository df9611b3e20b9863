package order

import (
	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
)

func (r *Router) publishOrder(topic events.Event, rec OrderRecord, reason string, dryRun bool) {
	r.bus.Publish(topic, events.OrderEvent{
		ClientOrderID: rec.ClientOrderID,
		VenueOrderID:  rec.VenueOrderID,
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		Qty:           rec.Qty,
		Status:        string(rec.Status),
		Reason:        reason,
		DryRun:        dryRun,
	})
}

func (r *Router) publishRejected(intent ExecIntent, cid, reason string) {
	r.bus.Publish(events.EventOrderRejected, events.OrderEvent{
		ClientOrderID: cid,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		Status:        "rejected",
		Reason:        reason,
	})
}

// EmitPositionUpdate publishes a position change event.
func EmitPositionUpdate(bus *events.Bus, sym string, qty, delta float64) {
	bus.Publish(events.EventPositionChange, events.PositionEvent{Symbol: sym, Qty: qty, Delta: delta})
}

func statusTopic(status string) events.Event {
	switch status {
	case "filled":
		return events.EventOrderFilled
	case "partially_filled":
		return events.EventOrderPartiallyFilled
	case "canceled", "expired":
		return events.EventOrderCanceled
	case "rejected":
		return events.EventOrderRejected
	}
	return events.EventOrderUpdate
}
