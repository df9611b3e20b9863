package events

import "time"

// Event enumerates high-level topics inside the trading runtime.
type Event string

const (
	EventPriceTick            Event = "price_tick"
	EventOrderUpdate          Event = "order_update"
	EventRiskAlert            Event = "risk_alert"
	EventPositionChange       Event = "position_change"
	EventOrderSubmitted       Event = "order.submitted"
	EventOrderAccepted        Event = "order.accepted"
	EventOrderRejected        Event = "order.rejected"
	EventOrderFilled          Event = "order.filled"
	EventOrderPartiallyFilled Event = "order.partially_filled"
	EventOrderCanceled        Event = "order.canceled"
	EventKillSwitch           Event = "kill_switch"
	EventBreakerTrip          Event = "breaker.trip"
	EventDecision             Event = "decision"
	EventReconcile            Event = "reconcile.summary"
)

// PriceTick is a last-trade observation from the market data feed.
type PriceTick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size,omitempty"`
	At     time.Time `json:"at"`
}

// TradeUpdate is a venue order/fill notification.
// FillQty is the incremental fill when the venue sends one; FilledQty is cumulative.
type TradeUpdate struct {
	Event         string    `json:"event"`
	VenueOrderID  string    `json:"venue_order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Status        string    `json:"status"`
	FillQty       *float64  `json:"fill_qty,omitempty"`
	FilledQty     *float64  `json:"filled_qty,omitempty"`
	FillPrice     float64   `json:"fill_price"`
	RealizedPL    float64   `json:"realized_pl,omitempty"`
	AssetClass    string    `json:"asset_class,omitempty"`
	At            time.Time `json:"at"`
}

// OrderEvent is published by the router for lifecycle transitions.
type OrderEvent struct {
	ClientOrderID string  `json:"client_order_id"`
	VenueOrderID  string  `json:"venue_order_id,omitempty"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Qty           float64 `json:"qty"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
	DryRun        bool    `json:"dry_run,omitempty"`
}

// PositionEvent reports a position change after a fill.
type PositionEvent struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	Delta  float64 `json:"delta"`
}

// KillSwitchEvent reports an engage/reset transition.
type KillSwitchEvent struct {
	Engaged bool      `json:"engaged"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// BreakerTrip reports breakers that tripped in one evaluation.
type BreakerTrip struct {
	Breakers []string  `json:"breakers"`
	At       time.Time `json:"at"`
}

// RiskAlert is a human-readable alert for the monitor.
type RiskAlert struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}
