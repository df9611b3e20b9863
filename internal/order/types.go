package order

import (
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// Result reasons.
const (
	ReasonAccepted        = "accepted"
	ReasonDryRun          = "dry_run"
	ReasonDuplicateIntent = "duplicate_intent"
	ReasonDuplicateCID    = "duplicate_client_order_id"
	ReasonUnknownOrder    = "unknown_order"
)

// Asset classes.
const (
	AssetEquity = "equity"
	AssetOption = "option"
)

// ExecIntent is a normalized order intent handed to the router.
type ExecIntent struct {
	Symbol     string
	Side       string // buy or sell
	Qty        float64
	LimitPrice *float64
	AssetClass string
	Bracket    bool

	// Not part of the idempotency key.
	RefPrice      float64 // risk price for market orders
	ClientTag     string  // caller-chosen client order id
	TakeProfitPct *float64
	StopLossPct   *float64
	Stop          *float64
	Delta         *float64
	OpenInterest  *int
	Volume        *int
}

// Price returns the price used for risk: the limit if set, else RefPrice.
func (i ExecIntent) Price() float64 {
	if i.LimitPrice != nil {
		return *i.LimitPrice
	}
	return i.RefPrice
}

// ExecResult is the structured outcome of Submit. Rejections are results, not errors.
type ExecResult struct {
	Accepted      bool     `json:"accepted"`
	Reason        string   `json:"reason"`
	ClientOrderID string   `json:"client_order_id,omitempty"`
	VenueOrderID  string   `json:"order_id,omitempty"`
	Status        string   `json:"status,omitempty"`
	MaxQty        *float64 `json:"max_qty,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
	FillPrice     float64  `json:"fill_price,omitempty"`
}

// OrderRecord is the router's view of a submitted order.
type OrderRecord struct {
	ClientOrderID string             `json:"client_order_id"`
	VenueOrderID  string             `json:"venue_order_id"`
	IntentKey     string             `json:"intent_key"`
	Symbol        string             `json:"symbol"`
	Side          string             `json:"side"`
	AssetClass    string             `json:"asset_class"`
	Qty           float64            `json:"qty"`
	FilledQty     float64            `json:"filled_qty"`
	LimitPrice    *float64           `json:"limit_price,omitempty"`
	TakeProfit    float64            `json:"take_profit,omitempty"`
	StopLoss      float64            `json:"stop_loss,omitempty"`
	Status        common.OrderStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// RemainingQty returns unfilled quantity.
func (o *OrderRecord) RemainingQty() float64 {
	return o.Qty - o.FilledQty
}

// IsPartiallyFilled checks if order is partially filled
func (o *OrderRecord) IsPartiallyFilled() bool {
	return o.FilledQty > 0 && o.FilledQty < o.Qty
}
