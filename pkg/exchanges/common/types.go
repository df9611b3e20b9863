package common

import "strings"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"

	OrderTypeTrailingStop OrderType = "trailing_stop"
	OrderTypeUnknown      OrderType = "unknown"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
)

// OrderStatus is the canonical order lifecycle status.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
	StatusReplaced        OrderStatus = "replaced"
)

// Terminal reports whether no further fills can arrive for the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired, StatusReplaced:
		return true
	}
	return false
}

// Open reports whether the status belongs to the "open" scope.
func (s OrderStatus) Open() bool {
	switch s {
	case StatusNew, StatusAccepted, StatusPartiallyFilled:
		return true
	}
	return false
}

// Order list scopes.
const (
	ScopeOpen   = "open"
	ScopeClosed = "closed"
	ScopeAll    = "all"
)

// Bracket holds the absolute prices of attached exit legs.
type Bracket struct {
	TakeProfit float64
	StopLoss   float64
}

// OrderRequest captures an order to be sent to a venue.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	LimitPrice  float64 // 0 for market
	TimeInForce TimeInForce
	ClientID    string
	AssetClass  string
	Bracket     *Bracket
}

// ReplaceRequest carries the mutable fields of a resting order.
type ReplaceRequest struct {
	Qty        *float64
	LimitPrice *float64
}

// OrderResult returns the venue ack.
type OrderResult struct {
	VenueOrderID   string
	ClientID       string
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
}

// Fill represents a trade fill update.
type Fill struct {
	VenueOrderID string
	Symbol       string
	Side         Side
	Qty          float64
	Price        float64
}

// ParseStatus maps venue status spellings onto the canonical set.
// Unknown values map to StatusNew.
func ParseStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "new", "pending_new":
		return StatusNew
	case "accepted", "acknowledged", "open":
		return StatusAccepted
	case "partially_filled", "partial":
		return StatusPartiallyFilled
	case "filled", "done":
		return StatusFilled
	case "canceled", "cancelled", "stopped":
		return StatusCanceled
	case "rejected":
		return StatusRejected
	case "expired":
		return StatusExpired
	case "replaced":
		return StatusReplaced
	}
	return StatusNew
}

// ParseOrderType maps venue order type spellings; unknown values become "unknown".
func ParseOrderType(raw string) OrderType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "limit":
		return OrderTypeLimit
	case "market":
		return OrderTypeMarket
	case "stop":
		return OrderTypeStop
	case "stop_limit":
		return OrderTypeStopLimit
	case "trailing_stop", "trailing_stop_order":
		return OrderTypeTrailingStop
	}
	return OrderTypeUnknown
}
