package risk

import "time"

// Reason codes returned by Check.
const (
	ReasonOK                 = "ok"
	ReasonKillSwitch         = "kill_switch_active"
	ReasonDailyLoss          = "daily_loss_limit_breached"
	ReasonInvalidQtyPrice    = "invalid_qty_or_price"
	ReasonPortfolioNotional  = "max_portfolio_notional_exceeded"
	ReasonMaxPositions       = "max_positions_exceeded"
	ReasonSymbolNotional     = "max_symbol_notional_exceeded"
	ReasonCooldown           = "cooldown_active"
	ReasonOptionsMinOI       = "options_min_oi_not_met"
	ReasonOptionsMinVolume   = "options_min_volume_not_met"
	ReasonOptionsDeltaBounds = "options_delta_out_of_bounds"
	ReasonInvalidStop        = "invalid_stop_for_risk"
	ReasonPerTradeRisk       = "per_trade_risk_exceeded"
	notionalTolerance        = 1e-9
)

// Proposal is a candidate order presented to the gate.
type Proposal struct {
	Symbol       string
	Side         string // buy or sell
	Qty          float64
	Price        float64
	IsOption     bool
	Delta        *float64
	OpenInterest *int
	Volume       *int
	Stop         *float64
	Target       *float64
}

// Decision is the admission outcome.
type Decision struct {
	Allow  bool     `json:"allow"`
	Reason string   `json:"reason"`
	MaxQty *float64 `json:"max_qty,omitempty"`
}

// Portfolio is the live state the gate reads.
type Portfolio interface {
	DayPnL() float64
	PositionExposure(symbol string) (qty, notional float64, ok bool)
	OpenPositionCount() int
	PortfolioNotional() float64
	AccountEquity() (float64, bool)
	LastTradeAge(symbol string) (time.Duration, bool)
}

// Halter reports whether trading is halted.
type Halter interface {
	Engaged() bool
}

// GateMetrics tracks admission counters.
type GateMetrics struct {
	ChecksTotal       uint64            `json:"checks_total"`
	RejectionsTotal   uint64            `json:"rejections_total"`
	RejectionsBy      map[string]uint64 `json:"rejections_by_reason"`
	CheckLatencyNanos uint64            `json:"check_latency_nanos"`
}

func deny(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}
