package engine

import (
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
)

// Position represents a local position.
type Position struct {
	Symbol    string    `json:"symbol"`
	Qty       float64   `json:"qty"`
	Notional  float64   `json:"notional"`
	IsOption  bool      `json:"is_option"`
	LastPrice *float64  `json:"last_price,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order represents a routed order.
type Order struct {
	ClientOrderID string    `json:"client_order_id"`
	VenueOrderID  string    `json:"venue_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           float64   `json:"qty"`
	FilledQty     float64   `json:"filled_qty"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	Status        string    `json:"status"`
	AssetClass    string    `json:"asset_class"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Account is the latest account snapshot.
type Account struct {
	Equity      float64   `json:"equity"`
	Cash        float64   `json:"cash"`
	BuyingPower float64   `json:"buying_power"`
	DayPnL      float64   `json:"day_pnl"`
	Multiplier  float64   `json:"multiplier"`
	Status      string    `json:"status"`
	Notional    float64   `json:"portfolio_notional"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// RiskMetrics reports the active preset and admission counters.
type RiskMetrics struct {
	Preset     risk.Preset      `json:"preset"`
	RiskBudget float64          `json:"risk_budget"`
	Gate       risk.GateMetrics `json:"gate"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode        string    `json:"mode"`
	DryRun      bool      `json:"dry_run"`
	Venue       string    `json:"venue"`
	Symbols     []string  `json:"symbols"`
	UseMockFeed bool      `json:"use_mock_feed"`
	KillSwitch  bool      `json:"kill_switch"`
	Version     string    `json:"version"`
	ServerTime  time.Time `json:"server_time"`
	Uptime      string    `json:"uptime"`
}
