package reconciliation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// Order is the canonical order shape persisted in the reconciliation snapshot.
// Field order matches sorted key order so the snapshot file is stable.
type Order struct {
	ClientOrderID  string             `json:"client_order_id"`
	FilledAvgPrice *float64           `json:"filled_avg_price"`
	FilledQty      float64            `json:"filled_qty"`
	ID             string             `json:"id"`
	LimitPrice     *float64           `json:"limit_price"`
	Qty            float64            `json:"qty"`
	Side           string             `json:"side"`
	Status         common.OrderStatus `json:"status"`
	StopPrice      *float64           `json:"stop_price"`
	SubmittedAt    *string            `json:"submitted_at"`
	Symbol         string             `json:"symbol"`
	Type           common.OrderType   `json:"type"`
	UpdatedAt      *string            `json:"updated_at"`
}

// Equal compares every persisted field.
func (o Order) Equal(p Order) bool {
	return o.ClientOrderID == p.ClientOrderID &&
		eqFloat(o.FilledAvgPrice, p.FilledAvgPrice) &&
		o.FilledQty == p.FilledQty &&
		o.ID == p.ID &&
		eqFloat(o.LimitPrice, p.LimitPrice) &&
		o.Qty == p.Qty &&
		o.Side == p.Side &&
		o.Status == p.Status &&
		eqFloat(o.StopPrice, p.StopPrice) &&
		eqString(o.SubmittedAt, p.SubmittedAt) &&
		o.Symbol == p.Symbol &&
		o.Type == p.Type &&
		eqString(o.UpdatedAt, p.UpdatedAt)
}

// Position is the canonical venue position.
type Position struct {
	Symbol       string   `json:"symbol"`
	Qty          float64  `json:"qty"`
	AvgEntry     *float64 `json:"avg_entry"`
	MarketPrice  *float64 `json:"market_price"`
	UnrealizedPL *float64 `json:"unrealized_pl"`
	LastUpdated  *string  `json:"last_updated"`
	IsOption     bool     `json:"is_option"`
}

// Account is the canonical account snapshot. Has* flags mark fields the
// venue actually reported.
type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
	DayPnL      float64 `json:"day_pnl"`
	Multiplier  float64 `json:"multiplier"`
	Status      string  `json:"status"`
	HasEquity   bool    `json:"-"`
	HasDayPnL   bool    `json:"-"`
}

// NormalizeOrder maps a raw venue payload onto Order. It is the only place
// order field aliases are resolved.
func NormalizeOrder(raw map[string]any) Order {
	id := firstString(raw, "id", "order_id", "guid")
	client := firstString(raw, "client_order_id", "client_id")
	if client == "" {
		client = id
	}
	if id == "" {
		id = client
	}
	side := strings.ToLower(strings.TrimSpace(firstString(raw, "side")))
	if side == "" {
		side = "buy"
	}
	qty, _ := firstFloat(raw, "qty", "quantity", "order_qty", "base_qty")
	filled, _ := firstFloat(raw, "filled_qty", "filled_quantity", "filled_qty_total")

	return Order{
		ID:             id,
		ClientOrderID:  client,
		Symbol:         strings.ToUpper(strings.TrimSpace(firstString(raw, "symbol"))),
		Side:           side,
		Qty:            qty,
		FilledQty:      filled,
		FilledAvgPrice: optFloat(raw, "filled_avg_price"),
		Status:         common.ParseStatus(firstString(raw, "status")),
		Type:           common.ParseOrderType(firstString(raw, "type", "order_type")),
		LimitPrice:     optFloat(raw, "limit_price"),
		StopPrice:      optFloat(raw, "stop_price", "stop_limit_price"),
		SubmittedAt:    isoTime(raw, "submitted_at", "created_at"),
		UpdatedAt:      isoTime(raw, "updated_at", "filled_at"),
	}
}

// NormalizePosition maps a raw venue position onto Position.
func NormalizePosition(raw map[string]any) Position {
	qty, _ := firstFloat(raw, "qty", "quantity")
	p := Position{
		Symbol:       strings.ToUpper(strings.TrimSpace(firstString(raw, "symbol"))),
		Qty:          qty,
		AvgEntry:     optFloat(raw, "avg_entry_price", "avg_price", "avg_entry"),
		MarketPrice:  optFloat(raw, "market_price", "current_price"),
		UnrealizedPL: optFloat(raw, "unrealized_pl", "unrealized_profit_loss"),
		LastUpdated:  isoTime(raw, "updated_at", "last_updated"),
		IsOption:     strings.Contains(strings.ToLower(firstString(raw, "asset_class")), "option"),
	}
	// Venues report short positions either with a negative qty or with side=short.
	if strings.EqualFold(firstString(raw, "side"), "short") && p.Qty > 0 {
		p.Qty = -p.Qty
	}
	if p.MarketPrice == nil {
		if mv, ok := firstFloat(raw, "market_value"); ok && mv != 0 && p.Qty != 0 {
			px := mv / p.Qty
			p.MarketPrice = &px
		}
	}
	return p
}

// Price returns the best available mark for the position.
func (p Position) Price() float64 {
	if p.MarketPrice != nil {
		return *p.MarketPrice
	}
	if p.AvgEntry != nil {
		return *p.AvgEntry
	}
	return 0
}

// NormalizeAccount maps a raw venue account onto Account. Day P&L is
// equity minus the previous session's equity when both are reported.
func NormalizeAccount(raw map[string]any) Account {
	a := Account{Status: strings.ToUpper(firstString(raw, "status"))}
	a.Equity, a.HasEquity = firstFloat(raw, "equity", "portfolio_value")
	a.Cash, _ = firstFloat(raw, "cash")
	a.BuyingPower, _ = firstFloat(raw, "buying_power")
	a.Multiplier, _ = firstFloat(raw, "multiplier", "leverage")
	if pnl, ok := firstFloat(raw, "day_pnl", "daily_pnl"); ok {
		a.DayPnL, a.HasDayPnL = pnl, true
	} else if last, ok := firstFloat(raw, "last_equity"); ok && a.HasEquity {
		a.DayPnL, a.HasDayPnL = a.Equity-last, true
	}
	return a
}

// ValidScope reports whether scope is open, closed or all.
func ValidScope(scope string) bool {
	switch scope {
	case common.ScopeOpen, common.ScopeClosed, common.ScopeAll:
		return true
	}
	return false
}

func statusInScope(s common.OrderStatus, scope string) bool {
	switch scope {
	case common.ScopeAll:
		return true
	case common.ScopeOpen:
		return s.Open()
	case common.ScopeClosed:
		return !s.Open()
	}
	return false
}

// firstString returns the first non-empty alias.
func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		default:
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstFloat returns the first alias holding a non-zero number, falling back
// to a zero that was present. ok is false when no alias parses.
func firstFloat(raw map[string]any, keys ...string) (float64, bool) {
	found := false
	for _, k := range keys {
		f, ok := toFloat(raw[k])
		if !ok {
			continue
		}
		if f != 0 {
			return f, true
		}
		found = true
	}
	return 0, found
}

func optFloat(raw map[string]any, keys ...string) *float64 {
	f, ok := firstFloat(raw, keys...)
	if !ok {
		return nil
	}
	return &f
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case fmt.Stringer:
		f, err := strconv.ParseFloat(t.String(), 64)
		return f, err == nil
	}
	return 0, false
}

// isoTime renders the first timestamp alias as RFC3339 in UTC. Unparseable
// strings are kept verbatim.
func isoTime(raw map[string]any, keys ...string) *string {
	for _, k := range keys {
		var out string
		switch v := raw[k].(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
			out = v
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				out = t.UTC().Format(time.RFC3339Nano)
			}
		case time.Time:
			out = v.UTC().Format(time.RFC3339Nano)
		case float64:
			sec := int64(v)
			out = time.Unix(sec, int64((v-float64(sec))*1e9)).UTC().Format(time.RFC3339Nano)
		default:
			out = fmt.Sprint(v)
		}
		return &out
	}
	return nil
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
