// Package mock is an in-memory venue used for MOCK_MODE, dry-run simulation and tests.
package mock

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

type order struct {
	id             string
	clientID       string
	symbol         string
	side           common.Side
	typ            common.OrderType
	qty            float64
	filledQty      float64
	filledAvgPrice float64
	limitPrice     float64
	status         common.OrderStatus
	assetClass     string
	submittedAt    time.Time
	updatedAt      time.Time
}

type position struct {
	qty      float64
	avgPrice float64
}

// Venue simulates a broker in memory. The zero value is not usable; call New.
type Venue struct {
	// FillOnSubmit fills marketable orders immediately at the limit or last price.
	FillOnSubmit bool
	// SubmitDelay is slept (honouring ctx) before every submit.
	SubmitDelay time.Duration

	mu        sync.Mutex
	orders    map[string]*order
	seq       []string
	byClient  map[string]string
	positions map[string]*position
	prices    map[string]float64
	cash      float64
	submitErr []error
	listErr   []error

	submitCalls atomic.Int64
	now         func() time.Time
}

// New creates a mock venue with starting cash.
func New(cash float64) *Venue {
	return &Venue{
		orders:    make(map[string]*order),
		byClient:  make(map[string]string),
		positions: make(map[string]*position),
		prices:    make(map[string]float64),
		cash:      cash,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (v *Venue) IsConfigured() bool { return true }

// SubmitCalls returns how many submits reached the venue.
func (v *Venue) SubmitCalls() int { return int(v.submitCalls.Load()) }

// FailNextSubmit queues errors returned by subsequent submits, in order.
func (v *Venue) FailNextSubmit(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitErr = append(v.submitErr, errs...)
}

// FailNextList queues errors returned by subsequent ListOrders calls.
func (v *Venue) FailNextList(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listErr = append(v.listErr, errs...)
}

// SetPrice sets the last price used for market fills and position marks.
func (v *Venue) SetPrice(symbol string, px float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[strings.ToUpper(symbol)] = px
}

func (v *Venue) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	v.submitCalls.Add(1)
	if v.SubmitDelay > 0 {
		select {
		case <-ctx.Done():
			return common.OrderResult{}, ctx.Err()
		case <-time.After(v.SubmitDelay):
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.submitErr) > 0 {
		err := v.submitErr[0]
		v.submitErr = v.submitErr[1:]
		if err != nil {
			return common.OrderResult{}, err
		}
	}
	if req.ClientID != "" {
		if _, dup := v.byClient[req.ClientID]; dup {
			return common.OrderResult{}, &common.DuplicateClientOrderIDError{ClientID: req.ClientID}
		}
	}
	if req.Qty <= 0 {
		return common.OrderResult{}, &common.ValidationError{StatusCode: 422, Message: "qty must be > 0"}
	}

	typ := req.Type
	if typ == "" {
		typ = common.OrderTypeMarket
		if req.LimitPrice > 0 {
			typ = common.OrderTypeLimit
		}
	}
	now := v.now()
	o := &order{
		id:          uuid.NewString(),
		clientID:    req.ClientID,
		symbol:      strings.ToUpper(req.Symbol),
		side:        req.Side,
		typ:         typ,
		qty:         req.Qty,
		limitPrice:  req.LimitPrice,
		status:      common.StatusAccepted,
		assetClass:  req.AssetClass,
		submittedAt: now,
		updatedAt:   now,
	}
	if o.clientID == "" {
		o.clientID = o.id
	}
	v.orders[o.id] = o
	v.seq = append(v.seq, o.id)
	v.byClient[o.clientID] = o.id

	if v.FillOnSubmit {
		px := req.LimitPrice
		if px <= 0 {
			px = v.prices[o.symbol]
		}
		if px > 0 {
			v.fillLocked(o, o.qty, px)
		}
	}
	return resultOf(o), nil
}

func (v *Venue) CancelOrder(ctx context.Context, venueOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[venueOrderID]
	if !ok {
		return &common.ValidationError{StatusCode: 404, Message: "order not found"}
	}
	if o.status.Terminal() {
		return &common.ValidationError{StatusCode: 422, Message: "order is not cancelable"}
	}
	o.status = common.StatusCanceled
	o.updatedAt = v.now()
	return nil
}

// ReplaceOrder marks the original replaced and opens a new order carrying the changes.
func (v *Venue) ReplaceOrder(ctx context.Context, venueOrderID string, req common.ReplaceRequest) (common.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[venueOrderID]
	if !ok {
		return common.OrderResult{}, &common.ValidationError{StatusCode: 404, Message: "order not found"}
	}
	if o.status.Terminal() {
		return common.OrderResult{}, &common.ValidationError{StatusCode: 422, Message: "order is not replaceable"}
	}
	now := v.now()
	next := *o
	next.id = uuid.NewString()
	next.status = common.StatusAccepted
	next.submittedAt = now
	next.updatedAt = now
	if req.Qty != nil {
		next.qty = *req.Qty
	}
	if req.LimitPrice != nil {
		next.limitPrice = *req.LimitPrice
	}
	o.status = common.StatusReplaced
	o.updatedAt = now

	v.orders[next.id] = &next
	v.seq = append(v.seq, next.id)
	v.byClient[next.clientID] = next.id
	return resultOf(&next), nil
}

// OrderByClientID returns the order submitted under clientOrderID.
func (v *Venue) OrderByClientID(ctx context.Context, clientOrderID string) (common.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vid, ok := v.byClient[clientOrderID]
	if !ok {
		return common.OrderResult{}, &common.ValidationError{StatusCode: 404, Message: "order not found"}
	}
	return resultOf(v.orders[vid]), nil
}

// Fill applies a (partial) fill to an order identified by venue or client id.
func (v *Venue) Fill(id string, qty, price float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o := v.lookupLocked(id)
	if o == nil {
		return fmt.Errorf("mock venue: unknown order %s", id)
	}
	if o.status.Terminal() {
		return fmt.Errorf("mock venue: order %s is %s", id, o.status)
	}
	v.fillLocked(o, math.Min(qty, o.qty-o.filledQty), price)
	return nil
}

func (v *Venue) lookupLocked(id string) *order {
	if o, ok := v.orders[id]; ok {
		return o
	}
	if vid, ok := v.byClient[id]; ok {
		return v.orders[vid]
	}
	return nil
}

func (v *Venue) fillLocked(o *order, qty, price float64) {
	if qty <= 0 {
		return
	}
	total := o.filledQty + qty
	o.filledAvgPrice = (o.filledAvgPrice*o.filledQty + price*qty) / total
	o.filledQty = total
	if o.filledQty >= o.qty-1e-9 {
		o.status = common.StatusFilled
	} else {
		o.status = common.StatusPartiallyFilled
	}
	o.updatedAt = v.now()
	v.prices[o.symbol] = price

	dir := 1.0
	if o.side == common.SideSell {
		dir = -1.0
	}
	p := v.positions[o.symbol]
	if p == nil {
		p = &position{}
		v.positions[o.symbol] = p
	}
	newQty := p.qty + dir*qty
	switch {
	case math.Abs(newQty) <= 1e-9:
		delete(v.positions, o.symbol)
	case p.qty == 0 || (p.qty > 0) == (dir > 0):
		p.avgPrice = (p.avgPrice*math.Abs(p.qty) + price*qty) / math.Abs(newQty)
		p.qty = newQty
	default:
		if (newQty > 0) != (p.qty > 0) {
			p.avgPrice = price
		}
		p.qty = newQty
	}
	v.cash -= dir * qty * price
}

func (v *Venue) ListOrders(ctx context.Context, scope string, limit int) ([]map[string]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.listErr) > 0 {
		err := v.listErr[0]
		v.listErr = v.listErr[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]map[string]any, 0, len(v.seq))
	for i := len(v.seq) - 1; i >= 0; i-- {
		o := v.orders[v.seq[i]]
		switch scope {
		case common.ScopeOpen:
			if !o.status.Open() {
				continue
			}
		case common.ScopeClosed:
			if o.status.Open() {
				continue
			}
		}
		out = append(out, payloadOf(o))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (v *Venue) ListPositions(ctx context.Context) ([]map[string]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]map[string]any, 0, len(v.positions))
	for sym, p := range v.positions {
		mark := v.prices[sym]
		if mark <= 0 {
			mark = p.avgPrice
		}
		out = append(out, map[string]any{
			"symbol":          sym,
			"qty":             num(p.qty),
			"avg_entry_price": num(p.avgPrice),
			"market_value":    num(p.qty * mark),
			"unrealized_pl":   num((mark - p.avgPrice) * p.qty),
			"side":            map[bool]string{true: "long", false: "short"}[p.qty > 0],
		})
	}
	return out, nil
}

func (v *Venue) GetAccount(ctx context.Context) (map[string]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	equity := v.cash
	for sym, p := range v.positions {
		mark := v.prices[sym]
		if mark <= 0 {
			mark = p.avgPrice
		}
		equity += p.qty * mark
	}
	return map[string]any{
		"equity":       num(equity),
		"cash":         num(v.cash),
		"buying_power": num(v.cash * 2),
		"multiplier":   "2",
		"status":       "ACTIVE",
	}, nil
}

func resultOf(o *order) common.OrderResult {
	return common.OrderResult{
		VenueOrderID:   o.id,
		ClientID:       o.clientID,
		Status:         o.status,
		FilledQty:      o.filledQty,
		FilledAvgPrice: o.filledAvgPrice,
	}
}

func payloadOf(o *order) map[string]any {
	p := map[string]any{
		"id":              o.id,
		"client_order_id": o.clientID,
		"symbol":          o.symbol,
		"side":            string(o.side),
		"type":            string(o.typ),
		"qty":             num(o.qty),
		"filled_qty":      num(o.filledQty),
		"status":          string(o.status),
		"asset_class":     o.assetClass,
		"submitted_at":    o.submittedAt.Format(time.RFC3339Nano),
		"updated_at":      o.updatedAt.Format(time.RFC3339Nano),
	}
	if o.limitPrice > 0 {
		p["limit_price"] = num(o.limitPrice)
	}
	if o.filledQty > 0 {
		p["filled_avg_price"] = num(o.filledAvgPrice)
	}
	return p
}

// num renders numbers as strings the way broker REST APIs do.
func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
