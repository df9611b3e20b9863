package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/monitor"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// ErrUnknownOrder is returned by Cancel/Replace for client ids the router never issued.
var ErrUnknownOrder = errors.New("unknown client order id")

// Admitter is the risk gate as seen by the router.
type Admitter interface {
	Check(p risk.Proposal) risk.Decision
}

// Config holds router settings.
type Config struct {
	ClientIDPrefix string
	DefaultTPPct   float64
	DefaultSLPct   float64
	Retry          common.RetryPolicy
	DryRun         DryRunSimConfig
}

// Router turns intents into exactly-once venue orders. It owns the
// idempotency map and the order records.
type Router struct {
	venue   common.Venue
	sim     *Simulator
	gate    Admitter
	state   *state.Manager
	db      *db.Database
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	cfg     Config
	now     func() time.Time

	mu       sync.Mutex
	reserved map[string]string // intent key -> client order id
	orders   map[string]*OrderRecord
	byVenue  map[string]string // venue order id -> client order id

	dryRun atomic.Bool
}

// NewRouter wires a router. database, bus and metrics may be nil.
func NewRouter(venue common.Venue, gate Admitter, st *state.Manager, database *db.Database, bus *events.Bus, metrics *monitor.SystemMetrics, cfg Config) *Router {
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "gt"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = common.DefaultRetryPolicy()
	}
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}
	return &Router{
		venue:    venue,
		sim:      NewSimulator(cfg.DryRun),
		gate:     gate,
		state:    st,
		db:       database,
		bus:      bus,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
		reserved: make(map[string]string),
		orders:   make(map[string]*OrderRecord),
		byVenue:  make(map[string]string),
	}
}

// SetDryRun routes further submissions through the simulator.
func (r *Router) SetDryRun(on bool) {
	if r.dryRun.Swap(on) != on {
		log.Printf("router: dry-run %v", on)
	}
}

func (r *Router) DryRun() bool { return r.dryRun.Load() }

// Simulator exposes the dry-run book.
func (r *Router) Simulator() *Simulator { return r.sim }

// Submit routes an intent. It never returns an error: every outcome is an ExecResult.
func (r *Router) Submit(ctx context.Context, intent ExecIntent) ExecResult {
	intent.Symbol = strings.ToUpper(strings.TrimSpace(intent.Symbol))
	intent.Side = strings.ToLower(intent.Side)
	if intent.AssetClass == "" {
		intent.AssetClass = AssetEquity
	}
	key := intent.IdempotencyKey()

	// 1. check-and-reserve in one critical section
	r.mu.Lock()
	if existing, ok := r.reserved[key]; ok {
		r.mu.Unlock()
		r.metrics.IncrementRejects()
		log.Printf("router: duplicate intent %s %s qty=%.4f (cid=%s)", intent.Symbol, intent.Side, intent.Qty, existing)
		return ExecResult{Reason: ReasonDuplicateIntent, ClientOrderID: existing}
	}
	cid := intent.ClientTag
	if cid == "" {
		cid = NewClientOrderID(r.cfg.ClientIDPrefix, r.now())
	}
	r.reserved[key] = cid
	r.mu.Unlock()

	// 2. admission
	if r.gate != nil {
		dec := r.gate.Check(risk.Proposal{
			Symbol:       intent.Symbol,
			Side:         intent.Side,
			Qty:          intent.Qty,
			Price:        intent.Price(),
			IsOption:     intent.AssetClass == AssetOption,
			Delta:        intent.Delta,
			OpenInterest: intent.OpenInterest,
			Volume:       intent.Volume,
			Stop:         intent.Stop,
		})
		if !dec.Allow {
			r.release(key)
			reason := "risk_denied:" + dec.Reason
			r.reject(intent, cid, reason)
			return ExecResult{Reason: reason, ClientOrderID: cid, MaxQty: dec.MaxQty}
		}
	}

	req := r.buildRequest(intent, cid)

	if r.DryRun() {
		return r.simulate(ctx, key, intent, req)
	}

	// 3. venue submission with bounded retry and one duplicate-id regeneration
	r.bus.Publish(events.EventOrderSubmitted, events.OrderEvent{ClientOrderID: cid, Symbol: intent.Symbol, Side: intent.Side, Qty: intent.Qty, Status: "submitted"})
	res, err := r.send(ctx, req)
	if err != nil && common.IsDuplicateClientID(err) {
		fresh := NewClientOrderID(r.cfg.ClientIDPrefix, r.now())
		if intent.ClientTag != "" {
			fresh = RetryClientOrderID(intent.ClientTag)
		}
		log.Printf("router: client id %s already used at venue, retrying as %s", cid, fresh)
		r.mu.Lock()
		r.reserved[key] = fresh
		r.mu.Unlock()
		cid = fresh
		req.ClientID = fresh
		res, err = r.send(ctx, req)
	}
	if err != nil {
		r.release(key)
		reason := submitReason(err)
		r.reject(intent, cid, reason)
		log.Printf("router: submit %s %s qty=%.4f failed: %v", intent.Symbol, intent.Side, intent.Qty, err)
		return ExecResult{Reason: reason, ClientOrderID: cid}
	}

	// 4. record and apply whatever fill the venue reported
	now := r.now().UTC()
	rec := &OrderRecord{
		ClientOrderID: cid,
		VenueOrderID:  res.VenueOrderID,
		IntentKey:     key,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		AssetClass:    intent.AssetClass,
		Qty:           intent.Qty,
		FilledQty:     res.FilledQty,
		LimitPrice:    intent.LimitPrice,
		Status:        res.Status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Bracket != nil {
		rec.TakeProfit = req.Bracket.TakeProfit
		rec.StopLoss = req.Bracket.StopLoss
	}
	if rec.Status == "" {
		rec.Status = common.StatusNew
	}

	r.mu.Lock()
	r.orders[cid] = rec
	if rec.VenueOrderID != "" {
		r.byVenue[rec.VenueOrderID] = cid
	}
	snapshot := *rec
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	if r.state != nil {
		r.state.MarkTrade(intent.Symbol)
	}
	r.publishOrder(events.EventOrderAccepted, snapshot, ReasonAccepted, false)
	log.Printf("router: accepted %s %s qty=%.4f cid=%s id=%s status=%s", intent.Symbol, intent.Side, intent.Qty, cid, res.VenueOrderID, res.Status)

	if res.FilledQty > 0 {
		px := res.FilledAvgPrice
		if px <= 0 {
			px = intent.Price()
		}
		filled := res.FilledQty
		r.applyFill(ctx, state.Fill{OrderKey: cid, Symbol: intent.Symbol, Side: intent.Side, FilledQty: &filled, Price: px, IsOption: intent.AssetClass == AssetOption})
	}
	if rec.Status.Terminal() {
		r.release(key)
	}

	return ExecResult{
		Accepted:      true,
		Reason:        ReasonAccepted,
		ClientOrderID: cid,
		VenueOrderID:  res.VenueOrderID,
		Status:        string(res.Status),
	}
}

func (r *Router) send(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	timer := monitor.NewTimer(r.metrics.OrderLatency)
	defer timer.Stop()
	r.metrics.IncrementSubmitted()
	// After a retryable failure the venue may have accepted the order anyway.
	// A duplicate-id answer on the resend means it did.
	var ambiguous bool
	return common.RetryValue(ctx, r.cfg.Retry, func(ctx context.Context) (common.OrderResult, error) {
		res, err := r.venue.SubmitOrder(ctx, req)
		switch {
		case err == nil:
			return res, nil
		case ambiguous && common.IsDuplicateClientID(err):
			landed, lerr := r.venue.OrderByClientID(ctx, req.ClientID)
			if lerr != nil {
				return common.OrderResult{}, fmt.Errorf("look up %s after lost ack: %w", req.ClientID, lerr)
			}
			log.Printf("router: %s was accepted by an earlier attempt (id=%s)", req.ClientID, landed.VenueOrderID)
			return landed, nil
		case common.IsRetryable(err):
			ambiguous = true
		}
		return res, err
	})
}

func (r *Router) simulate(ctx context.Context, key string, intent ExecIntent, req common.OrderRequest) ExecResult {
	defer r.release(key)
	res, err := r.sim.Execute(ctx, req, intent.Price())
	if err != nil {
		reason := submitReason(err)
		r.reject(intent, req.ClientID, reason)
		return ExecResult{Reason: reason, ClientOrderID: req.ClientID, DryRun: true}
	}
	rec := OrderRecord{ClientOrderID: req.ClientID, VenueOrderID: res.VenueOrderID, Symbol: intent.Symbol, Side: intent.Side, Qty: intent.Qty, Status: res.Status}
	r.publishOrder(events.EventOrderFilled, rec, ReasonDryRun, true)
	log.Printf("DRY-RUN: %s %s qty=%.4f price=%.4f cid=%s", intent.Side, intent.Symbol, intent.Qty, res.FilledAvgPrice, req.ClientID)
	return ExecResult{
		Accepted:      true,
		Reason:        ReasonDryRun,
		ClientOrderID: req.ClientID,
		VenueOrderID:  res.VenueOrderID,
		Status:        string(res.Status),
		DryRun:        true,
		FillPrice:     res.FilledAvgPrice,
	}
}

func (r *Router) buildRequest(intent ExecIntent, cid string) common.OrderRequest {
	req := common.OrderRequest{
		Symbol:      intent.Symbol,
		Side:        common.Side(intent.Side),
		Type:        common.OrderTypeMarket,
		Qty:         intent.Qty,
		TimeInForce: common.TIFDay,
		ClientID:    cid,
		AssetClass:  intent.AssetClass,
	}
	if intent.LimitPrice != nil {
		req.Type = common.OrderTypeLimit
		req.LimitPrice = *intent.LimitPrice
	}
	if intent.Bracket && intent.AssetClass == AssetEquity && intent.LimitPrice != nil {
		tp, sl := r.cfg.DefaultTPPct, r.cfg.DefaultSLPct
		if intent.TakeProfitPct != nil {
			tp = *intent.TakeProfitPct
		}
		if intent.StopLossPct != nil {
			sl = *intent.StopLossPct
		}
		if tp > 0 && sl > 0 {
			takeProfit, stopLoss := BracketPrices(intent.Side, *intent.LimitPrice, tp, sl)
			req.Bracket = &common.Bracket{TakeProfit: takeProfit, StopLoss: stopLoss}
		}
	}
	return req
}

// BracketPrices returns absolute exit prices rounded to cents.
func BracketPrices(side string, entry, tpPct, slPct float64) (takeProfit, stopLoss float64) {
	dir := 1.0
	if strings.ToLower(side) != "buy" {
		dir = -1.0
	}
	takeProfit = roundCents(entry * (1 + dir*tpPct/100))
	stopLoss = roundCents(entry * (1 - dir*slPct/100))
	return takeProfit, stopLoss
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func submitReason(err error) string {
	var (
		be *common.BrokerError
		ue *common.UnauthorizedError
		rl *common.RateLimitError
		te *common.TransientError
		ve *common.ValidationError
	)
	switch {
	case common.IsDuplicateClientID(err):
		return ReasonDuplicateCID
	case errors.As(err, &ue), errors.As(err, &rl), errors.As(err, &te), errors.As(err, &ve), errors.As(err, &be):
		return "broker_error:" + common.Kind(err)
	}
	return "submit_failed:" + err.Error()
}

func (r *Router) reject(intent ExecIntent, cid, reason string) {
	r.metrics.IncrementRejects()
	r.publishRejected(intent, cid, reason)
}

func (r *Router) release(key string) {
	r.mu.Lock()
	delete(r.reserved, key)
	r.mu.Unlock()
}

// Cancel cancels an order by client order id.
func (r *Router) Cancel(ctx context.Context, clientOrderID string) error {
	rec, ok := r.Order(clientOrderID)
	if !ok {
		return ErrUnknownOrder
	}
	err := common.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		return r.venue.CancelOrder(ctx, rec.VenueOrderID)
	})
	if err != nil {
		return fmt.Errorf("cancel %s: %w", clientOrderID, err)
	}
	r.ObserveStatus(ctx, clientOrderID, rec.VenueOrderID, common.StatusCanceled, rec.FilledQty)
	return nil
}

// Replace amends qty and/or limit price. Local state changes only after the venue accepts.
func (r *Router) Replace(ctx context.Context, clientOrderID string, qty, limitPrice *float64) error {
	if qty == nil && limitPrice == nil {
		return errors.New("replace: nothing to change")
	}
	rec, ok := r.Order(clientOrderID)
	if !ok {
		return ErrUnknownOrder
	}
	res, err := common.RetryValue(ctx, r.cfg.Retry, func(ctx context.Context) (common.OrderResult, error) {
		return r.venue.ReplaceOrder(ctx, rec.VenueOrderID, common.ReplaceRequest{Qty: qty, LimitPrice: limitPrice})
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", clientOrderID, err)
	}

	r.mu.Lock()
	cur := r.orders[clientOrderID]
	if qty != nil {
		cur.Qty = *qty
	}
	if limitPrice != nil {
		p := *limitPrice
		cur.LimitPrice = &p
	}
	if res.VenueOrderID != "" && res.VenueOrderID != cur.VenueOrderID {
		delete(r.byVenue, cur.VenueOrderID)
		cur.VenueOrderID = res.VenueOrderID
		r.byVenue[res.VenueOrderID] = clientOrderID
	}
	if res.Status != "" {
		cur.Status = res.Status
	}
	cur.UpdatedAt = r.now().UTC()
	snapshot := *cur
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return nil
}

// ProcessUpdate applies a venue trade update: status bookkeeping and, for
// fills, an incremental position change.
func (r *Router) ProcessUpdate(ctx context.Context, u events.TradeUpdate) {
	raw := u.Status
	if raw == "" {
		raw = u.Event
	}
	status := common.ParseStatus(raw)

	cid := u.ClientOrderID
	r.mu.Lock()
	if cid == "" {
		cid = r.byVenue[u.VenueOrderID]
	}
	rec, known := r.orders[cid]
	if known {
		rec.Status = status
		rec.UpdatedAt = r.now().UTC()
		if u.FilledQty != nil && *u.FilledQty > rec.FilledQty {
			rec.FilledQty = *u.FilledQty
		} else if u.FillQty != nil {
			rec.FilledQty += *u.FillQty
		}
	}
	var snapshot OrderRecord
	if known {
		snapshot = *rec
	}
	r.mu.Unlock()

	if known {
		r.persist(ctx, snapshot)
		r.publishOrder(statusTopic(string(status)), snapshot, "", false)
		if status.Terminal() {
			r.release(snapshot.IntentKey)
		}
	}

	if status == common.StatusCanceled || status == common.StatusRejected {
		return
	}
	symbol := u.Symbol
	side := u.Side
	if known {
		symbol, side = snapshot.Symbol, snapshot.Side
	}
	if symbol == "" || u.FillPrice <= 0 || (u.FillQty == nil && u.FilledQty == nil) {
		return
	}
	key := cid
	if key == "" {
		key = u.VenueOrderID
	}
	r.applyFill(ctx, state.Fill{
		OrderKey:   key,
		Symbol:     symbol,
		Side:       side,
		FillQty:    u.FillQty,
		FilledQty:  u.FilledQty,
		Price:      u.FillPrice,
		RealizedPL: u.RealizedPL,
		IsOption:   strings.EqualFold(u.AssetClass, AssetOption),
	})
}

func (r *Router) applyFill(ctx context.Context, f state.Fill) {
	if r.state == nil {
		return
	}
	delta, err := r.state.ApplyFill(ctx, f)
	if err != nil {
		log.Printf("router: persist position %s: %v", f.Symbol, err)
	}
	if delta != 0 {
		pos, _ := r.state.Position(f.Symbol)
		EmitPositionUpdate(r.bus, strings.ToUpper(f.Symbol), pos.Qty, delta)
	}
}

// ObserveStatus records a status seen by the reconciler and frees the
// intent once the order is terminal. It reports whether the order is tracked.
func (r *Router) ObserveStatus(ctx context.Context, clientOrderID, venueOrderID string, status common.OrderStatus, filledQty float64) bool {
	r.mu.Lock()
	cid := clientOrderID
	if _, ok := r.orders[cid]; !ok {
		cid = r.byVenue[venueOrderID]
	}
	rec, ok := r.orders[cid]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if rec.Status == status && rec.FilledQty == filledQty {
		r.mu.Unlock()
		return true
	}
	rec.Status = status
	if filledQty > rec.FilledQty {
		rec.FilledQty = filledQty
	}
	rec.UpdatedAt = r.now().UTC()
	snapshot := *rec
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	if status.Terminal() {
		r.release(snapshot.IntentKey)
	}
	return true
}

// Order returns a copy of the record for a client order id.
func (r *Router) Order(clientOrderID string) (OrderRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.orders[clientOrderID]
	if !ok {
		return OrderRecord{}, false
	}
	return *rec, true
}

// Orders returns all records, newest first.
func (r *Router) Orders() []OrderRecord {
	r.mu.Lock()
	out := make([]OrderRecord, 0, len(r.orders))
	for _, rec := range r.orders {
		out = append(out, *rec)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Reserved reports whether an intent key is currently reserved.
func (r *Router) Reserved(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cid, ok := r.reserved[key]
	return cid, ok
}

func (r *Router) persist(ctx context.Context, rec OrderRecord) {
	if r.db == nil {
		return
	}
	row := db.Order{
		ClientOrderID: rec.ClientOrderID,
		VenueOrderID:  rec.VenueOrderID,
		IntentKey:     rec.IntentKey,
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		Qty:           rec.Qty,
		FilledQty:     rec.FilledQty,
		TakeProfit:    rec.TakeProfit,
		StopLoss:      rec.StopLoss,
		Status:        string(rec.Status),
		AssetClass:    rec.AssetClass,
		CreatedAt:     rec.CreatedAt,
	}
	if rec.LimitPrice != nil {
		row.LimitPrice = *rec.LimitPrice
	}
	if err := r.db.UpsertOrder(ctx, row); err != nil {
		log.Printf("router: store order %s: %v", rec.ClientOrderID, err)
	}
}
