package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/audit"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/killswitch"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/monitor"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/orchestrator"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/reconciliation"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/cache"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
)

// ErrUnavailable is returned when the component behind a call is not wired.
var ErrUnavailable = errors.New("component not available")

// ErrUnknownProfile is returned by SetRiskProfile for names no preset source knows.
var ErrUnknownProfile = errors.New("unknown risk profile")

// Impl implements Service by composing the runtime components.
type Impl struct {
	root       context.Context
	loop       *orchestrator.Orchestrator
	kill       *killswitch.KillSwitch
	state      *state.Manager
	router     *order.Router
	gate       *risk.Gate
	breakers   *monitor.Breakers
	reconciler *reconciliation.Service
	audit      *audit.Log
	bus        *events.Bus
	db         *db.Database
	quotes     *cache.Quotes
	alerts     *monitor.MemorySink
	metrics    *monitor.SystemMetrics
	presets    func(profile string) (risk.Preset, error)

	meta    SystemStatus
	started time.Time
}

// Config holds the components an Impl composes. Any may be nil except Root.
type Config struct {
	Root       context.Context // lifetime of loops started through the API
	Loop       *orchestrator.Orchestrator
	Kill       *killswitch.KillSwitch
	State      *state.Manager
	Router     *order.Router
	Gate       *risk.Gate
	Breakers   *monitor.Breakers
	Reconciler *reconciliation.Service
	Audit      *audit.Log
	Bus        *events.Bus
	DB         *db.Database
	Quotes     *cache.Quotes
	Alerts     *monitor.MemorySink
	Metrics    *monitor.SystemMetrics
	Meta       SystemStatus

	// Presets resolves a profile name; builtin presets are used when nil.
	Presets func(profile string) (risk.Preset, error)
}

var _ Service = (*Impl)(nil)

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	root := cfg.Root
	if root == nil {
		root = context.Background()
	}
	return &Impl{
		root:       root,
		loop:       cfg.Loop,
		kill:       cfg.Kill,
		state:      cfg.State,
		router:     cfg.Router,
		gate:       cfg.Gate,
		breakers:   cfg.Breakers,
		reconciler: cfg.Reconciler,
		audit:      cfg.Audit,
		bus:        cfg.Bus,
		db:         cfg.DB,
		quotes:     cfg.Quotes,
		alerts:     cfg.Alerts,
		metrics:    cfg.Metrics,
		presets:    cfg.Presets,
		meta:       cfg.Meta,
		started:    time.Now(),
	}
}

// --- Decision loop ---

func (e *Impl) StartTrading(ctx context.Context, ov *orchestrator.Overrides) (orchestrator.Config, error) {
	if e.loop == nil {
		return orchestrator.Config{}, fmt.Errorf("trade loop: %w", ErrUnavailable)
	}
	cfg := e.loop.Start(e.root, ov)
	e.appendAudit("trade_loop_start", map[string]any{"profile": cfg.Profile, "universe": cfg.Universe})
	return cfg, nil
}

func (e *Impl) StopTrading(ctx context.Context) error {
	if e.loop == nil {
		return fmt.Errorf("trade loop: %w", ErrUnavailable)
	}
	if err := e.loop.Stop(ctx); err != nil {
		return err
	}
	e.appendAudit("trade_loop_stop", nil)
	return nil
}

func (e *Impl) TradeStatus(ctx context.Context) orchestrator.Status {
	if e.loop == nil {
		return orchestrator.Status{}
	}
	return e.loop.Status()
}

func (e *Impl) Decisions(ctx context.Context) []orchestrator.Decision {
	if e.loop == nil {
		return nil
	}
	return e.loop.Decisions()
}

// --- Kill switch ---

func (e *Impl) EngageKillSwitch(ctx context.Context, reason string) error {
	if e.kill == nil {
		return fmt.Errorf("kill switch: %w", ErrUnavailable)
	}
	if reason == "" {
		reason = "operator"
	}
	if err := e.kill.EngageContext(ctx, reason); err != nil {
		return fmt.Errorf("engage kill switch: %w", err)
	}
	e.bus.Publish(events.EventKillSwitch, events.KillSwitchEvent{Engaged: true, Reason: reason, At: time.Now().UTC()})
	e.appendAudit("kill_switch_engage", map[string]any{"reason": reason})
	return nil
}

// ResetKillSwitch clears the halt. Risk and breaker halts need force.
func (e *Impl) ResetKillSwitch(ctx context.Context, force bool) error {
	if e.kill == nil {
		return fmt.Errorf("kill switch: %w", ErrUnavailable)
	}
	prev := e.kill.Info()
	if err := e.kill.ResetGuarded(ctx, force); err != nil {
		if errors.Is(err, killswitch.ErrResetBlocked) {
			e.appendAudit("kill_switch_reset_blocked", map[string]any{"reason": prev.Reason})
		}
		return fmt.Errorf("reset kill switch: %w", err)
	}
	e.bus.Publish(events.EventKillSwitch, events.KillSwitchEvent{Engaged: false, At: time.Now().UTC()})
	e.appendAudit("kill_switch_reset", map[string]any{"reason": prev.Reason, "force": force})
	return nil
}

func (e *Impl) KillSwitch(ctx context.Context) killswitch.Info {
	if e.kill == nil {
		return killswitch.Info{}
	}
	return e.kill.Info()
}

func (e *Impl) KillSwitchHistory(ctx context.Context) []killswitch.Event {
	if e.kill == nil {
		return nil
	}
	return e.kill.History()
}

// --- Positions, orders, account ---

func (e *Impl) GetPositions(ctx context.Context) []Position {
	if e.state == nil {
		return nil
	}
	ps := e.state.Positions()
	out := make([]Position, 0, len(ps))
	for _, p := range ps {
		pos := Position{Symbol: p.Symbol, Qty: p.Qty, Notional: p.Notional, IsOption: p.IsOption, UpdatedAt: p.UpdatedAt}
		if e.quotes != nil {
			if q, ok := e.quotes.Get(p.Symbol); ok {
				px := q.Price
				pos.LastPrice = &px
			}
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetOrders reads persisted orders, falling back to the router's in-memory
// records when no database is wired.
func (e *Impl) GetOrders(ctx context.Context, status string, limit int) ([]Order, error) {
	if e.db != nil {
		rows, err := e.db.ListOrders(ctx, status, limit)
		if err != nil {
			return nil, err
		}
		out := make([]Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, Order{
				ClientOrderID: o.ClientOrderID, VenueOrderID: o.VenueOrderID, Symbol: o.Symbol, Side: o.Side,
				Qty: o.Qty, FilledQty: o.FilledQty, LimitPrice: o.LimitPrice, TakeProfit: o.TakeProfit,
				StopLoss: o.StopLoss, Status: o.Status, AssetClass: o.AssetClass,
				CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
			})
		}
		return out, nil
	}
	if e.router == nil {
		return nil, fmt.Errorf("orders: %w", ErrUnavailable)
	}
	var out []Order
	for _, r := range e.router.Orders() {
		if status != "" && string(r.Status) != status {
			continue
		}
		o := Order{
			ClientOrderID: r.ClientOrderID, VenueOrderID: r.VenueOrderID, Symbol: r.Symbol, Side: r.Side,
			Qty: r.Qty, FilledQty: r.FilledQty, TakeProfit: r.TakeProfit, StopLoss: r.StopLoss,
			Status: string(r.Status), AssetClass: r.AssetClass, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		}
		if r.LimitPrice != nil {
			o.LimitPrice = *r.LimitPrice
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CancelOrder cancels a routed order by its client id.
func (e *Impl) CancelOrder(ctx context.Context, clientOrderID string) error {
	if e.router == nil {
		return fmt.Errorf("router: %w", ErrUnavailable)
	}
	if err := e.router.Cancel(ctx, clientOrderID); err != nil {
		return fmt.Errorf("cancel %s: %w", clientOrderID, err)
	}
	e.appendAudit("order_cancel", map[string]any{"client_order_id": clientOrderID})
	return nil
}

// ReplaceOrder changes qty and/or limit price of a routed order.
func (e *Impl) ReplaceOrder(ctx context.Context, clientOrderID string, qty, limitPrice *float64) error {
	if e.router == nil {
		return fmt.Errorf("router: %w", ErrUnavailable)
	}
	if err := e.router.Replace(ctx, clientOrderID, qty, limitPrice); err != nil {
		return fmt.Errorf("replace %s: %w", clientOrderID, err)
	}
	fields := map[string]any{"client_order_id": clientOrderID}
	if qty != nil {
		fields["qty"] = *qty
	}
	if limitPrice != nil {
		fields["limit_price"] = *limitPrice
	}
	e.appendAudit("order_replace", fields)
	return nil
}

func (e *Impl) GetAccount(ctx context.Context) Account {
	if e.state == nil {
		return Account{}
	}
	a := e.state.Account()
	return Account{
		Equity:      a.Equity,
		Cash:        a.Cash,
		BuyingPower: a.BuyingPower,
		DayPnL:      e.state.DayPnL(),
		Multiplier:  a.Multiplier,
		Status:      a.Status,
		Notional:    e.state.PortfolioNotional(),
		UpdatedAt:   a.UpdatedAt,
	}
}

// Quotes returns the last trade price seen per symbol.
func (e *Impl) Quotes(ctx context.Context) map[string]cache.Quote {
	if e.quotes == nil {
		return map[string]cache.Quote{}
	}
	return e.quotes.Snapshot()
}

// --- Safety and truth-sync ---

func (e *Impl) Breakers(ctx context.Context) monitor.BreakerState {
	if e.breakers == nil {
		return monitor.BreakerState{}
	}
	return e.breakers.State()
}

func (e *Impl) RiskMetrics(ctx context.Context) RiskMetrics {
	if e.gate == nil {
		return RiskMetrics{}
	}
	return RiskMetrics{Preset: e.gate.Preset(), RiskBudget: e.gate.Budget(), Gate: e.gate.Metrics()}
}

// SetRiskProfile swaps the gate's active preset.
func (e *Impl) SetRiskProfile(ctx context.Context, profile string) (risk.Preset, error) {
	if e.gate == nil {
		return risk.Preset{}, fmt.Errorf("risk gate: %w", ErrUnavailable)
	}
	name := strings.ToLower(strings.TrimSpace(profile))
	var (
		p   risk.Preset
		err error
	)
	if e.presets != nil {
		p, err = e.presets(name)
		if err != nil {
			return risk.Preset{}, err
		}
	} else {
		p, _ = risk.BuiltinPreset(name)
	}
	if name == "" || p.Name != name {
		return risk.Preset{}, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	prev := e.gate.Preset()
	e.gate.SetPreset(p)
	e.appendAudit("risk_profile_change", map[string]any{"from": prev.Name, "to": p.Name})
	return p, nil
}

func (e *Impl) Metrics(ctx context.Context) monitor.MetricsSnapshot {
	if e.metrics == nil {
		return monitor.MetricsSnapshot{Timestamp: time.Now()}
	}
	return e.metrics.GetSnapshot()
}

func (e *Impl) Reconciliation(ctx context.Context) reconciliation.Status {
	if e.reconciler == nil {
		return reconciliation.Status{}
	}
	return e.reconciler.Status()
}

// ReconcileNow runs one reconciliation pass outside the periodic schedule.
func (e *Impl) ReconcileNow(ctx context.Context) (reconciliation.Summary, error) {
	if e.reconciler == nil {
		return reconciliation.Summary{}, fmt.Errorf("reconciler: %w", ErrUnavailable)
	}
	return e.reconciler.SyncOnce(ctx, "")
}

func (e *Impl) ReconcileSnapshot(ctx context.Context) reconciliation.StateSummary {
	if e.reconciler == nil {
		return reconciliation.StateSummary{Orders: map[string]reconciliation.Order{}}
	}
	return e.reconciler.StateSummary()
}

func (e *Impl) AuditTail(ctx context.Context, n int) ([]audit.Event, error) {
	if e.audit == nil {
		return nil, fmt.Errorf("audit log: %w", ErrUnavailable)
	}
	return e.audit.Tail(n)
}

// Alerts returns recent operator alerts, oldest first.
func (e *Impl) Alerts(ctx context.Context) []string {
	if e.alerts == nil {
		return nil
	}
	return e.alerts.Recent()
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	st := e.meta
	st.Symbols = append([]string(nil), e.meta.Symbols...)
	if e.router != nil {
		st.DryRun = e.router.DryRun()
	}
	if e.kill != nil {
		st.KillSwitch = e.kill.Engaged()
	}
	st.ServerTime = time.Now().UTC()
	st.Uptime = time.Since(e.started).Round(time.Second).String()
	return &st
}

func (e *Impl) appendAudit(event string, fields map[string]any) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Append(event, fields)
}
