package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/audit"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/killswitch"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/orchestrator"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/reconciliation"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/strategy"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/cache"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/mock"
)

type staticSignals struct {
	mu    sync.Mutex
	calls int
}

func (s *staticSignals) Produce(context.Context, string, []string) ([]strategy.Candidate, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil, nil
}

func (s *staticSignals) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	impl   *Impl
	st     *state.Manager
	quotes *cache.Quotes
	kill   *killswitch.KillSwitch
	audit  *audit.Log
	bus    *events.Bus
	router *order.Router
	venue  *mock.Venue
	sigs   *staticSignals
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	kill := killswitch.New(filepath.Join(dir, "kill_switch.json"))
	log, err := audit.New(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)

	bus := events.NewBus()
	st := state.NewManager(nil)
	preset, _ := risk.BuiltinPreset("balanced")
	preset.CooldownSec = 0
	gate := risk.NewGate(st, kill, preset)
	venue := mock.New(100000)
	router := order.NewRouter(venue, gate, st, nil, bus, nil, order.Config{Retry: common.RetryPolicy{MaxAttempts: 1}})

	sigs := &staticSignals{}
	loop := orchestrator.New(orchestrator.Config{Interval: 20 * time.Millisecond}, orchestrator.Deps{
		Signals: sigs,
		Gate:    gate,
		Router:  router,
		Kill:    kill,
		Bus:     bus,
		Venue:   venue,
	})

	quotes := cache.NewQuotes()
	impl := NewImpl(Config{
		Root:   context.Background(),
		Quotes: quotes,
		Loop:   loop,
		Kill:   kill,
		State:  st,
		Router: router,
		Gate:   gate,
		Audit:  log,
		Bus:    bus,
		Meta:   SystemStatus{Mode: "DRY_RUN", Venue: "mock", Symbols: []string{"AAPL"}},
	})
	return &harness{impl: impl, st: st, quotes: quotes, kill: kill, audit: log, bus: bus, router: router, venue: venue, sigs: sigs}
}

func TestEngageAndResetArePublishedAndAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stream, unsub := h.bus.Subscribe(events.EventKillSwitch, 4)
	defer unsub()

	require.NoError(t, h.impl.EngageKillSwitch(ctx, ""))
	info := h.impl.KillSwitch(ctx)
	assert.True(t, info.Engaged)
	assert.Equal(t, "operator", info.Reason)

	ev := (<-stream).(events.KillSwitchEvent)
	assert.True(t, ev.Engaged)

	require.NoError(t, h.impl.ResetKillSwitch(ctx, false))
	assert.False(t, h.impl.KillSwitch(ctx).Engaged)
	ev = (<-stream).(events.KillSwitchEvent)
	assert.False(t, ev.Engaged)

	tail, err := h.impl.AuditTail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "kill_switch_engage", tail[0]["event"])
	assert.Equal(t, "kill_switch_reset", tail[1]["event"])
}

func TestStartStopTradingEngagesKillSwitch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cfg, err := h.impl.StartTrading(ctx, &orchestrator.Overrides{Universe: []string{"msft"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, cfg.Universe)
	assert.True(t, h.impl.TradeStatus(ctx).Running)

	require.Eventually(t, func() bool { return h.sigs.Calls() > 0 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.impl.StopTrading(stopCtx))
	assert.False(t, h.impl.TradeStatus(ctx).Running)
	assert.True(t, h.kill.Engaged())
	assert.Equal(t, "trade loop stopped", h.kill.Info().Reason)
}

func TestMissingComponentsReportUnavailable(t *testing.T) {
	impl := NewImpl(Config{})
	ctx := context.Background()

	_, err := impl.StartTrading(ctx, nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(impl.StopTrading(ctx), ErrUnavailable))
	assert.True(t, errors.Is(impl.EngageKillSwitch(ctx, "x"), ErrUnavailable))
	_, err = impl.GetOrders(ctx, "", 10)
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, err = impl.AuditTail(ctx, 1)
	assert.True(t, errors.Is(err, ErrUnavailable))

	assert.True(t, errors.Is(impl.CancelOrder(ctx, "x"), ErrUnavailable))
	_, err = impl.ReconcileNow(ctx)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Empty(t, impl.ReconcileSnapshot(ctx).Orders)
	assert.Empty(t, impl.Alerts(ctx))
	assert.Empty(t, impl.GetPositions(ctx))
	assert.Equal(t, Account{}, impl.GetAccount(ctx))
	assert.False(t, impl.TradeStatus(ctx).Running)
}

func TestOrdersFallBackToRouterRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	limit, stop := 100.0, 99.0
	res := h.router.Submit(ctx, order.ExecIntent{Symbol: "AAPL", Side: "buy", Qty: 10, LimitPrice: &limit, Stop: &stop, AssetClass: "equity"})
	require.True(t, res.Accepted, res.Reason)

	orders, err := h.impl.GetOrders(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, res.ClientOrderID, orders[0].ClientOrderID)
	assert.Equal(t, 100.0, orders[0].LimitPrice)

	none, err := h.impl.GetOrders(ctx, "no-such-status", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCancelAndReplaceAreAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	limit, stop := 100.0, 99.0
	res := h.router.Submit(ctx, order.ExecIntent{Symbol: "AAPL", Side: "buy", Qty: 10, LimitPrice: &limit, Stop: &stop, AssetClass: "equity"})
	require.True(t, res.Accepted, res.Reason)

	qty := 4.0
	require.NoError(t, h.impl.ReplaceOrder(ctx, res.ClientOrderID, &qty, nil))
	require.NoError(t, h.impl.CancelOrder(ctx, res.ClientOrderID))
	assert.ErrorIs(t, h.impl.CancelOrder(ctx, "gt-unknown"), order.ErrUnknownOrder)

	orders, err := h.impl.GetOrders(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 4.0, orders[0].Qty)
	assert.Equal(t, "canceled", orders[0].Status)

	tail, err := h.impl.AuditTail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "order_replace", tail[0]["event"])
	assert.Equal(t, 4.0, tail[0]["qty"])
	assert.Equal(t, "order_cancel", tail[1]["event"])
}

func TestKillSwitchHistoryNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.impl.EngageKillSwitch(ctx, "drill"))
	require.NoError(t, h.impl.ResetKillSwitch(ctx, false))

	history := h.impl.KillSwitchHistory(ctx)
	require.Len(t, history, 2)
	assert.Equal(t, "reset", history[0].Action)
	assert.Equal(t, "drill", history[1].Reason)
}

func TestResetKillSwitchNeedsForceForBreakerHalt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.impl.EngageKillSwitch(ctx, "breaker:reject_spike"))
	assert.False(t, h.impl.KillSwitch(ctx).CanReset)

	err := h.impl.ResetKillSwitch(ctx, false)
	require.ErrorIs(t, err, killswitch.ErrResetBlocked)
	assert.True(t, h.impl.KillSwitch(ctx).Engaged)
	assert.Equal(t, "reset_blocked", h.impl.KillSwitchHistory(ctx)[0].Action)

	require.NoError(t, h.impl.ResetKillSwitch(ctx, true))
	assert.False(t, h.impl.KillSwitch(ctx).Engaged)

	tail, err := h.impl.AuditTail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, "kill_switch_engage", tail[0]["event"])
	assert.Equal(t, "kill_switch_reset_blocked", tail[1]["event"])
	assert.Equal(t, "kill_switch_reset", tail[2]["event"])
	assert.Equal(t, true, tail[2]["force"])
}

func TestSetRiskProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.impl.SetRiskProfile(ctx, " SAFE ")
	require.NoError(t, err)
	assert.Equal(t, "safe", p.Name)
	assert.Equal(t, "safe", h.impl.RiskMetrics(ctx).Preset.Name)

	_, err = h.impl.SetRiskProfile(ctx, "yolo")
	assert.ErrorIs(t, err, ErrUnknownProfile)
	assert.Equal(t, "safe", h.impl.RiskMetrics(ctx).Preset.Name)

	tail, err := h.impl.AuditTail(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "risk_profile_change", tail[0]["event"])
	assert.Equal(t, "balanced", tail[0]["from"])
}

func TestReconcileNowUsesConfiguredScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := reconciliation.NewService(h.venue, nil, filepath.Join(t.TempDir(), "reconcile.json"), reconciliation.Options{
		Scope:    common.ScopeOpen,
		State:    h.st,
		Observer: h.router,
		Bus:      h.bus,
	})
	require.NoError(t, err)
	impl := NewImpl(Config{Root: ctx, Reconciler: rec, Router: h.router})

	limit, stop := 100.0, 99.0
	res := h.router.Submit(ctx, order.ExecIntent{Symbol: "AAPL", Side: "buy", Qty: 10, LimitPrice: &limit, Stop: &stop, AssetClass: "equity"})
	require.True(t, res.Accepted, res.Reason)

	summary, err := impl.ReconcileNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Seen)
	assert.Equal(t, 1, impl.ReconcileSnapshot(ctx).OrderCount)
	assert.Equal(t, 1, impl.Reconciliation(ctx).Passes)
}

func TestSystemStatusReflectsLiveFlags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.router.SetDryRun(true)
	h.kill.Engage("test")
	st := h.impl.GetSystemStatus(ctx)
	assert.True(t, st.DryRun)
	assert.True(t, st.KillSwitch)
	assert.Equal(t, "mock", st.Venue)
	assert.NotEmpty(t, st.Uptime)

	rm := h.impl.RiskMetrics(ctx)
	assert.Equal(t, "balanced", rm.Preset.Name)
	assert.Greater(t, rm.RiskBudget, 0.0)
}

func TestPositionsCarryLastPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.st.SyncPosition(ctx, "MSFT", 5, 400, false))
	require.NoError(t, h.st.SyncPosition(ctx, "AAPL", 10, 190, false))
	h.quotes.Set("AAPL", 191.25, time.Now())

	ps := h.impl.GetPositions(ctx)
	require.Len(t, ps, 2)
	assert.Equal(t, "AAPL", ps[0].Symbol)
	require.NotNil(t, ps[0].LastPrice)
	assert.Equal(t, 191.25, *ps[0].LastPrice)
	assert.Nil(t, ps[1].LastPrice)

	assert.Contains(t, h.impl.Quotes(ctx), "AAPL")
}
