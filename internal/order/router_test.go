package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/mock"
)

type switchable struct {
	mu sync.Mutex
	on bool
}

func (s *switchable) Engaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

func (s *switchable) set(on bool) {
	s.mu.Lock()
	s.on = on
	s.mu.Unlock()
}

type harness struct {
	router *Router
	venue  *mock.Venue
	state  *state.Manager
	halt   *switchable
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	preset, _ := risk.BuiltinPreset("balanced")
	preset.CooldownSec = 0
	st := state.NewManager(nil)
	halt := &switchable{}
	venue := mock.New(100000)
	r := NewRouter(venue, risk.NewGate(st, halt, preset), st, nil, events.NewBus(), nil, Config{
		ClientIDPrefix: "gt",
		DefaultTPPct:   1.0,
		DefaultSLPct:   0.5,
		Retry:          common.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	return &harness{router: r, venue: venue, state: st, halt: halt}
}

func limit(px float64) *float64 { return &px }

func aaplIntent() ExecIntent {
	return ExecIntent{Symbol: "AAPL", Side: "buy", Qty: 10, LimitPrice: limit(100.0), Bracket: true}
}

func TestSubmitEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.router.Submit(ctx, aaplIntent())
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, ReasonAccepted, res.Reason)
	assert.NotEmpty(t, res.ClientOrderID)
	assert.LessOrEqual(t, len(res.ClientOrderID), 48)
	assert.Equal(t, 1, h.venue.SubmitCalls())

	again := h.router.Submit(ctx, aaplIntent())
	assert.False(t, again.Accepted)
	assert.Equal(t, ReasonDuplicateIntent, again.Reason)
	assert.Equal(t, res.ClientOrderID, again.ClientOrderID)
	assert.Equal(t, 1, h.venue.SubmitCalls())

	rec, ok := h.router.Order(res.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, 101.00, rec.TakeProfit)
	assert.Equal(t, 99.50, rec.StopLoss)

	// Positions come from fills only, never from the request.
	_, held := h.state.Position("AAPL")
	assert.False(t, held)
}

func TestConcurrentIdenticalIntentsReachVenueOnce(t *testing.T) {
	h := newHarness(t)
	h.venue.SubmitDelay = 20 * time.Millisecond

	const n = 16
	results := make([]ExecResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.router.Submit(context.Background(), aaplIntent())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.venue.SubmitCalls())
	var accepted ExecResult
	for _, r := range results {
		if r.Accepted {
			require.Empty(t, accepted.ClientOrderID, "only one submission may be accepted")
			accepted = r
		}
	}
	require.NotEmpty(t, accepted.ClientOrderID)
	for _, r := range results {
		if !r.Accepted {
			assert.Equal(t, ReasonDuplicateIntent, r.Reason)
			assert.Equal(t, accepted.ClientOrderID, r.ClientOrderID)
		}
	}
}

func TestBracketPrices(t *testing.T) {
	tp, sl := BracketPrices("buy", 100, 1, 0.5)
	assert.Equal(t, 101.00, tp)
	assert.Equal(t, 99.50, sl)

	tp, sl = BracketPrices("sell", 100, 1, 0.5)
	assert.Equal(t, 99.00, tp)
	assert.Equal(t, 100.50, sl)
}

func TestBracketOnlyForEligibleIntents(t *testing.T) {
	h := newHarness(t)
	req := h.router.buildRequest(ExecIntent{Symbol: "AAPL", Side: "buy", Qty: 1, RefPrice: 100, Bracket: true, AssetClass: AssetEquity}, "x")
	assert.Nil(t, req.Bracket, "market orders carry no bracket")
	assert.Equal(t, common.OrderTypeMarket, req.Type)

	req = h.router.buildRequest(ExecIntent{Symbol: "AAPL", Side: "buy", Qty: 1, LimitPrice: limit(100), Bracket: false, AssetClass: AssetEquity}, "x")
	assert.Nil(t, req.Bracket)
}

func TestRiskDenialRollsBackReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.halt.set(true)

	res := h.router.Submit(ctx, aaplIntent())
	assert.False(t, res.Accepted)
	assert.Equal(t, "risk_denied:kill_switch_active", res.Reason)
	assert.Equal(t, 0, h.venue.SubmitCalls())
	_, reserved := h.router.Reserved(aaplIntent().IdempotencyKey())
	assert.False(t, reserved)

	h.halt.set(false)
	assert.True(t, h.router.Submit(ctx, aaplIntent()).Accepted)
}

func TestRiskDenialCarriesMaxQty(t *testing.T) {
	h := newHarness(t)
	stop := 96.0
	intent := aaplIntent()
	intent.Qty = 100
	intent.Stop = &stop

	res := h.router.Submit(context.Background(), intent)
	assert.Equal(t, "risk_denied:per_trade_risk_exceeded", res.Reason)
	require.NotNil(t, res.MaxQty)
	assert.InDelta(t, 62.5, *res.MaxQty, 1e-9)
}

func TestDuplicateClientIDRegeneratedOnce(t *testing.T) {
	h := newHarness(t)
	h.venue.FailNextSubmit(&common.DuplicateClientOrderIDError{ClientID: "taken"})

	res := h.router.Submit(context.Background(), aaplIntent())
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, 2, h.venue.SubmitCalls())
}

// dropFirstAck accepts the first order at the venue but reports a 503 to the caller.
type dropFirstAck struct {
	*mock.Venue
	mu      sync.Mutex
	dropped bool
}

func (d *dropFirstAck) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	res, err := d.Venue.SubmitOrder(ctx, req)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil && !d.dropped {
		d.dropped = true
		return common.OrderResult{}, &common.TransientError{StatusCode: 503, Message: "service unavailable"}
	}
	return res, err
}

func TestLostAckResolvesToLandedOrder(t *testing.T) {
	preset, _ := risk.BuiltinPreset("balanced")
	preset.CooldownSec = 0
	st := state.NewManager(nil)
	venue := &dropFirstAck{Venue: mock.New(100000)}
	r := NewRouter(venue, risk.NewGate(st, &switchable{}, preset), st, nil, events.NewBus(), nil, Config{
		ClientIDPrefix: "gt",
		Retry:          common.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	ctx := context.Background()

	res := r.Submit(ctx, aaplIntent())
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, 2, venue.SubmitCalls())

	live, err := venue.ListOrders(ctx, common.ScopeAll, 0)
	require.NoError(t, err)
	require.Len(t, live, 1, "one intent must produce one venue order")
	assert.Equal(t, res.ClientOrderID, live[0]["client_order_id"])

	rec, ok := r.Order(res.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, res.VenueOrderID, rec.VenueOrderID)
	assert.NotEmpty(t, rec.VenueOrderID)
}

func TestDuplicateClientIDTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	h.venue.FailNextSubmit(
		&common.DuplicateClientOrderIDError{ClientID: "a"},
		&common.DuplicateClientOrderIDError{ClientID: "b"},
	)

	res := h.router.Submit(context.Background(), aaplIntent())
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonDuplicateCID, res.Reason)
	_, reserved := h.router.Reserved(aaplIntent().IdempotencyKey())
	assert.False(t, reserved)
}

func TestVenueErrorsBecomeReasons(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  string
		calls int
	}{
		{"unauthorized", &common.UnauthorizedError{Message: "bad key"}, "broker_error:unauthorized", 1},
		{"validation", &common.ValidationError{StatusCode: 422, Message: "qty"}, "broker_error:validation", 1},
		{"untyped", assert.AnError, "submit_failed:" + assert.AnError.Error(), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.venue.FailNextSubmit(tt.err)
			res := h.router.Submit(context.Background(), aaplIntent())
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.want, res.Reason)
			assert.Equal(t, tt.calls, h.venue.SubmitCalls())
			_, reserved := h.router.Reserved(aaplIntent().IdempotencyKey())
			assert.False(t, reserved)
		})
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	h.venue.FailNextSubmit(&common.TransientError{StatusCode: 503}, &common.RateLimitError{Message: "slow down"})

	res := h.router.Submit(context.Background(), aaplIntent())
	require.True(t, res.Accepted, res.Reason)
	assert.Equal(t, 3, h.venue.SubmitCalls())
}

func TestProcessUpdateAppliesFillDeltas(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.router.Submit(ctx, aaplIntent())
	require.True(t, res.Accepted)

	four, ten := 4.0, 10.0
	h.router.ProcessUpdate(ctx, events.TradeUpdate{Event: "partial_fill", ClientOrderID: res.ClientOrderID, Status: "partially_filled", FilledQty: &four, FillPrice: 100})
	pos, ok := h.state.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 4.0, pos.Qty)

	// Replayed update is a no-op.
	h.router.ProcessUpdate(ctx, events.TradeUpdate{ClientOrderID: res.ClientOrderID, Status: "partially_filled", FilledQty: &four, FillPrice: 100})
	pos, _ = h.state.Position("AAPL")
	assert.Equal(t, 4.0, pos.Qty)

	h.router.ProcessUpdate(ctx, events.TradeUpdate{VenueOrderID: res.VenueOrderID, Status: "filled", FilledQty: &ten, FillPrice: 100.5})
	pos, _ = h.state.Position("AAPL")
	assert.Equal(t, 10.0, pos.Qty)
	assert.InDelta(t, 1005.0, pos.Notional, 1e-9)

	rec, _ := h.router.Order(res.ClientOrderID)
	assert.Equal(t, common.StatusFilled, rec.Status)
	_, reserved := h.router.Reserved(rec.IntentKey)
	assert.False(t, reserved, "terminal orders free their intent")
}

func TestCanceledUpdateDoesNotTouchPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.router.Submit(ctx, aaplIntent())
	require.True(t, res.Accepted)

	qty := 3.0
	h.router.ProcessUpdate(ctx, events.TradeUpdate{ClientOrderID: res.ClientOrderID, Status: "cancelled", FilledQty: &qty, FillPrice: 100})
	_, held := h.state.Position("AAPL")
	assert.False(t, held)
}

func TestDryRunLeavesPortfolioAlone(t *testing.T) {
	h := newHarness(t)
	h.router.SetDryRun(true)

	res := h.router.Submit(context.Background(), aaplIntent())
	require.True(t, res.Accepted, res.Reason)
	assert.True(t, res.DryRun)
	assert.Equal(t, ReasonDryRun, res.Reason)
	assert.Equal(t, 0, h.venue.SubmitCalls())
	assert.Equal(t, 0, h.state.OpenPositionCount())
	assert.Equal(t, 1, h.router.Simulator().Venue().SubmitCalls())
}

func TestCancelAndReplace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.router.Submit(ctx, aaplIntent())
	require.True(t, res.Accepted)

	assert.ErrorIs(t, h.router.Cancel(ctx, "nope"), ErrUnknownOrder)

	qty := 5.0
	require.NoError(t, h.router.Replace(ctx, res.ClientOrderID, &qty, nil))
	rec, _ := h.router.Order(res.ClientOrderID)
	assert.Equal(t, 5.0, rec.Qty)
	assert.NotEqual(t, res.VenueOrderID, rec.VenueOrderID)

	require.NoError(t, h.router.Cancel(ctx, res.ClientOrderID))
	rec, _ = h.router.Order(res.ClientOrderID)
	assert.Equal(t, common.StatusCanceled, rec.Status)
	_, reserved := h.router.Reserved(rec.IntentKey)
	assert.False(t, reserved)
}

func TestFailedReplaceKeepsLocalSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.router.Submit(ctx, aaplIntent())
	require.True(t, res.Accepted)
	require.NoError(t, h.router.Cancel(ctx, res.ClientOrderID))

	qty := 7.0
	assert.Error(t, h.router.Replace(ctx, res.ClientOrderID, &qty, nil))
	rec, _ := h.router.Order(res.ClientOrderID)
	assert.Equal(t, 10.0, rec.Qty)
}

func TestIdempotencyKeyIgnoresNoise(t *testing.T) {
	a := ExecIntent{Symbol: "aapl", Side: "BUY", Qty: 10, LimitPrice: limit(100.00001)}
	b := ExecIntent{Symbol: "AAPL", Side: "buy", Qty: 10, LimitPrice: limit(100.00004), ClientTag: "x", AssetClass: "equity"}
	assert.Equal(t, a.IdempotencyKey(), b.IdempotencyKey())

	c := b
	c.Bracket = true
	assert.NotEqual(t, b.IdempotencyKey(), c.IdempotencyKey())
}

func TestClientOrderIDFormat(t *testing.T) {
	id := NewClientOrderID("gt", time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC))
	assert.Regexp(t, `^gt-240305143000-[0-9a-f]{6}$`, id)

	long := NewClientOrderID("a-very-long-prefix-that-keeps-going-and-going-on", time.Now())
	assert.Len(t, long, 48)

	retry := RetryClientOrderID(long)
	assert.Len(t, retry, 48)
	assert.Contains(t, retry, "-retry-")
}
