package reconciliation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/audit"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/mock"
)

type fixture struct {
	svc   *Service
	venue *mock.Venue
	state *state.Manager
	audit *audit.Log
	path  string
}

func newFixture(t *testing.T, syncPositions bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	log, err := audit.New(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	venue := mock.New(100000)
	st := state.NewManager(nil)
	path := filepath.Join(dir, "state", "reconcile.json")
	svc, err := NewService(venue, log, path, Options{
		SyncPositions: syncPositions,
		State:         st,
		Retry:         common.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Backoff:       common.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Interval:      5 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, venue: venue, state: st, audit: log, path: path}
}

func (f *fixture) submit(t *testing.T, cid, symbol string, side common.Side, qty, px float64) string {
	t.Helper()
	res, err := f.venue.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: symbol, Side: side, Type: common.OrderTypeLimit, Qty: qty, LimitPrice: px, ClientID: cid,
	})
	require.NoError(t, err)
	return res.VenueOrderID
}

func eventsNamed(t *testing.T, log *audit.Log, name string) []audit.Event {
	t.Helper()
	all, err := log.Tail(1000)
	require.NoError(t, err)
	var out []audit.Event
	for _, e := range all {
		if e["event"] == name {
			out = append(out, e)
		}
	}
	return out
}

func TestSyncTwiceAgainstUnchangedVenue(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.submit(t, "open-1", "AAPL", common.SideBuy, 10, 150)
	f.submit(t, "done-1", "MSFT", common.SideSell, 5, 320)
	require.NoError(t, f.venue.Fill("done-1", 5, 320))

	first, err := f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, Summary{Seen: 2, New: 2}, first)
	before, err := os.ReadFile(f.path)
	require.NoError(t, err)

	second, err := f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, Summary{Seen: 2, Unchanged: 2}, second)
	after, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "unchanged venue must leave the snapshot byte-identical")

	assert.Len(t, eventsNamed(t, f.audit, "order_new"), 2)
	assert.Len(t, eventsNamed(t, f.audit, "sync_summary"), 2)
	_, err = os.Stat(f.path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFillChangeAuditsOnceAndMovesPosition(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.submit(t, "gt-1", "AAPL", common.SideBuy, 10, 100)

	_, err := f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)

	require.NoError(t, f.venue.Fill("gt-1", 4, 100))
	sum, err := f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Changed)

	changes := eventsNamed(t, f.audit, "order_change")
	require.Len(t, changes, 1)
	beforeOrder := changes[0]["before"].(map[string]any)
	afterOrder := changes[0]["after"].(map[string]any)
	assert.EqualValues(t, 0, beforeOrder["filled_qty"])
	assert.EqualValues(t, 4, afterOrder["filled_qty"])
	assert.Equal(t, "partially_filled", afterOrder["status"])

	pos, ok := f.state.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 4.0, pos.Qty)

	// Replaying the same venue view applies nothing further.
	_, err = f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)
	pos, _ = f.state.Position("AAPL")
	assert.Equal(t, 4.0, pos.Qty)
}

func TestSellFillReducesPosition(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.state.SyncPosition(ctx, "MSFT", 5, 300, false))
	f.submit(t, "gt-s", "MSFT", common.SideSell, 5, 320)
	_, err := f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)

	require.NoError(t, f.venue.Fill("gt-s", 5, 320))
	_, err = f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)
	_, held := f.state.Position("MSFT")
	assert.False(t, held)
}

func TestHistoricalFillsSeenFirstAreNotReapplied(t *testing.T) {
	f := newFixture(t, false)
	f.submit(t, "old-1", "NVDA", common.SideBuy, 3, 500)
	require.NoError(t, f.venue.Fill("old-1", 3, 500))

	_, err := f.svc.SyncOnce(context.Background(), common.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, 0, f.state.OpenPositionCount())
	assert.Equal(t, 3.0, f.state.AppliedQty("old-1"))
}

func TestScopeFiltering(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.submit(t, "open-1", "AAPL", common.SideBuy, 10, 150)
	f.submit(t, "done-1", "MSFT", common.SideSell, 5, 320)
	require.NoError(t, f.venue.Fill("done-1", 5, 320))

	open, err := f.svc.FetchOrders(ctx, common.ScopeOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open-1", open[0].ClientOrderID)

	closed, err := f.svc.FetchOrders(ctx, common.ScopeClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, common.StatusFilled, closed[0].Status)

	_, err = f.svc.SyncOnce(ctx, "bogus")
	var ve *common.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestFailuresAreCountedAndRecovered(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.venue.FailNextList(&common.UnauthorizedError{Message: "bad key"})
	_, err := f.svc.SyncOnce(ctx, common.ScopeAll)
	require.Error(t, err)
	assert.True(t, common.IsUnauthorized(err))
	st := f.svc.Status()
	assert.Equal(t, 1, st.Failures)
	assert.Contains(t, st.LastError, "bad key")

	f.venue.FailNextList(&common.TransientError{StatusCode: 503})
	_, err = f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err, "transient errors are retried inside the pass")
	st = f.svc.Status()
	assert.Equal(t, 0, st.Failures)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastSyncAt.IsZero())
}

func TestRunSurvivesFailuresUntilCancelled(t *testing.T) {
	f := newFixture(t, false)
	f.venue.FailNextList(&common.UnauthorizedError{}, &common.UnauthorizedError{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, f.svc.Run(ctx))
	st := f.svc.Status()
	assert.GreaterOrEqual(t, st.Passes, 3)
	assert.Equal(t, 0, st.Failures)
}

func TestPositionAndAccountSync(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.state.SyncPosition(ctx, "XYZ", 5, 10, false))
	f.submit(t, "gt-a", "AAPL", common.SideBuy, 10, 100)
	require.NoError(t, f.venue.Fill("gt-a", 10, 100))

	_, err := f.svc.SyncOnce(ctx, common.ScopeAll)
	require.NoError(t, err)

	pos, ok := f.state.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Qty)
	assert.InDelta(t, 1000.0, pos.Notional, 1e-9)
	_, ok = f.state.Position("XYZ")
	assert.False(t, ok)

	eq, ok := f.state.AccountEquity()
	require.True(t, ok)
	assert.InDelta(t, 100000.0, eq, 1e-6)
	assert.Equal(t, "ACTIVE", f.state.Account().Status)
}

func TestStateSummary(t *testing.T) {
	f := newFixture(t, false)
	f.submit(t, "gt-1", "AAPL", common.SideBuy, 1, 100)
	_, err := f.svc.SyncOnce(context.Background(), common.ScopeAll)
	require.NoError(t, err)

	sum := f.svc.StateSummary()
	assert.Equal(t, 1, sum.OrderCount)
	require.NotNil(t, sum.LastSyncAt)
}
