package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

func TestDuplicateClientIDRejected(t *testing.T) {
	v := New(100000)
	ctx := context.Background()
	req := common.OrderRequest{Symbol: "aapl", Side: common.SideBuy, Qty: 1, LimitPrice: 100, ClientID: "gt-1"}

	_, err := v.SubmitOrder(ctx, req)
	require.NoError(t, err)
	_, err = v.SubmitOrder(ctx, req)
	assert.True(t, common.IsDuplicateClientID(err))
	assert.Equal(t, 2, v.SubmitCalls())
}

func TestPartialFillThenScopes(t *testing.T) {
	v := New(100000)
	ctx := context.Background()
	res, err := v.SubmitOrder(ctx, common.OrderRequest{Symbol: "MSFT", Side: common.SideBuy, Qty: 10, LimitPrice: 300, ClientID: "gt-2"})
	require.NoError(t, err)
	require.Equal(t, common.StatusAccepted, res.Status)

	require.NoError(t, v.Fill("gt-2", 4, 300))
	open, err := v.ListOrders(ctx, common.ScopeOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "partially_filled", open[0]["status"])
	assert.Equal(t, "4", open[0]["filled_qty"])

	require.NoError(t, v.Fill(res.VenueOrderID, 100, 301))
	closed, err := v.ListOrders(ctx, common.ScopeClosed, 10)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "filled", closed[0]["status"])

	pos, err := v.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "10", pos[0]["qty"])
}

func TestReplaceOpensNewOrder(t *testing.T) {
	v := New(0)
	ctx := context.Background()
	res, err := v.SubmitOrder(ctx, common.OrderRequest{Symbol: "SPY", Side: common.SideSell, Qty: 5, LimitPrice: 450, ClientID: "gt-3"})
	require.NoError(t, err)

	qty := 3.0
	next, err := v.ReplaceOrder(ctx, res.VenueOrderID, common.ReplaceRequest{Qty: &qty})
	require.NoError(t, err)
	assert.NotEqual(t, res.VenueOrderID, next.VenueOrderID)
	assert.Equal(t, "gt-3", next.ClientID)

	err = v.CancelOrder(ctx, res.VenueOrderID)
	var ve *common.ValidationError
	assert.ErrorAs(t, err, &ve)
}
