package common

import "context"

// Venue abstracts a brokerage the router and reconciler talk to.
// List calls return raw payloads; callers normalize them at their boundary.
type Venue interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, venueOrderID string) error
	ReplaceOrder(ctx context.Context, venueOrderID string, req ReplaceRequest) (OrderResult, error)
	// OrderByClientID looks an order up by the id the caller submitted it with.
	OrderByClientID(ctx context.Context, clientOrderID string) (OrderResult, error)
	ListOrders(ctx context.Context, scope string, limit int) ([]map[string]any, error)
	ListPositions(ctx context.Context) ([]map[string]any, error)
	GetAccount(ctx context.Context) (map[string]any, error)
}

// Configured reports whether a venue has credentials to trade with.
type Configured interface {
	IsConfigured() bool
}
