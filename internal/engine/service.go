// Package engine is the single surface the operator API talks to. It hides
// the runtime components behind one interface so the HTTP layer never reaches
// into router, reconciler or loop internals.
package engine

import (
	"context"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/audit"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/killswitch"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/monitor"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/orchestrator"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/reconciliation"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/cache"
)

// Service defines the operations the API layer may perform.
type Service interface {
	// Decision loop
	StartTrading(ctx context.Context, ov *orchestrator.Overrides) (orchestrator.Config, error)
	StopTrading(ctx context.Context) error
	TradeStatus(ctx context.Context) orchestrator.Status
	Decisions(ctx context.Context) []orchestrator.Decision

	// Kill switch
	EngageKillSwitch(ctx context.Context, reason string) error
	ResetKillSwitch(ctx context.Context, force bool) error
	KillSwitch(ctx context.Context) killswitch.Info
	KillSwitchHistory(ctx context.Context) []killswitch.Event

	// Positions, orders, account
	GetPositions(ctx context.Context) []Position
	GetOrders(ctx context.Context, status string, limit int) ([]Order, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	ReplaceOrder(ctx context.Context, clientOrderID string, qty, limitPrice *float64) error
	GetAccount(ctx context.Context) Account
	Quotes(ctx context.Context) map[string]cache.Quote

	// Safety and truth-sync
	Breakers(ctx context.Context) monitor.BreakerState
	RiskMetrics(ctx context.Context) RiskMetrics
	SetRiskProfile(ctx context.Context, profile string) (risk.Preset, error)
	Metrics(ctx context.Context) monitor.MetricsSnapshot
	Reconciliation(ctx context.Context) reconciliation.Status
	ReconcileNow(ctx context.Context) (reconciliation.Summary, error)
	ReconcileSnapshot(ctx context.Context) reconciliation.StateSummary
	AuditTail(ctx context.Context, n int) ([]audit.Event, error)
	Alerts(ctx context.Context) []string

	GetSystemStatus(ctx context.Context) *SystemStatus
}
