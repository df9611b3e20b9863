package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/audit"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/monitor"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/state"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// Source is the read side of the venue.
type Source interface {
	ListOrders(ctx context.Context, scope string, limit int) ([]map[string]any, error)
	ListPositions(ctx context.Context) ([]map[string]any, error)
	GetAccount(ctx context.Context) (map[string]any, error)
}

// StatusObserver receives venue statuses for locally routed orders.
type StatusObserver interface {
	ObserveStatus(ctx context.Context, clientOrderID, venueOrderID string, status common.OrderStatus, filledQty float64) bool
}

// Summary counts one pass.
type Summary struct {
	Seen      int `json:"seen"`
	New       int `json:"new"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
}

// Options configures a Service. Zero values pick defaults.
type Options struct {
	Interval      time.Duration
	Scope         string
	Limit         int
	SyncPositions bool
	Retry         common.RetryPolicy
	// Backoff schedules the wait after failed passes.
	Backoff common.RetryPolicy

	State    *state.Manager
	Observer StatusObserver
	Bus      *events.Bus
	Metrics  *monitor.SystemMetrics
}

// Status is the loop's externally visible health.
type Status struct {
	LastSyncAt  time.Time `json:"last_sync_at"`
	LastSummary Summary   `json:"last_summary"`
	LastError   string    `json:"last_error,omitempty"`
	Failures    int       `json:"consecutive_failures"`
	Passes      int       `json:"passes"`
}

// StateSummary describes the persisted snapshot.
type StateSummary struct {
	LastSyncAt *string          `json:"last_sync_at"`
	OrderCount int              `json:"order_count"`
	Orders     map[string]Order `json:"orders"`
}

type snapshot struct {
	LastSyncAt *string          `json:"last_sync_at"`
	Orders     map[string]Order `json:"orders"`
}

// Service periodically pulls venue truth and reconciles local state against it.
type Service struct {
	source    Source
	audit     *audit.Log
	statePath string
	opts      Options

	mu       sync.Mutex // serializes passes and snapshot IO
	statusMu sync.RWMutex
	status   Status
	now      func() time.Time
}

// NewService creates a reconciler persisting its snapshot at statePath.
func NewService(source Source, auditLog *audit.Log, statePath string, opts Options) (*Service, error) {
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return nil, fmt.Errorf("create reconcile state dir: %w", err)
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Scope == "" {
		opts.Scope = common.ScopeAll
	}
	if !ValidScope(opts.Scope) {
		return nil, &common.ValidationError{StatusCode: 400, Message: "invalid status scope: " + opts.Scope}
	}
	if opts.Limit <= 0 {
		opts.Limit = 500
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = common.DefaultRetryPolicy()
	}
	if opts.Backoff.BaseDelay == 0 {
		opts.Backoff = common.RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Minute}
	}
	return &Service{
		source:    source,
		audit:     auditLog,
		statePath: statePath,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Run reconciles until ctx is done. Failed passes back off exponentially and
// never end the loop.
func (s *Service) Run(ctx context.Context) error {
	log.Printf("✓ Reconciliation service started (interval: %v, scope: %s, sync positions: %v)", s.opts.Interval, s.opts.Scope, s.opts.SyncPositions)
	for {
		wait := s.opts.Interval
		if _, err := s.SyncOnce(ctx, s.opts.Scope); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures := s.Status().Failures
			wait = s.opts.Backoff.Backoff(failures)
			if common.IsUnauthorized(err) {
				log.Printf("❌ Reconciliation unauthorized (attempt %d, retry in %v): %v", failures, wait, err)
			} else {
				log.Printf("❌ Reconciliation error (attempt %d, retry in %v): %v", failures, wait, err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// FetchOrders pulls and normalizes orders for scope.
func (s *Service) FetchOrders(ctx context.Context, scope string) ([]Order, error) {
	if !ValidScope(scope) {
		return nil, &common.ValidationError{StatusCode: 400, Message: "invalid status scope: " + scope}
	}
	raw, err := common.RetryValue(ctx, s.opts.Retry, func(ctx context.Context) ([]map[string]any, error) {
		return s.source.ListOrders(ctx, scope, s.opts.Limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]Order, 0, len(raw))
	for _, r := range raw {
		o := NormalizeOrder(r)
		if statusInScope(o.Status, scope) {
			out = append(out, o)
		}
	}
	return out, nil
}

// FetchPositions pulls and normalizes positions.
func (s *Service) FetchPositions(ctx context.Context) ([]Position, error) {
	raw, err := common.RetryValue(ctx, s.opts.Retry, s.source.ListPositions)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]Position, 0, len(raw))
	for _, r := range raw {
		out = append(out, NormalizePosition(r))
	}
	return out, nil
}

// FetchAccount pulls and normalizes the account.
func (s *Service) FetchAccount(ctx context.Context) (Account, error) {
	raw, err := common.RetryValue(ctx, s.opts.Retry, s.source.GetAccount)
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return NormalizeAccount(raw), nil
}

// SyncOnce runs one reconciliation pass: diff orders against the snapshot,
// audit changes, apply fill deltas, refresh the account and optionally
// correct position drift. An empty scope uses the configured one.
func (s *Service) SyncOnce(ctx context.Context, scope string) (Summary, error) {
	if scope == "" {
		scope = s.opts.Scope
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var timer *monitor.Timer
	if s.opts.Metrics != nil {
		timer = monitor.NewTimer(s.opts.Metrics.ReconcileLatency)
	}
	summary, err := s.syncLocked(ctx, scope)
	if timer != nil {
		timer.Stop()
	}

	s.statusMu.Lock()
	s.status.Passes++
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
		s.statusMu.Unlock()
		return summary, err
	}
	s.status.Failures = 0
	s.status.LastError = ""
	s.status.LastSummary = summary
	s.status.LastSyncAt = s.now().UTC()
	s.statusMu.Unlock()
	s.opts.Bus.Publish(events.EventReconcile, summary)
	return summary, nil
}

func (s *Service) syncLocked(ctx context.Context, scope string) (Summary, error) {
	orders, err := s.FetchOrders(ctx, scope)
	if err != nil {
		return Summary{}, err
	}
	ts := s.now().UTC().Format(time.RFC3339Nano)

	snap, exists := s.load()
	summary := Summary{Seen: len(orders)}
	for _, o := range orders {
		if o.ID == "" {
			continue
		}
		prev, ok := snap.Orders[o.ID]
		switch {
		case !ok:
			summary.New++
			snap.Orders[o.ID] = o
			s.appendAudit("order_new", map[string]any{"order": o})
			s.applyOrder(ctx, nil, o)
		case !prev.Equal(o):
			summary.Changed++
			snap.Orders[o.ID] = o
			s.appendAudit("order_change", map[string]any{"before": prev, "after": o})
			s.applyOrder(ctx, &prev, o)
		default:
			summary.Unchanged++
		}
	}
	s.appendAudit("sync_summary", map[string]any{"stats": summary})

	if summary.New+summary.Changed > 0 || !exists {
		snap.LastSyncAt = &ts
		if err := s.save(snap); err != nil {
			return summary, err
		}
	}

	if err := s.refreshAccount(ctx); err != nil {
		return summary, err
	}
	if s.opts.SyncPositions {
		if err := s.syncPositions(ctx); err != nil {
			return summary, err
		}
	}
	log.Printf("🔄 Reconciled %s orders: seen=%d new=%d changed=%d unchanged=%d",
		scope, summary.Seen, summary.New, summary.Changed, summary.Unchanged)
	return summary, nil
}

// applyOrder pushes a venue order's status to the router and applies any fill
// progress beyond what the previous snapshot already recorded. Orders first
// seen here that the router never routed are taken as already reflected in
// venue positions.
func (s *Service) applyOrder(ctx context.Context, prev *Order, o Order) {
	known := false
	if s.opts.Observer != nil {
		known = s.opts.Observer.ObserveStatus(ctx, o.ClientOrderID, o.ID, o.Status, o.FilledQty)
	}
	if s.opts.State == nil || o.FilledQty <= 0 {
		return
	}
	baseline := 0.0
	switch {
	case prev != nil:
		baseline = prev.FilledQty
	case !known:
		baseline = o.FilledQty
	}
	price := 0.0
	if o.FilledAvgPrice != nil {
		price = *o.FilledAvgPrice
	} else if o.LimitPrice != nil {
		price = *o.LimitPrice
	}
	if price <= 0 && o.FilledQty > baseline {
		log.Printf("⚠️ Reconciliation: fill on %s without a price, leaving it to position sync", o.ID)
		return
	}
	filled := o.FilledQty
	delta, err := s.opts.State.ApplyFill(ctx, state.Fill{
		OrderKey:  o.ClientOrderID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		FilledQty: &filled,
		Baseline:  baseline,
		Price:     price,
	})
	if err != nil {
		log.Printf("❌ Reconciliation: apply fill %s: %v", o.ID, err)
	}
	if delta != 0 {
		pos, _ := s.opts.State.Position(o.Symbol)
		s.opts.Bus.Publish(events.EventPositionChange, events.PositionEvent{Symbol: o.Symbol, Qty: pos.Qty, Delta: delta})
	}
}

func (s *Service) refreshAccount(ctx context.Context) error {
	if s.opts.State == nil {
		return nil
	}
	acct, err := s.FetchAccount(ctx)
	if err != nil {
		return err
	}
	s.opts.State.SetAccount(state.Account{
		Equity:      acct.Equity,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
		DayPnL:      acct.DayPnL,
		Multiplier:  acct.Multiplier,
		Status:      acct.Status,
	}, acct.HasEquity, acct.HasDayPnL)
	return nil
}

func (s *Service) syncPositions(ctx context.Context) error {
	if s.opts.State == nil {
		return nil
	}
	venue, err := s.FetchPositions(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(venue))
	for _, p := range venue {
		if p.Symbol == "" {
			continue
		}
		seen[p.Symbol] = true
		local, ok := s.opts.State.Position(p.Symbol)
		if ok && math.Abs(local.Qty-p.Qty) <= 1e-9 {
			continue
		}
		if err := s.opts.State.SyncPosition(ctx, p.Symbol, p.Qty, p.Price(), p.IsOption); err != nil {
			log.Printf("❌ Failed to sync position %s: %v", p.Symbol, err)
		}
	}
	for _, local := range s.opts.State.Positions() {
		if seen[local.Symbol] {
			continue
		}
		if err := s.opts.State.SyncPosition(ctx, local.Symbol, 0, 0, local.IsOption); err != nil {
			log.Printf("❌ Failed to close position %s: %v", local.Symbol, err)
		}
	}
	return nil
}

// StateSummary reads the persisted snapshot.
func (s *Service) StateSummary() StateSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.load()
	return StateSummary{LastSyncAt: snap.LastSyncAt, OrderCount: len(snap.Orders), Orders: snap.Orders}
}

// Status returns the loop's health.
func (s *Service) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Service) appendAudit(event string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(event, fields); err != nil {
		log.Printf("❌ audit append %s: %v", event, err)
	}
}

// load reads the snapshot; a missing or corrupt file yields an empty one.
func (s *Service) load() (snapshot, bool) {
	empty := snapshot{Orders: map[string]Order{}}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return empty, false
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("⚠️ Reconciliation state %s unreadable, starting fresh: %v", s.statePath, err)
		return empty, false
	}
	if snap.Orders == nil {
		snap.Orders = map[string]Order{}
	}
	return snap, true
}

// save writes the snapshot to a temp file and renames it into place.
func (s *Service) save(snap snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reconcile state: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write reconcile state: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace reconcile state: %w", err)
	}
	return nil
}
