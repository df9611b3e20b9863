// Package orchestrator runs the periodic decision loop: pull candidates,
// score, filter, rank, size and submit them, and keep a rolling history of
// what was decided and why.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/monitor"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/persistence"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/strategy"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// Deps are the loop's collaborators. Predictor, Kill, Sink, Bus, Metrics and
// Venue may be nil.
type Deps struct {
	Signals   strategy.SignalSource
	Predictor strategy.Predictor
	Gate      RiskGate
	Router    Submitter
	Kill      Engager
	Sink      DecisionSink
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	Venue     common.Venue
	MockMode  bool
}

// Orchestrator supervises the decision loop.
type Orchestrator struct {
	deps Deps
	now  func() time.Time

	mu       sync.Mutex
	cfg      Config
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
	restarts int

	statMu         sync.Mutex
	counters       Counters
	history        []Decision
	lastErr        string
	lastRun        time.Time
	lastUniverse   []string
	brokerDisabled bool
	mockRouting    bool
}

// New creates an idle orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = monitor.NewSystemMetrics()
	}
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		deps:         deps,
		now:          time.Now,
		cfg:          cfg,
		lastUniverse: append([]string(nil), cfg.Universe...),
	}
	o.mockRouting = o.inferMockMode()
	return o
}

func (o *Orchestrator) inferMockMode() bool {
	if o.deps.MockMode || o.brokerDisabled {
		return true
	}
	if c, ok := o.deps.Venue.(common.Configured); ok && !c.IsConfigured() {
		return true
	}
	return false
}

// Start launches the loop under ctx with optional overrides and returns the
// resolved config. A soft kill switch halt is cleared first; a risk or
// breaker halt stays. Starting a running loop only updates its config.
func (o *Orchestrator) Start(ctx context.Context, ov *Overrides) Config {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ov != nil {
		o.cfg = ov.Apply(o.cfg)
	}
	o.statMu.Lock()
	o.mockRouting = o.inferMockMode()
	mock := o.mockRouting
	o.statMu.Unlock()
	if o.deps.Router != nil {
		o.deps.Router.SetDryRun(mock)
	}
	if o.running {
		return o.cfg
	}

	if o.deps.Kill != nil {
		engaged, err := o.deps.Kill.SafeArm(ctx)
		switch {
		case err != nil:
			log.Printf("⚠️ Trade loop start: kill switch arm failed: %v", err)
		case engaged:
			log.Printf("⚠️ Trade loop start: kill switch still engaged, orders will be denied")
		}
	}

	o.statMu.Lock()
	o.counters = Counters{}
	o.statMu.Unlock()
	o.restarts = 0

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	go o.supervise(runCtx, o.done)

	log.Printf("✓ Trade loop started: profile=%s universe=%v interval=%s top_n=%d mock=%v",
		o.cfg.Profile, o.cfg.Universe, o.cfg.Interval, o.cfg.TopN, mock)
	return o.cfg
}

// Stop engages the kill switch, signals the loop and waits for it to exit
// or for ctx to end.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	if o.deps.Kill != nil {
		o.deps.Kill.Engage("trade loop stopped")
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for trade loop: %w", ctx.Err())
	}
}

// Wait blocks until the current run has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) supervise(ctx context.Context, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
		close(done)
		log.Printf("🛑 Trade loop stopped")
	}()

	for {
		err := o.runLoop(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		o.setLastError(err.Error())

		o.mu.Lock()
		cfg := o.cfg
		if !cfg.AutoRestart || o.restarts >= cfg.MaxRestarts {
			o.mu.Unlock()
			log.Printf("❌ Trade loop crashed, not restarting (restarts=%d): %v", o.restarts, err)
			return
		}
		o.restarts++
		n := o.restarts
		o.mu.Unlock()

		log.Printf("🔄 Trade loop crashed, restarting (%d/%d): %v", n, cfg.MaxRestarts, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.RestartDelay):
		}
	}
}

// runLoop returns nil on cancellation and an error when a cycle panics.
func (o *Orchestrator) runLoop(ctx context.Context) error {
	for {
		if err := o.safeCycle(ctx); err != nil {
			return err
		}
		o.mu.Lock()
		interval := o.cfg.Interval
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (o *Orchestrator) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	o.RunCycle(ctx)
	return nil
}

// RunCycle performs one pass over the signal collaborator's candidates.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	timer := monitor.NewTimer(o.deps.Metrics.DecisionLatency)
	defer timer.Stop()

	o.mu.Lock()
	cfg := o.cfg
	o.mu.Unlock()
	started := o.now().UTC()

	cands, err := o.deps.Signals.Produce(ctx, cfg.Profile, cfg.Universe)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("⚠️ Signal production failed: %v", err)
		o.record(Decision{Symbol: "*", Side: "neutral", Filters: []string{FilterSignalError}, Status: StatusError, Reason: err.Error()})
		o.setLastError(err.Error())
		return
	}

	o.statMu.Lock()
	o.counters.Queued += uint64(len(cands))
	o.lastUniverse = append([]string(nil), cfg.Universe...)
	o.lastRun = started
	o.statMu.Unlock()

	for i := range cands {
		cands[i].Normalize()
	}
	probs := o.probabilities(ctx, cands)

	var (
		ranked  []scored
		skipped []Decision
	)
	for _, c := range cands {
		var pUp *float64
		if p, ok := probs[c.Symbol]; ok {
			pUp = &p
		}
		prob := directionProbability(c.Side, pUp)
		ev := expectedValue(c, prob)

		var filters []string
		if c.Confidence < cfg.MinConf {
			filters = append(filters, FilterConfidence)
		}
		if ev < cfg.MinEV {
			filters = append(filters, FilterEV)
		}
		if len(filters) > 0 {
			skipped = append(skipped, decisionFor(c, prob, ev, 0, StatusFiltered, filters...))
			continue
		}
		ranked = append(ranked, scored{cand: c, ev: ev, prob: prob})
	}

	o.statMu.Lock()
	o.counters.Considered += uint64(len(ranked))
	o.statMu.Unlock()

	sort.SliceStable(ranked, func(i, j int) bool { return rankLess(ranked[i], ranked[j]) })
	selected := ranked
	if len(ranked) > cfg.TopN {
		selected = ranked[:cfg.TopN]
		for _, s := range ranked[cfg.TopN:] {
			o.record(decisionFor(s.cand, s.prob, s.ev, 0, StatusSkipped, FilterRank))
		}
	}
	for _, d := range skipped {
		o.record(d)
	}
	for _, s := range selected {
		if ctx.Err() != nil {
			return
		}
		o.execute(ctx, cfg, s)
	}
}

// probabilities asks the predictor for up-probabilities. Failures leave every
// symbol unknown.
func (o *Orchestrator) probabilities(ctx context.Context, cands []strategy.Candidate) map[string]float64 {
	if o.deps.Predictor == nil || len(cands) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(cands))
	symbols := make([]string, 0, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.Symbol]; ok {
			continue
		}
		seen[c.Symbol] = struct{}{}
		symbols = append(symbols, c.Symbol)
	}
	probs, err := o.deps.Predictor.Predict(ctx, symbols)
	if err != nil {
		log.Printf("⚠️ Predictor unavailable, probabilities unknown: %v", err)
		return nil
	}
	out := make(map[string]float64, len(probs))
	for sym, p := range probs {
		out[strings.ToUpper(sym)] = p
	}
	return out
}

func (o *Orchestrator) execute(ctx context.Context, cfg Config, s scored) {
	c := s.cand
	qty := sizeQty(c, o.deps.Gate.Budget())
	if cfg.MaxQty > 0 && qty > cfg.MaxQty {
		qty = cfg.MaxQty
	}
	if qty <= 0 {
		o.record(decisionFor(c, s.prob, s.ev, 0, StatusFiltered, FilterSizingZero))
		return
	}

	isOption := candidateKind(c) == order.AssetOption
	proposal := risk.Proposal{
		Symbol:   c.Symbol,
		Side:     c.Side,
		Qty:      float64(qty),
		Price:    c.Entry,
		IsOption: isOption,
		Stop:     c.Stop,
		Target:   c.Target,
	}
	dec := o.deps.Gate.Check(proposal)
	if !dec.Allow && dec.Reason == risk.ReasonPerTradeRisk && dec.MaxQty != nil {
		capped := int(*dec.MaxQty)
		if capped <= 0 {
			o.record(decisionFor(c, s.prob, s.ev, 0, StatusFiltered, FilterRiskMaxQty))
			return
		}
		if capped < qty {
			qty = capped
			proposal.Qty = float64(qty)
			dec = o.deps.Gate.Check(proposal)
		}
	}
	if !dec.Allow {
		o.record(decisionFor(c, s.prob, s.ev, qty, StatusRejected, "risk:"+dec.Reason))
		return
	}

	entry := c.Entry
	assetClass := order.AssetEquity
	if isOption {
		assetClass = order.AssetOption
	}
	intent := order.ExecIntent{
		Symbol:     c.Symbol,
		Side:       c.Side,
		Qty:        float64(qty),
		LimitPrice: &entry,
		AssetClass: assetClass,
		Bracket:    !isOption && c.Stop != nil && c.Target != nil,
		RefPrice:   entry,
		Stop:       c.Stop,
	}
	res := o.submitWithRetry(ctx, intent, 1)

	o.statMu.Lock()
	o.counters.Routed++
	if res.Accepted {
		o.counters.Accepted++
	}
	o.statMu.Unlock()

	status := StatusRejected
	switch {
	case res.Accepted && res.DryRun:
		status = StatusSimulated
	case res.Accepted:
		status = StatusAccepted
	}
	d := decisionFor(c, s.prob, s.ev, qty, status)
	if status == StatusRejected && res.Reason != "" {
		d.Filters = append(d.Filters, res.Reason)
	}
	d.Execution = &res
	o.record(d)
}

func (o *Orchestrator) submitWithRetry(ctx context.Context, intent order.ExecIntent, retries int) order.ExecResult {
	res := o.deps.Router.Submit(ctx, intent)
	if res.Accepted || res.DryRun {
		return res
	}
	if res.Reason == order.ReasonDuplicateCID && retries > 0 {
		select {
		case <-ctx.Done():
			return res
		case <-time.After(10 * time.Millisecond):
		}
		intent.ClientTag = order.RetryClientOrderID(intent.ClientTag)
		log.Printf("⚠️ Duplicate client order id for %s, retrying as %s", intent.Symbol, intent.ClientTag)
		return o.submitWithRetry(ctx, intent, retries-1)
	}
	if strings.Contains(res.Reason, "unauthorized") {
		o.disableBroker(res.Reason)
	}
	return res
}

// disableBroker routes all further submissions through the dry-run path.
func (o *Orchestrator) disableBroker(reason string) {
	o.statMu.Lock()
	already := o.brokerDisabled
	o.brokerDisabled = true
	o.mockRouting = true
	o.statMu.Unlock()
	if already {
		return
	}
	log.Printf("❌ Broker disabled (%s); routing further orders to dry-run", reason)
	o.deps.Router.SetDryRun(true)
	o.deps.Bus.Publish(events.EventRiskAlert, events.RiskAlert{Source: "orchestrator", Message: "broker disabled: " + reason})
}

func (o *Orchestrator) record(d Decision) {
	d.ID = uuid.NewString()
	d.Timestamp = o.now().UTC()
	if d.Filters == nil {
		d.Filters = []string{}
	}

	o.statMu.Lock()
	o.history = append(o.history, d)
	if len(o.history) > historySize {
		o.history = o.history[len(o.history)-historySize:]
	}
	o.statMu.Unlock()

	if o.deps.Sink != nil {
		o.deps.Sink.RecordDecision(db.Decision{
			ID:            d.ID,
			TS:            d.Timestamp,
			Symbol:        d.Symbol,
			Side:          d.Side,
			Confidence:    d.Confidence,
			Probability:   d.Probability,
			ExpectedValue: d.ExpectedValue,
			Qty:           d.Qty,
			Filters:       persistence.MarshalFilters(d.Filters),
			Status:        d.Status,
		})
	}
	o.deps.Bus.Publish(events.EventDecision, d)
}

func (o *Orchestrator) setLastError(msg string) {
	o.statMu.Lock()
	o.lastErr = msg
	o.statMu.Unlock()
}

// Decisions returns the rolling history, oldest first.
func (o *Orchestrator) Decisions() []Decision {
	o.statMu.Lock()
	defer o.statMu.Unlock()
	return append([]Decision(nil), o.history...)
}

// Config returns the resolved loop config.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Status returns a snapshot of the loop's state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	cfg := o.cfg
	running := o.running
	restarts := o.restarts
	o.mu.Unlock()

	o.statMu.Lock()
	defer o.statMu.Unlock()
	st := Status{
		Running:      running,
		Profile:      cfg.Profile,
		Universe:     append([]string(nil), o.lastUniverse...),
		IntervalSec:  cfg.Interval.Seconds(),
		TopN:         cfg.TopN,
		MinConf:      cfg.MinConf,
		MinEV:        cfg.MinEV,
		Metrics:      o.counters,
		Broker:       BrokerStatus{MockMode: o.mockRouting, Disabled: o.brokerDisabled},
		RestartCount: restarts,
	}
	if o.lastErr != "" {
		msg := o.lastErr
		st.LastError = &msg
	}
	if !o.lastRun.IsZero() {
		at := o.lastRun
		st.LastRun = &at
	}
	return st
}

func decisionFor(c strategy.Candidate, prob *float64, ev float64, qty int, status string, filters ...string) Decision {
	return Decision{
		Symbol:        c.Symbol,
		Side:          c.Side,
		Confidence:    c.Confidence,
		Probability:   prob,
		ExpectedValue: ev,
		Qty:           qty,
		Filters:       append([]string{}, filters...),
		Status:        status,
	}
}

func candidateKind(c strategy.Candidate) string {
	if k, ok := c.Meta["kind"].(string); ok && strings.EqualFold(k, order.AssetOption) {
		return order.AssetOption
	}
	return order.AssetEquity
}
