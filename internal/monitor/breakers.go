package monitor

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// Breaker identifiers.
const (
	BreakerDataStale   = "data_stale"
	BreakerRejectSpike = "reject_spike"
	BreakerLatencyP95  = "latency_p95"
)

const (
	rejectWindow           = 120 * time.Second
	defaultBreakerInterval = 10 * time.Second
)

// Telemetry is what the breakers observe.
type Telemetry interface {
	DataStaleness(now time.Time) (float64, bool)
	RejectsTotal() (uint64, bool)
	OrderLatencyP95() (float64, bool)
}

// Engager engages the kill switch and reports persistence failures.
type Engager interface {
	EngageContext(ctx context.Context, reason string) error
}

// Limits are breaker thresholds; nil disables a breaker.
type Limits struct {
	MaxDataStaleSec  *float64 `json:"max_data_stale_sec"`
	MaxRejectsPerMin *float64 `json:"max_rejects_per_min"`
	MaxLatencyP95Ms  *float64 `json:"max_latency_p95_ms"`
}

// LimitsFrom turns config values into Limits; values <= 0 disable a breaker.
func LimitsFrom(staleSec, rejectsPerMin, latencyP95Ms float64) Limits {
	pos := func(v float64) *float64 {
		if v > 0 {
			return &v
		}
		return nil
	}
	return Limits{
		MaxDataStaleSec:  pos(staleSec),
		MaxRejectsPerMin: pos(rejectsPerMin),
		MaxLatencyP95Ms:  pos(latencyP95Ms),
	}
}

// Observations are the last values the breakers saw.
type Observations struct {
	DataStalenessSec *float64 `json:"data_staleness_sec"`
	RejectsTotal     *float64 `json:"rejects_total"`
	RejectsPerMin    *float64 `json:"rejects_per_min"`
	LatencyP95Ms     *float64 `json:"latency_p95_ms"`
}

// Trip records the last non-empty evaluation.
type Trip struct {
	Breakers []string  `json:"breakers"`
	At       time.Time `json:"at"`
}

// BreakerState is exposed for status reporting.
type BreakerState struct {
	Limits       Limits       `json:"limits"`
	Current      []string     `json:"current"`
	LastChecked  *time.Time   `json:"last_checked"`
	Observations Observations `json:"observations"`
	LastTrip     *Trip        `json:"last_trip"`
}

type rejectSample struct {
	at    time.Time
	total uint64
}

// Breakers evaluates safety conditions and engages the kill switch on trip.
type Breakers struct {
	limits    Limits
	telemetry Telemetry
	killer    Engager
	bus       *events.Bus
	interval  time.Duration
	retry     common.RetryPolicy

	mu          sync.Mutex
	samples     []rejectSample
	current     []string
	lastChecked *time.Time
	obs         Observations
	lastTrip    *Trip
}

// NewBreakers creates the safety monitor. bus may be nil.
func NewBreakers(limits Limits, telemetry Telemetry, killer Engager, bus *events.Bus, interval time.Duration) *Breakers {
	if interval <= 0 {
		interval = defaultBreakerInterval
	}
	return &Breakers{
		limits:    limits,
		telemetry: telemetry,
		killer:    killer,
		bus:       bus,
		interval:  interval,
		retry: common.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Retryable:   func(error) bool { return true },
		},
	}
}

// Enabled reports whether any breaker has a threshold.
func (b *Breakers) Enabled() bool {
	return b.limits.MaxDataStaleSec != nil || b.limits.MaxRejectsPerMin != nil || b.limits.MaxLatencyP95Ms != nil
}

func (b *Breakers) Interval() time.Duration { return b.interval }

// Evaluate returns the breakers that should trip at now and records state.
func (b *Breakers) Evaluate(now time.Time) []string {
	var (
		staleness, p95 float64
		haveStale      bool
		haveP95        bool
		total          uint64
		haveTotal      bool
	)
	if b.telemetry != nil {
		staleness, haveStale = b.telemetry.DataStaleness(now)
		p95, haveP95 = b.telemetry.OrderLatencyP95()
		total, haveTotal = b.telemetry.RejectsTotal()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rate, haveRate := b.rejectRate(now, total, haveTotal)

	tripped := make([]string, 0, 3)
	if lim := b.limits.MaxDataStaleSec; lim != nil && haveStale && staleness > *lim {
		tripped = append(tripped, BreakerDataStale)
	}
	if lim := b.limits.MaxRejectsPerMin; lim != nil && haveRate && rate > *lim {
		tripped = append(tripped, BreakerRejectSpike)
	}
	if lim := b.limits.MaxLatencyP95Ms; lim != nil && haveP95 && p95 > *lim {
		tripped = append(tripped, BreakerLatencyP95)
	}

	obs := Observations{}
	if haveStale {
		obs.DataStalenessSec = &staleness
	}
	if haveTotal {
		t := float64(total)
		obs.RejectsTotal = &t
	}
	if haveRate {
		obs.RejectsPerMin = &rate
	}
	if haveP95 {
		obs.LatencyP95Ms = &p95
	}

	checked := now
	b.current = tripped
	b.lastChecked = &checked
	b.obs = obs
	if len(tripped) > 0 {
		b.lastTrip = &Trip{Breakers: append([]string(nil), tripped...), At: now}
	}
	return append([]string(nil), tripped...)
}

// rejectRate keeps a rolling window of counter samples. Caller holds b.mu.
func (b *Breakers) rejectRate(now time.Time, total uint64, ok bool) (float64, bool) {
	if !ok {
		b.samples = b.samples[:0]
		return 0, false
	}
	if n := len(b.samples); n > 0 && total < b.samples[n-1].total {
		// counter went backwards: process restarted
		b.samples = b.samples[:0]
	}
	b.samples = append(b.samples, rejectSample{at: now, total: total})

	cutoff := now.Add(-rejectWindow)
	for len(b.samples) > 1 && b.samples[0].at.Before(cutoff) {
		b.samples = b.samples[1:]
	}
	if len(b.samples) < 2 {
		return 0, true
	}
	oldest := b.samples[0]
	elapsed := now.Sub(oldest.at).Seconds()
	if elapsed < 1e-6 {
		elapsed = 1e-6
	}
	var delta float64
	if total > oldest.total {
		delta = float64(total - oldest.total)
	}
	return delta / elapsed * 60, true
}

// Enforce evaluates and engages the kill switch when anything trips.
// Engaging is best-effort: the trip is recorded even if engaging fails.
func (b *Breakers) Enforce(ctx context.Context, now time.Time) []string {
	trips := b.Evaluate(now)
	if len(trips) == 0 {
		return trips
	}
	log.Printf("🚨 breakers tripped: %v", trips)
	b.bus.Publish(events.EventBreakerTrip, events.BreakerTrip{Breakers: trips, At: now})
	b.bus.Publish(events.EventRiskAlert, events.RiskAlert{Source: "breakers", Message: "tripped: " + joinIDs(trips)})

	if b.killer == nil {
		return trips
	}
	reason := "breaker:" + joinIDs(trips)
	err := common.Retry(ctx, b.retry, func(ctx context.Context) error {
		return b.killer.EngageContext(ctx, reason)
	})
	if err != nil {
		log.Printf("❌ failed to engage kill switch after breaker trip: %v", err)
	} else {
		b.bus.Publish(events.EventKillSwitch, events.KillSwitchEvent{Engaged: true, Reason: reason, At: now})
	}
	return trips
}

// State returns a copy of the current breaker state.
func (b *Breakers) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BreakerState{
		Limits:       b.limits,
		Current:      append([]string{}, b.current...),
		Observations: b.obs,
	}
	if b.lastChecked != nil {
		c := *b.lastChecked
		st.LastChecked = &c
	}
	if b.lastTrip != nil {
		st.LastTrip = &Trip{Breakers: append([]string(nil), b.lastTrip.Breakers...), At: b.lastTrip.At}
	}
	return st
}

// Start runs Enforce on the configured interval until ctx is done.
func (b *Breakers) Start(ctx context.Context) {
	if !b.Enabled() {
		log.Println("breakers disabled (no limits configured)")
		return
	}
	log.Printf("✓ breakers started (interval=%s)", b.interval)
	ticker := time.NewTicker(b.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.Enforce(ctx, now.UTC())
			}
		}
	}()
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
