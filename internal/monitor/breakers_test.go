package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelemetry struct {
	staleness  *float64
	rejects    *uint64
	latencyP95 *float64
}

func (f *fakeTelemetry) DataStaleness(time.Time) (float64, bool) {
	if f.staleness == nil {
		return 0, false
	}
	return *f.staleness, true
}

func (f *fakeTelemetry) RejectsTotal() (uint64, bool) {
	if f.rejects == nil {
		return 0, false
	}
	return *f.rejects, true
}

func (f *fakeTelemetry) OrderLatencyP95() (float64, bool) {
	if f.latencyP95 == nil {
		return 0, false
	}
	return *f.latencyP95, true
}

type fakeEngager struct {
	calls   int
	failFor int
	reason  string
}

func (f *fakeEngager) EngageContext(_ context.Context, reason string) error {
	f.calls++
	f.reason = reason
	if f.calls <= f.failFor {
		return errors.New("disk full")
	}
	return nil
}

func u64(v uint64) *uint64   { return &v }
func f64(v float64) *float64 { return &v }

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRejectSpikeTripsAndEngages(t *testing.T) {
	tel := &fakeTelemetry{rejects: u64(0)}
	ks := &fakeEngager{}
	b := NewBreakers(LimitsFrom(0, 5, 0), tel, ks, nil, time.Second)

	assert.Empty(t, b.Enforce(context.Background(), t0))
	assert.Equal(t, 0, ks.calls)

	*tel.rejects = 10
	trips := b.Enforce(context.Background(), t0.Add(30*time.Second))
	assert.Equal(t, []string{BreakerRejectSpike}, trips)
	assert.Equal(t, 1, ks.calls)
	assert.Equal(t, "breaker:reject_spike", ks.reason)

	st := b.State()
	assert.Contains(t, st.Current, BreakerRejectSpike)
	require.NotNil(t, st.LastTrip)
	assert.Equal(t, []string{BreakerRejectSpike}, st.LastTrip.Breakers)
	require.NotNil(t, st.Observations.RejectsPerMin)
	assert.InDelta(t, 20.0, *st.Observations.RejectsPerMin, 1e-9)
}

func TestRejectRateMatchesCountOverWindow(t *testing.T) {
	tel := &fakeTelemetry{rejects: u64(100)}
	b := NewBreakers(LimitsFrom(0, 1000, 0), tel, nil, nil, 0)

	b.Evaluate(t0)
	*tel.rejects = 106
	b.Evaluate(t0.Add(90 * time.Second))

	rate := *b.State().Observations.RejectsPerMin
	assert.InDelta(t, 6.0/90.0*60.0, rate, 1e-9)
}

func TestCounterResetClearsWindow(t *testing.T) {
	tel := &fakeTelemetry{rejects: u64(50)}
	b := NewBreakers(LimitsFrom(0, 1, 0), tel, nil, nil, 0)

	b.Evaluate(t0)
	*tel.rejects = 3
	trips := b.Evaluate(t0.Add(10 * time.Second))

	assert.Empty(t, trips)
	assert.Equal(t, 0.0, *b.State().Observations.RejectsPerMin)
}

func TestUnknownTotalDisablesRate(t *testing.T) {
	tel := &fakeTelemetry{rejects: u64(0)}
	b := NewBreakers(LimitsFrom(0, 1, 0), tel, nil, nil, 0)
	b.Evaluate(t0)

	tel.rejects = nil
	assert.Empty(t, b.Evaluate(t0.Add(time.Second)))
	assert.Nil(t, b.State().Observations.RejectsPerMin)
}

func TestOldSamplesLeaveWindow(t *testing.T) {
	tel := &fakeTelemetry{rejects: u64(0)}
	b := NewBreakers(LimitsFrom(0, 1000, 0), tel, nil, nil, 0)

	b.Evaluate(t0)
	*tel.rejects = 60
	b.Evaluate(t0.Add(60 * time.Second))
	b.Evaluate(t0.Add(200 * time.Second))

	// both earlier samples are older than the window, leaving one sample
	assert.Equal(t, 0.0, *b.State().Observations.RejectsPerMin)
}

func TestIndependentBreakersTripTogether(t *testing.T) {
	tel := &fakeTelemetry{staleness: f64(45), latencyP95: f64(900)}
	b := NewBreakers(LimitsFrom(30, 0, 500), tel, nil, nil, 0)

	trips := b.Evaluate(t0)
	assert.Equal(t, []string{BreakerDataStale, BreakerLatencyP95}, trips)
	assert.True(t, b.Enabled())
}

func TestUnconfiguredBreakersNeverTrip(t *testing.T) {
	tel := &fakeTelemetry{staleness: f64(1e6), latencyP95: f64(1e6), rejects: u64(0)}
	b := NewBreakers(Limits{}, tel, nil, nil, 0)
	assert.False(t, b.Enabled())
	assert.Empty(t, b.Evaluate(t0))
	assert.Equal(t, defaultBreakerInterval, b.Interval())
}

func TestTripRecordedWhenEngageFails(t *testing.T) {
	tel := &fakeTelemetry{staleness: f64(100)}
	ks := &fakeEngager{failFor: 10}
	b := NewBreakers(LimitsFrom(1, 0, 0), tel, ks, nil, 0)
	b.retry.BaseDelay = time.Millisecond
	b.retry.MaxDelay = time.Millisecond

	trips := b.Enforce(context.Background(), t0)
	assert.Equal(t, []string{BreakerDataStale}, trips)
	assert.Equal(t, 3, ks.calls)
	require.NotNil(t, b.State().LastTrip)
}

func TestLatencyHistogramP95(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}
	p95, ok := h.P95()
	require.True(t, ok)
	assert.Equal(t, 96.0, p95)
}
