package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks runtime telemetry consumed by breakers and the status API.
type SystemMetrics struct {
	// Latency histograms
	OrderLatency     *LatencyHistogram
	ReconcileLatency *LatencyHistogram
	DecisionLatency  *LatencyHistogram

	// Counters
	ordersSubmitted uint64
	ordersRejected  uint64
	ticksProcessed  uint64
	errorsCount     uint64

	// unix nanos of the last market data event; 0 = never
	lastMarketEvent atomic.Int64
	started         time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next Record.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:     NewLatencyHistogram(500),
		ReconcileLatency: NewLatencyHistogram(200),
		DecisionLatency:  NewLatencyHistogram(200),
		started:          time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 500
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// P95 returns the 95th percentile sample, false when there are no samples.
func (h *LatencyHistogram) P95() (float64, bool) {
	s := h.Stats()
	return s.P95, s.Count > 0
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementSubmitted counts an order that reached the venue.
func (m *SystemMetrics) IncrementSubmitted() {
	atomic.AddUint64(&m.ordersSubmitted, 1)
}

// IncrementRejects counts a venue or routing rejection.
func (m *SystemMetrics) IncrementRejects() {
	atomic.AddUint64(&m.ordersRejected, 1)
}

// RejectsTotal is the monotonic reject counter sampled by the reject-rate breaker.
func (m *SystemMetrics) RejectsTotal() (uint64, bool) {
	return atomic.LoadUint64(&m.ordersRejected), true
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MarkMarketEvent records the arrival of market data.
func (m *SystemMetrics) MarkMarketEvent(at time.Time) {
	atomic.AddUint64(&m.ticksProcessed, 1)
	m.lastMarketEvent.Store(at.UnixNano())
}

// DataStaleness returns seconds since the last market event; false if none arrived yet.
func (m *SystemMetrics) DataStaleness(now time.Time) (float64, bool) {
	last := m.lastMarketEvent.Load()
	if last == 0 {
		return 0, false
	}
	return now.Sub(time.Unix(0, last)).Seconds(), true
}

// OrderLatencyP95 feeds the latency breaker.
func (m *SystemMetrics) OrderLatencyP95() (float64, bool) {
	return m.OrderLatency.P95()
}

// MetricsSnapshot is a point-in-time view for the status API.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats `json:"order_latency"`
	ReconcileLatency LatencyStats `json:"reconcile_latency"`
	DecisionLatency  LatencyStats `json:"decision_latency"`
	OrdersSubmitted  uint64       `json:"orders_submitted"`
	OrdersRejected   uint64       `json:"orders_rejected"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	ErrorsCount      uint64       `json:"errors_count"`
	DataStalenessSec *float64     `json:"data_staleness_sec,omitempty"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	UptimeSec        float64      `json:"uptime_sec"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := time.Now()
	snap := MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		ReconcileLatency: m.ReconcileLatency.Stats(),
		DecisionLatency:  m.DecisionLatency.Stats(),
		OrdersSubmitted:  atomic.LoadUint64(&m.ordersSubmitted),
		OrdersRejected:   atomic.LoadUint64(&m.ordersRejected),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		UptimeSec:        now.Sub(m.started).Seconds(),
		Timestamp:        now,
	}
	if s, ok := m.DataStaleness(now); ok {
		snap.DataStalenessSec = &s
	}
	return snap
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
