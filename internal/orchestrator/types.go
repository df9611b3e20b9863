package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/risk"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
)

// Decision statuses.
const (
	StatusFiltered  = "filtered"
	StatusSkipped   = "skipped"
	StatusRejected  = "rejected"
	StatusAccepted  = "accepted"
	StatusSimulated = "simulated"
	StatusError     = "error"
)

// Filter reasons.
const (
	FilterConfidence  = "confidence_below_min"
	FilterEV          = "ev_below_min"
	FilterRank        = "rank_out_of_range"
	FilterSizingZero  = "sizing_zero"
	FilterRiskMaxQty  = "risk_max_qty"
	FilterSignalError = "signal_error"
)

const historySize = 50

// Submitter is the router as seen by the loop.
type Submitter interface {
	Submit(ctx context.Context, intent order.ExecIntent) order.ExecResult
	SetDryRun(on bool)
}

// RiskGate is the admission gate as seen by the loop.
type RiskGate interface {
	Check(p risk.Proposal) risk.Decision
	Budget() float64
}

// Engager halts trading; an orderly stop engages it and a start clears
// any soft halt.
type Engager interface {
	Engage(reason string)
	SafeArm(ctx context.Context) (bool, error)
}

// DecisionSink mirrors decision records into durable storage.
type DecisionSink interface {
	RecordDecision(dec db.Decision)
}

// Config controls one run of the loop.
type Config struct {
	Profile      string        `json:"profile"`
	Universe     []string      `json:"universe"`
	Interval     time.Duration `json:"-"`
	TopN         int           `json:"top_n"`
	MinConf      float64       `json:"min_conf"`
	MinEV        float64       `json:"min_ev"`
	MaxQty       int           `json:"max_qty"` // 0 = uncapped
	AutoRestart  bool          `json:"auto_restart"`
	MaxRestarts  int           `json:"max_restarts"`
	RestartDelay time.Duration `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.Profile == "" {
		c.Profile = "balanced"
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.TopN <= 0 {
		c.TopN = 1
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = time.Second
	}
	universe := make([]string, 0, len(c.Universe))
	for _, s := range c.Universe {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			universe = append(universe, s)
		}
	}
	c.Universe = universe
	return c
}

// Overrides adjusts a Config when the loop is started. Nil fields keep the
// current value.
type Overrides struct {
	Profile     *string  `json:"profile,omitempty"`
	Universe    []string `json:"universe,omitempty"`
	IntervalSec *float64 `json:"interval_sec,omitempty"`
	TopN        *int     `json:"top_n,omitempty"`
	MinConf     *float64 `json:"min_conf,omitempty"`
	MinEV       *float64 `json:"min_ev,omitempty"`
	MaxQty      *int     `json:"max_qty,omitempty"`
}

// Apply returns cfg with the overrides applied.
func (o Overrides) Apply(cfg Config) Config {
	if o.Profile != nil {
		cfg.Profile = strings.ToLower(*o.Profile)
	}
	if len(o.Universe) > 0 {
		cfg.Universe = append([]string(nil), o.Universe...)
	}
	if o.IntervalSec != nil && *o.IntervalSec > 0 {
		cfg.Interval = time.Duration(*o.IntervalSec * float64(time.Second))
	}
	if o.TopN != nil {
		cfg.TopN = *o.TopN
	}
	if o.MinConf != nil {
		cfg.MinConf = *o.MinConf
	}
	if o.MinEV != nil {
		cfg.MinEV = *o.MinEV
	}
	if o.MaxQty != nil {
		cfg.MaxQty = *o.MaxQty
	}
	return cfg.withDefaults()
}

// Decision is one structured record per candidate per cycle.
type Decision struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Side          string            `json:"side"`
	Confidence    float64           `json:"confidence"`
	Probability   *float64          `json:"probability"`
	ExpectedValue float64           `json:"expected_value"`
	Qty           int               `json:"qty"`
	Filters       []string          `json:"filters"`
	Status        string            `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Execution     *order.ExecResult `json:"execution,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Counters are cumulative per run and reset on Start.
type Counters struct {
	Queued     uint64 `json:"queued"`
	Considered uint64 `json:"considered"`
	Routed     uint64 `json:"routed"`
	Accepted   uint64 `json:"accepted"`
}

// BrokerStatus reports how submissions are being routed.
type BrokerStatus struct {
	MockMode bool `json:"mock_mode"`
	Disabled bool `json:"disabled"`
}

// Status is the loop's observable state.
type Status struct {
	Running      bool         `json:"running"`
	Profile      string       `json:"profile"`
	Universe     []string     `json:"universe"`
	IntervalSec  float64      `json:"interval_sec"`
	TopN         int          `json:"top_n"`
	MinConf      float64      `json:"min_conf"`
	MinEV        float64      `json:"min_ev"`
	Metrics      Counters     `json:"metrics"`
	Broker       BrokerStatus `json:"broker"`
	LastError    *string      `json:"last_error"`
	LastRun      *time.Time   `json:"last_run"`
	RestartCount int          `json:"restart_count"`
}
