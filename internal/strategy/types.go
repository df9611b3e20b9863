package strategy

import (
	"context"
	"strings"
	"time"
)

// Candidate is a trade idea from a signal collaborator.
type Candidate struct {
	Symbol     string         `json:"symbol" yaml:"symbol"`
	Side       string         `json:"side" yaml:"side"`
	Entry      float64        `json:"entry" yaml:"entry"`
	Stop       *float64       `json:"stop,omitempty" yaml:"stop"`
	Target     *float64       `json:"target,omitempty" yaml:"target"`
	Confidence float64        `json:"confidence" yaml:"confidence"`
	Score      float64        `json:"score,omitempty" yaml:"score"`
	Meta       map[string]any `json:"meta,omitempty" yaml:"meta"`
	At         time.Time      `json:"at" yaml:"at"`
}

// Normalize upper-cases the symbol and lower-cases the side.
func (c *Candidate) Normalize() {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Side = strings.ToLower(strings.TrimSpace(c.Side))
	if c.Side == "long" {
		c.Side = "buy"
	} else if c.Side == "short" {
		c.Side = "sell"
	}
}

// SignalSource produces candidates for a profile and universe.
type SignalSource interface {
	Produce(ctx context.Context, profile string, universe []string) ([]Candidate, error)
}

// Predictor returns the probability that each symbol moves up. Symbols it
// has no view on are simply absent from the result.
type Predictor interface {
	Predict(ctx context.Context, symbols []string) (map[string]float64, error)
}

// MultiSource concatenates candidates from several sources. A failing
// source is reported only when every source fails.
type MultiSource []SignalSource

func (m MultiSource) Produce(ctx context.Context, profile string, universe []string) ([]Candidate, error) {
	var (
		out     []Candidate
		lastErr error
		ok      int
	)
	for _, s := range m {
		cands, err := s.Produce(ctx, profile, universe)
		if err != nil {
			lastErr = err
			continue
		}
		ok++
		out = append(out, cands...)
	}
	if ok == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func inUniverse(universe []string) func(string) bool {
	if len(universe) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(universe))
	for _, s := range universe {
		set[strings.ToUpper(s)] = struct{}{}
	}
	return func(sym string) bool {
		_, ok := set[sym]
		return ok
	}
}
