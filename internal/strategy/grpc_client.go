package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Remote collaborators speak gRPC with google.protobuf.Struct payloads so
// either side can evolve its fields without regenerated stubs.
const (
	produceMethod = "/gigatrader.signals.v1.SignalService/Produce"
	predictMethod = "/gigatrader.ml.v1.Predictor/Predict"
)

// WorkerClient talks to the signal and prediction workers over gRPC.
type WorkerClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	now     func() time.Time
}

func NewWorkerClient(addr string, opts ...grpc.DialOption) (*WorkerClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &WorkerClient{conn: conn, timeout: 5 * time.Second, now: time.Now}, nil
}

func (w *WorkerClient) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Produce asks the signal worker for candidates.
func (w *WorkerClient) Produce(ctx context.Context, profile string, universe []string) ([]Candidate, error) {
	syms := make([]any, len(universe))
	for i, s := range universe {
		syms[i] = s
	}
	req, err := structpb.NewStruct(map[string]any{"profile": profile, "universe": syms})
	if err != nil {
		return nil, err
	}
	resp, err := w.invoke(ctx, produceMethod, req)
	if err != nil {
		return nil, fmt.Errorf("signal worker: %w", err)
	}
	keep := inUniverse(universe)
	raw, _ := resp.AsMap()["candidates"].([]any)
	out := make([]Candidate, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c, ok := candidateFromMap(m, w.now().UTC())
		if ok && keep(c.Symbol) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Predict asks the model worker for up-probabilities.
func (w *WorkerClient) Predict(ctx context.Context, symbols []string) (map[string]float64, error) {
	syms := make([]any, len(symbols))
	for i, s := range symbols {
		syms[i] = s
	}
	req, err := structpb.NewStruct(map[string]any{"symbols": syms})
	if err != nil {
		return nil, err
	}
	resp, err := w.invoke(ctx, predictMethod, req)
	if err != nil {
		return nil, fmt.Errorf("predictor: %w", err)
	}
	return ParsePredictions(resp.AsMap()), nil
}

func (w *WorkerClient) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	resp := new(structpb.Struct)
	if err := w.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ParsePredictions accepts the shapes model workers return in practice:
// {"probabilities": {sym: p}}, {"predictions": [{symbol, p_up}]}, or a flat
// {sym: p}. Values may be numbers, numeric strings or objects carrying one of
// p_up, probability, prob, p. Anything else is treated as no view.
func ParsePredictions(m map[string]any) map[string]float64 {
	out := make(map[string]float64)
	if probs, ok := m["probabilities"].(map[string]any); ok {
		m = probs
	} else if list, ok := m["predictions"].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sym, _ := entry["symbol"].(string)
			if p, ok := probability(entry); ok && sym != "" {
				out[strings.ToUpper(sym)] = p
			}
		}
		return out
	}
	for sym, v := range m {
		if p, ok := probability(v); ok {
			out[strings.ToUpper(sym)] = p
		}
	}
	return out
}

func probability(v any) (float64, bool) {
	var p float64
	switch t := v.(type) {
	case float64:
		p = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		p = f
	case map[string]any:
		for _, k := range []string{"p_up", "probability", "prob", "p"} {
			if x, ok := t[k]; ok {
				return probability(x)
			}
		}
		return 0, false
	default:
		return 0, false
	}
	if p < 0 || p > 1 {
		return 0, false
	}
	return p, true
}

func candidateFromMap(m map[string]any, now time.Time) (Candidate, bool) {
	c := Candidate{At: now}
	c.Symbol, _ = m["symbol"].(string)
	c.Side, _ = m["side"].(string)
	c.Normalize()
	if c.Symbol == "" || (c.Side != "buy" && c.Side != "sell") {
		return Candidate{}, false
	}
	c.Entry, _ = m["entry"].(float64)
	c.Confidence, _ = m["confidence"].(float64)
	c.Score, _ = m["score"].(float64)
	if v, ok := m["stop"].(float64); ok {
		c.Stop = &v
	}
	if v, ok := m["target"].(float64); ok {
		c.Target = &v
	}
	if meta, ok := m["meta"].(map[string]any); ok {
		c.Meta = meta
	}
	if ts, ok := m["at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			c.At = t.UTC()
		}
	}
	return c, true
}
