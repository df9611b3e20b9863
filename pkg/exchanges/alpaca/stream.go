package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// ErrAuthFailed is returned when the stream rejects credentials.
var ErrAuthFailed = errors.New("alpaca stream: authentication failed")

// StreamClient consumes Alpaca's trade_updates and market data websockets.
type StreamClient struct {
	TradeURL  string
	DataURL   string
	apiKey    string
	apiSecret string
	dialer    *websocket.Dialer
	backoff   common.RetryPolicy
}

// NewStreamClient builds a stream client for the given endpoints.
func NewStreamClient(tradeURL, dataURL, key, secret string) *StreamClient {
	return &StreamClient{
		TradeURL:  tradeURL,
		DataURL:   dataURL,
		apiKey:    key,
		apiSecret: secret,
		dialer:    websocket.DefaultDialer,
		backoff:   common.RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second},
	}
}

// RunTradeUpdates streams order updates into handle until ctx is done,
// reconnecting with capped backoff.
func (c *StreamClient) RunTradeUpdates(ctx context.Context, handle func(events.TradeUpdate)) error {
	return c.runLoop(ctx, "trade_updates", func(ctx context.Context) error {
		return c.tradeSession(ctx, handle)
	})
}

// RunMarketData streams trades and bars for symbols into handle until ctx is done.
func (c *StreamClient) RunMarketData(ctx context.Context, symbols []string, handle func(events.PriceTick)) error {
	if len(symbols) == 0 {
		return errors.New("alpaca stream: at least one symbol is required")
	}
	return c.runLoop(ctx, "market_data", func(ctx context.Context) error {
		return c.dataSession(ctx, symbols, handle)
	})
}

func (c *StreamClient) runLoop(ctx context.Context, name string, session func(context.Context) error) error {
	attempt := 0
	for {
		start := time.Now()
		err := session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		if time.Since(start) > time.Minute {
			attempt = 0
		}
		attempt++
		wait := c.backoff.Backoff(attempt)
		log.Printf("alpaca %s stream dropped: %v (reconnect in %s)", name, err, wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *StreamClient) dial(ctx context.Context, u string) (*websocket.Conn, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", u, err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		case <-done:
		}
	}()
	return conn, func() { close(done); _ = conn.Close() }, nil
}

func (c *StreamClient) tradeSession(ctx context.Context, handle func(events.TradeUpdate)) error {
	conn, closeConn, err := c.dial(ctx, c.TradeURL)
	if err != nil {
		return err
	}
	defer closeConn()

	auth := map[string]any{"action": "auth", "key": c.apiKey, "secret": c.apiSecret}
	if err := conn.WriteJSON(auth); err != nil {
		return err
	}
	listen := map[string]any{"action": "listen", "data": map[string]any{"streams": []string{"trade_updates"}}}
	if err := conn.WriteJSON(listen); err != nil {
		return err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		update, ok, err := ParseTradeUpdate(msg)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return err
			}
			log.Printf("alpaca trade stream parse error: %v", err)
			continue
		}
		if ok {
			handle(update)
		}
	}
}

func (c *StreamClient) dataSession(ctx context.Context, symbols []string, handle func(events.PriceTick)) error {
	conn, closeConn, err := c.dial(ctx, c.DataURL)
	if err != nil {
		return err
	}
	defer closeConn()

	if err := conn.WriteJSON(map[string]any{"action": "auth", "key": c.apiKey, "secret": c.apiSecret}); err != nil {
		return err
	}
	sub := map[string]any{"action": "subscribe", "trades": symbols, "bars": symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ticks, err := ParseMarketData(msg)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return err
			}
			log.Printf("alpaca data stream parse error: %v", err)
			continue
		}
		for _, t := range ticks {
			handle(t)
		}
	}
}

type tradeUpdateEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Event     string         `json:"event"`
		Price     any            `json:"price"`
		Qty       any            `json:"qty"`
		Timestamp string         `json:"timestamp"`
		Order     map[string]any `json:"order"`
		Status    string         `json:"status"`
	} `json:"data"`
}

// ParseTradeUpdate decodes a trade_updates frame. ok is false for control
// frames such as authorization and listening acks.
func ParseTradeUpdate(msg []byte) (events.TradeUpdate, bool, error) {
	var env tradeUpdateEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return events.TradeUpdate{}, false, err
	}
	if env.Stream != "trade_updates" {
		if env.Stream == "authorization" && env.Data.Status != "" && env.Data.Status != "authorized" {
			return events.TradeUpdate{}, false, ErrAuthFailed
		}
		return events.TradeUpdate{}, false, nil
	}
	o := env.Data.Order
	u := events.TradeUpdate{
		Event:         env.Data.Event,
		VenueOrderID:  str(o["id"]),
		ClientOrderID: str(o["client_order_id"]),
		Symbol:        strings.ToUpper(str(o["symbol"])),
		Side:          strings.ToLower(str(o["side"])),
		Status:        str(o["status"]),
		AssetClass:    str(o["asset_class"]),
		At:            time.Now().UTC(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, env.Data.Timestamp); err == nil {
		u.At = ts.UTC()
	}
	if v, ok := num(o["filled_qty"]); ok {
		u.FilledQty = &v
	} else if v, ok := num(env.Data.Qty); ok {
		u.FillQty = &v
	}
	if px, ok := num(env.Data.Price); ok {
		u.FillPrice = px
	} else if px, ok := num(o["filled_avg_price"]); ok {
		u.FillPrice = px
	}
	return u, true, nil
}

// ParseMarketData decodes a market data frame into price ticks. Alpaca
// batches messages into a JSON array.
func ParseMarketData(msg []byte) ([]events.PriceTick, error) {
	var frames []map[string]any
	if err := json.Unmarshal(msg, &frames); err != nil {
		return nil, err
	}
	var out []events.PriceTick
	for _, f := range frames {
		kind := str(f["T"])
		switch kind {
		case "t", "b", "u":
		case "error":
			if code, _ := num(f["code"]); code == 401 || code == 402 {
				return out, ErrAuthFailed
			}
			return out, fmt.Errorf("alpaca data error: %s", str(f["msg"]))
		default:
			continue
		}
		tick := events.PriceTick{Symbol: strings.ToUpper(str(f["S"]))}
		var ok bool
		if kind == "t" {
			tick.Price, ok = num(f["p"])
			tick.Size, _ = num(f["s"])
		} else {
			tick.Price, ok = num(f["c"])
			tick.Size, _ = num(f["v"])
		}
		if !ok || tick.Symbol == "" {
			continue
		}
		tick.At = time.Now().UTC()
		if ts, err := time.Parse(time.RFC3339Nano, str(f["t"])); err == nil {
			tick.At = ts.UTC()
		}
		out = append(out, tick)
	}
	return out, nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if t == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
