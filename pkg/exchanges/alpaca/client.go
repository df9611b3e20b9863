package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

// Config holds Alpaca credentials and pacing.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	RatePerSec float64
	RateBurst  int
}

// Client is an Alpaca trading REST client implementing common.Venue.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
}

var _ common.Venue = (*Client)(nil)

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://paper-api.alpaca.markets"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:         cfg,
		baseURL:     base,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: common.NewRateLimiter(cfg.RatePerSec, cfg.RateBurst),
	}
}

// IsConfigured reports whether both credentials are present.
func (c *Client) IsConfigured() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

// RateLimiter exposes the pacing state for diagnostics.
func (c *Client) RateLimiter() *common.RateLimiter { return c.rateLimiter }

type takeProfitLeg struct {
	LimitPrice string `json:"limit_price"`
}

type stopLossLeg struct {
	StopPrice string `json:"stop_price"`
}

type OrderPayload struct {
	Symbol        string         `json:"symbol"`
	Qty           string         `json:"qty"`
	Side          string         `json:"side"`
	Type          string         `json:"type"`
	TimeInForce   string         `json:"time_in_force"`
	LimitPrice    string         `json:"limit_price,omitempty"`
	ClientOrderID string         `json:"client_order_id,omitempty"`
	OrderClass    string         `json:"order_class,omitempty"`
	TakeProfit    *takeProfitLeg `json:"take_profit,omitempty"`
	StopLoss      *stopLossLeg   `json:"stop_loss,omitempty"`
}

type orderResponse struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !c.IsConfigured() {
		return common.OrderResult{}, &common.UnauthorizedError{Message: "alpaca: API key/secret required"}
	}
	payload := BuildOrderPayload(req)
	body, err := c.do(ctx, http.MethodPost, "/v2/orders", nil, payload)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	return resp.result(), nil
}

// BuildOrderPayload renders an order request in Alpaca's wire shape.
func BuildOrderPayload(req common.OrderRequest) OrderPayload {
	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
		if req.LimitPrice > 0 {
			ordType = common.OrderTypeLimit
		}
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = common.TIFDay
	}
	p := OrderPayload{
		Symbol:        strings.ToUpper(req.Symbol),
		Qty:           formatFloat(req.Qty),
		Side:          strings.ToLower(string(req.Side)),
		Type:          string(ordType),
		TimeInForce:   string(tif),
		ClientOrderID: req.ClientID,
	}
	if ordType == common.OrderTypeLimit || ordType == common.OrderTypeStopLimit {
		p.LimitPrice = formatFloat(req.LimitPrice)
	}
	if req.Bracket != nil {
		p.OrderClass = "bracket"
		p.TakeProfit = &takeProfitLeg{LimitPrice: formatFloat(req.Bracket.TakeProfit)}
		p.StopLoss = &stopLossLeg{StopPrice: formatFloat(req.Bracket.StopLoss)}
	}
	return p
}

func (c *Client) CancelOrder(ctx context.Context, venueOrderID string) error {
	if venueOrderID == "" {
		return &common.ValidationError{StatusCode: 400, Message: "order id required"}
	}
	_, err := c.do(ctx, http.MethodDelete, "/v2/orders/"+url.PathEscape(venueOrderID), nil, nil)
	return err
}

func (c *Client) ReplaceOrder(ctx context.Context, venueOrderID string, req common.ReplaceRequest) (common.OrderResult, error) {
	payload := map[string]string{}
	if req.Qty != nil {
		payload["qty"] = formatFloat(*req.Qty)
	}
	if req.LimitPrice != nil {
		payload["limit_price"] = formatFloat(*req.LimitPrice)
	}
	body, err := c.do(ctx, http.MethodPatch, "/v2/orders/"+url.PathEscape(venueOrderID), nil, payload)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode replace response: %w", err)
	}
	return resp.result(), nil
}

// OrderByClientID fetches an order by the client_order_id it was submitted with.
func (c *Client) OrderByClientID(ctx context.Context, clientOrderID string) (common.OrderResult, error) {
	if clientOrderID == "" {
		return common.OrderResult{}, &common.ValidationError{StatusCode: 400, Message: "client order id required"}
	}
	params := url.Values{}
	params.Set("client_order_id", clientOrderID)
	body, err := c.do(ctx, http.MethodGet, "/v2/orders:by_client_order_id", params, nil)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order lookup: %w", err)
	}
	return resp.result(), nil
}

// ListOrders returns raw order payloads, newest first.
func (c *Client) ListOrders(ctx context.Context, scope string, limit int) ([]map[string]any, error) {
	params := url.Values{}
	switch scope {
	case common.ScopeOpen, common.ScopeClosed:
		params.Set("status", scope)
	default:
		params.Set("status", common.ScopeAll)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	params.Set("direction", "desc")
	params.Set("nested", "false")
	return c.getList(ctx, "/v2/orders", params)
}

func (c *Client) ListPositions(ctx context.Context) ([]map[string]any, error) {
	return c.getList(ctx, "/v2/positions", nil)
}

func (c *Client) GetAccount(ctx context.Context) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, "/v2/account", nil, nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return out, nil
}

func (c *Client) getList(ctx context.Context, path string, params url.Values) ([]map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload any) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &common.TransientError{Message: err.Error()}
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-Ratelimit-Limit"), res.Header.Get("X-Ratelimit-Remaining"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, classify(res.StatusCode, res.Header.Get("Retry-After"), body)
	}
	return body, nil
}

// classify maps an HTTP failure onto the typed venue errors.
func classify(status int, retryAfter string, body []byte) error {
	msg := errorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &common.UnauthorizedError{Message: msg}
	case status == http.StatusTooManyRequests:
		return &common.RateLimitError{RetryAfter: parseRetryAfter(retryAfter), Message: msg}
	case status >= 500:
		return &common.TransientError{StatusCode: status, Message: msg}
	case strings.Contains(strings.ToLower(msg), "client_order_id must be unique"):
		return &common.DuplicateClientOrderIDError{ClientID: msg}
	}
	return &common.ValidationError{StatusCode: status, Message: msg}
}

func errorMessage(body []byte) string {
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func (r orderResponse) result() common.OrderResult {
	filled, _ := strconv.ParseFloat(r.FilledQty, 64)
	avg, _ := strconv.ParseFloat(r.FilledAvgPrice, 64)
	return common.OrderResult{
		VenueOrderID:   r.ID,
		ClientID:       r.ClientOrderID,
		Status:         common.ParseStatus(r.Status),
		FilledQty:      filled,
		FilledAvgPrice: avg,
	}
}

// IsNotFound reports a 404 from the venue.
func IsNotFound(err error) bool {
	var ve *common.ValidationError
	return errors.As(err, &ve) && ve.StatusCode == http.StatusNotFound
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
