package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/engine"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/killswitch"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/orchestrator"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/order"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

type listOrdersQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type engageRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

type resetRequest struct {
	Force bool `json:"force"`
}

type riskProfileRequest struct {
	Profile string `json:"profile" binding:"required"`
}

type replaceRequest struct {
	Qty        *float64 `json:"qty" binding:"omitempty,gt=0"`
	LimitPrice *float64 `json:"limit_price" binding:"omitempty,gt=0"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func engineError(c *gin.Context, err error) {
	var verr *common.ValidationError
	switch {
	case errors.Is(err, engine.ErrUnavailable):
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", err.Error())
		return
	case errors.Is(err, killswitch.ErrResetBlocked):
		respondError(c, http.StatusConflict, "RESET_BLOCKED", err.Error())
		return
	case errors.Is(err, engine.ErrUnknownProfile):
		respondError(c, http.StatusBadRequest, "UNKNOWN_PROFILE", err.Error())
		return
	case errors.Is(err, order.ErrUnknownOrder):
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
		return
	case errors.As(err, &verr):
		respondError(c, http.StatusUnprocessableEntity, "VENUE_REJECTED", err.Error())
		return
	}
	respondError(c, http.StatusInternalServerError, "ENGINE_ERROR", err.Error())
}

// getStatus combines system metadata with the decision loop's state.
func (s *Server) getStatus(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"system":         s.Engine.GetSystemStatus(ctx),
		"trade":          s.Engine.TradeStatus(ctx),
		"reconciliation": s.Engine.Reconciliation(ctx),
	})
}

func (s *Server) getDecisions(c *gin.Context) {
	decisions := s.Engine.Decisions(c.Request.Context())
	if decisions == nil {
		decisions = []orchestrator.Decision{}
	}
	c.JSON(http.StatusOK, decisions)
}

func (s *Server) getAudit(c *gin.Context) {
	n := 50
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "n must be a positive integer")
			return
		}
		n = min(v, 1000)
	}
	entries, err := s.Engine.AuditTail(c.Request.Context(), n)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) getOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders, err := s.Engine.GetOrders(c.Request.Context(), q.Status, q.Limit)
	if err != nil {
		engineError(c, err)
		return
	}
	if orders == nil {
		orders = []engine.Order{}
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, orders)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.CancelOrder(c.Request.Context(), id); err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client_order_id": id, "status": "cancel_requested"})
}

func (s *Server) replaceOrder(c *gin.Context) {
	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Qty == nil && req.LimitPrice == nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "qty or limit_price is required")
		return
	}
	id := c.Param("id")
	if err := s.Engine.ReplaceOrder(c.Request.Context(), id, req.Qty, req.LimitPrice); err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client_order_id": id, "status": "replaced"})
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.Engine.GetPositions(c.Request.Context())
	if positions == nil {
		positions = []engine.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getAccount(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetAccount(c.Request.Context()))
}

func (s *Server) getQuotes(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Quotes(c.Request.Context()))
}

func (s *Server) getBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Breakers(c.Request.Context()))
}

func (s *Server) getRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.RiskMetrics(c.Request.Context()))
}

func (s *Server) setRiskProfile(c *gin.Context) {
	var req riskProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	preset, err := s.Engine.SetRiskProfile(c.Request.Context(), req.Profile)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, preset)
}

func (s *Server) reconcileNow(c *gin.Context) {
	summary, err := s.Engine.ReconcileNow(c.Request.Context())
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getReconcileSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.ReconcileSnapshot(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Metrics(c.Request.Context()))
}

func (s *Server) getKillSwitch(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.KillSwitch(c.Request.Context()))
}

func (s *Server) getKillSwitchHistory(c *gin.Context) {
	history := s.Engine.KillSwitchHistory(c.Request.Context())
	if history == nil {
		history = []killswitch.Event{}
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) getAlerts(c *gin.Context) {
	alerts := s.Engine.Alerts(c.Request.Context())
	if alerts == nil {
		alerts = []string{}
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) engageKillSwitch(c *gin.Context) {
	var req engageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator:" + CurrentOperator(c)
	}
	if err := s.Engine.EngageKillSwitch(c.Request.Context(), reason); err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.KillSwitch(c.Request.Context()))
}

// resetKillSwitch clears the halt. Risk and breaker halts answer 409 unless
// the body sets force.
func (s *Server) resetKillSwitch(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.Engine.ResetKillSwitch(c.Request.Context(), req.Force); err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.KillSwitch(c.Request.Context()))
}

// startTrading starts the decision loop. The body is optional; when present
// it is decoded as loop overrides.
func (s *Server) startTrading(c *gin.Context) {
	var ov orchestrator.Overrides
	if err := c.ShouldBindJSON(&ov); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if ov.TopN != nil && *ov.TopN < 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "top_n must not be negative")
		return
	}
	cfg, err := s.Engine.StartTrading(c.Request.Context(), &ov)
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "config": cfg})
}

func (s *Server) stopTrading(c *gin.Context) {
	if err := s.Engine.StopTrading(c.Request.Context()); err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
