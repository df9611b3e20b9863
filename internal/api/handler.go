package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RobloxGangster/Gigatrader-sub000/internal/engine"
	"github.com/RobloxGangster/Gigatrader-sub000/internal/events"
)

// Server is the operator HTTP surface around the engine.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	JWTSecret string
	limiters  *ipLimiters
}

func NewServer(svc engine.Service, bus *events.Bus, jwtSecret string) *Server {
	r := gin.New()
	s := &Server{
		Router:    r,
		Engine:    svc,
		Bus:       bus,
		JWTSecret: jwtSecret,
		limiters:  newIPLimiters(20, 50),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(s.limiters))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/decisions", s.getDecisions)
		api.GET("/audit", s.getAudit)
		api.GET("/orders", s.getOrders)
		api.GET("/positions", s.getPositions)
		api.GET("/account", s.getAccount)
		api.GET("/quotes", s.getQuotes)
		api.GET("/breakers", s.getBreakers)
		api.GET("/risk", s.getRiskMetrics)
		api.GET("/metrics", s.getMetrics)
		api.GET("/reconcile/snapshot", s.getReconcileSnapshot)
		api.GET("/kill-switch", s.getKillSwitch)
		api.GET("/kill-switch/history", s.getKillSwitchHistory)
		api.GET("/alerts", s.getAlerts)

		// Mutating operator actions
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/kill-switch/engage", s.engageKillSwitch)
			protected.POST("/kill-switch/reset", s.resetKillSwitch)
			protected.POST("/trade/start", s.startTrading)
			protected.POST("/trade/stop", s.stopTrading)
			protected.POST("/orders/:id/cancel", s.cancelOrder)
			protected.POST("/orders/:id/replace", s.replaceOrder)
			protected.PUT("/risk/profile", s.setRiskProfile)
			protected.POST("/reconcile", s.reconcileNow)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
