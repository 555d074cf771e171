package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/BirdFarmer/BinanceRepo-sub002/internal/engine"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/events"
	"github.com/BirdFarmer/BinanceRepo-sub002/internal/monitor"
)

// Options wires the HTTP server to the engine.
type Options struct {
	Engine  engine.Service
	Trades  engine.TradeReader
	Bus     *events.Bus
	Metrics *monitor.Metrics
	Meta    SystemMeta

	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Version  string `json:"version"`
	Instance string `json:"instance"`
	Testnet  bool   `json:"testnet"`
}

// Server wires HTTP endpoints around the engine service and event bus.
type Server struct {
	Router *gin.Engine
	opts   Options
}

func NewServer(opts Options) *Server {
	if opts.AdminUser == "" {
		opts.AdminUser = "admin"
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(newIPLimiters(rate.Limit(20), 50)))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, opts: opts}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.opts.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		api.GET("/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/positions", s.getPositions)
		api.GET("/balance", s.getBalance)
		api.GET("/trades", s.getTrades)
		api.GET("/trades/stats", s.getTradeStats)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.opts.JWTSecret))
		{
			protected.POST("/positions", s.openPosition)
			protected.POST("/positions/close-all", s.closeAll)
			protected.POST("/engine/halt", s.halt)
			protected.PUT("/config/exit-mode", s.updateExitMode)
			protected.PUT("/config/trailing", s.updateTrailing)
			protected.PUT("/config/leverage", s.updateLeverage)
			protected.PUT("/config/direction-filter", s.updateDirectionFilter)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("api: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Printf("api: server stopped")
	return nil
}
