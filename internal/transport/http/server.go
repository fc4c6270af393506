package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"polaris/internal/engine"
	"polaris/internal/live"
	"polaris/internal/logger"
	"polaris/internal/market"
	"polaris/internal/store"
)

// Server exposes the operator API: strategy registration, lifecycle
// commands, promotion approval and the event stream. It holds no trading
// state of its own; everything routes to the engine.
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr    string
	Engine  *engine.Engine
	Store   store.Store
	Session *market.Session
	Guard   *live.Guard
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("http server requires an engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8086"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{engine: cfg.Engine, store: cfg.Store, session: cfg.Session, guard: cfg.Guard, started: time.Now()}
	api := router.Group("/api")
	{
		api.GET("/status", h.status)
		api.GET("/events", h.events)
		api.GET("/strategies", h.listStrategies)
		api.POST("/strategies", h.registerStrategy)
		api.GET("/strategies/:id/trades", h.strategyTrades)
		api.POST("/strategies/:id/start", h.startStrategy)
		api.POST("/strategies/:id/stop", h.stopStrategy)
		api.POST("/strategies/:id/approve", h.approveStrategy)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string { return s.addr }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
