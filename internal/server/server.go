// Package server wires the Fulfillment Engine onto the Gemini v1beta HTTP
// surface using gin-gonic/gin, exposing the generateContent and
// streamGenerateContent endpoints behind request-id, CORS, logging, and
// inbound-throttle middleware.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/rotation-gateway/internal/config"
	"github.com/antigravity-gateway/rotation-gateway/internal/engine"
	"github.com/antigravity-gateway/rotation-gateway/internal/logging"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
)

// Server is the gateway's HTTP surface.
type Server struct {
	engine *gin.Engine
	eng    *engine.Engine
	store  store.Store
	debug  bool
}

// New builds a Server around an already-constructed Fulfillment Engine.
func New(fulfillment *engine.Engine, st store.Store, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	g := gin.New()
	g.SetTrustedProxies(nil)
	g.Use(gin.Recovery())

	s := &Server{engine: g, eng: fulfillment, store: st, debug: debug}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying *gin.Engine, for tests (httptest.NewServer)
// and for custom route registration.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.Use(RequestIDMiddleware())
	s.engine.Use(CORSMiddleware())
	s.engine.Use(RequestLoggingMiddleware())
	s.engine.Use(InboundThrottleMiddleware(config.InboundRateLimitPerSecond, config.InboundRateLimitBurst))
	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.RequestBodyLimit)
		c.Next()
	})

	h := &handlers{eng: s.eng, store: s.store}

	s.engine.GET("/health", h.handleHealth)

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(APIKeyAuthMiddleware(s.store))
	{
		v1beta.POST("/models/:modelAction", h.handleModelAction)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		logging.Debug("404 Not Found: %s %s", c.Request.Method, c.Request.URL.Path)
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    404,
				"message": "not found",
				"status":  "NOT_FOUND",
			},
		})
	})
}

// Run blocks, serving HTTP on addr until ctx is canceled, then gracefully
// shuts down within a bounded grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // long-lived SSE responses
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
