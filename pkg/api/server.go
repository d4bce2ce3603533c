// Package api serves the WebSocket/HTTP surface of the "web" command: a
// single `/ws/chat` endpoint carrying one dialogue session per
// connection, plus a liveness `/health` endpoint.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dbincident/diagd/pkg/dialogue"
	"github.com/dbincident/diagd/pkg/version"
)

// Server wraps a gin.Engine bound to a dialogue.Manager.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	mgr        *dialogue.Manager
	ready      func(ctx context.Context) error
}

// NewServer constructs a Server. ready is an optional liveness probe
// (e.g. a database ping) consulted by the health handler; pass nil to
// skip it.
func NewServer(mgr *dialogue.Manager, ready func(ctx context.Context) error) *Server {
	s := &Server{mgr: mgr, ready: ready}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

// Router exposes the underlying engine, mainly so tests can drive it
// with httptest without going through a real listener.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ws/chat", s.chatHandler)
}

// Start listens on addr until the process is stopped.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	slog.Info("api server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, used by tests that
// need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests and open connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// healthHandler handles GET /health. It never touches session state —
// a degraded database does not need to take the websocket endpoint
// down with it, so the status and readiness probe are reported
// side by side rather than failing the whole response.
func (s *Server) healthHandler(c *gin.Context) {
	status := "healthy"
	checks := gin.H{}

	if s.ready != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(reqCtx); err != nil {
			status = "unhealthy"
			checks["database"] = gin.H{"status": "unhealthy", "message": err.Error()}
		} else {
			checks["database"] = gin.H{"status": "healthy"}
		}
	}

	httpStatus := http.StatusOK
	if status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"version": version.GitCommit,
		"checks":  checks,
	})
}
