// Package gateway exposes the platform over HTTP: the orchestrator entry
// point, task queries, registry administration, and a websocket stream of the
// log subjects.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/agent/registry"
	"github.com/agentmesh/agentmesh/internal/common/httpmw"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/events/bus"
	"github.com/agentmesh/agentmesh/internal/orchestrator"
	"github.com/agentmesh/agentmesh/internal/task/tracker"
)

// Server is the HTTP front of the platform.
type Server struct {
	engine   *gin.Engine
	http     *http.Server
	logger   *logger.Logger
	handlers *Handlers
}

// New builds the server and mounts all routes.
func New(addr string, orch *orchestrator.Service, track *tracker.Tracker,
	reg *registry.Registry, eventBus bus.EventBus, verifier auth.Verifier,
	production bool, log *logger.Logger) *Server {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.OtelTracing("agentmesh-gateway"))
	engine.Use(httpmw.RequestLogger(log, "agentmesh-gateway"))

	handlers := NewHandlers(orch, track, reg, eventBus, verifier, log)
	handlers.Mount(engine)

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:   log,
		handlers: handlers,
	}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

