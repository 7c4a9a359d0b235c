package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/agent/registry"
	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/events/bus"
	"github.com/agentmesh/agentmesh/internal/orchestrator"
	"github.com/agentmesh/agentmesh/internal/task/repository"
	"github.com/agentmesh/agentmesh/internal/task/tracker"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// maxListLimit caps one task listing.
const maxListLimit = 1000

// Handlers contains the HTTP handlers for the platform API.
type Handlers struct {
	orchestrator *orchestrator.Service
	tracker      *tracker.Tracker
	registry     *registry.Registry
	eventBus     bus.EventBus
	verifier     auth.Verifier
	logger       *logger.Logger
}

// NewHandlers creates the handler set. The verifier gates agent-originated
// calls; nil disables that check.
func NewHandlers(orch *orchestrator.Service, track *tracker.Tracker,
	reg *registry.Registry, eventBus bus.EventBus, verifier auth.Verifier, log *logger.Logger) *Handlers {
	return &Handlers{
		orchestrator: orch,
		tracker:      track,
		registry:     reg,
		eventBus:     eventBus,
		verifier:     verifier,
		logger:       log.WithFields(zap.String("component", "gateway")),
	}
}

// Mount attaches all routes to the engine.
func (h *Handlers) Mount(engine *gin.Engine) {
	engine.GET("/health", h.Health)

	api := engine.Group("/api/v1")
	{
		api.POST("/instructions", h.ProcessInstruction)

		api.GET("/tasks/:taskId", h.GetTask)
		api.GET("/tasks", h.ListTasks)

		agents := api.Group("/agents")
		{
			agents.POST("", h.RegisterAgent)
			agents.GET("", h.ListAgents)
			agents.GET("/:agentId", h.GetAgent)
			agents.DELETE("/:agentId", h.UnregisterAgent)
			agents.PUT("/:agentId/status", h.agentAuth(), h.UpdateAgentStatus)
			agents.POST("/:agentId/heartbeat", h.agentAuth(), h.Heartbeat)
		}

		api.GET("/logs/stream", h.StreamLogs)
	}
}

// Health reports liveness.
// GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ProcessInstruction runs one instruction through the pipeline.
// POST /api/v1/instructions
func (h *Handlers) ProcessInstruction(c *gin.Context) {
	var req v1.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.InvalidConfig(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp := h.orchestrator.Process(c.Request.Context(), &req)
	c.JSON(statusFor(resp.Status), resp)
}

// statusFor maps a pipeline outcome to an HTTP status. Clarification and
// confirmation are successful exchanges, not failures.
func statusFor(status v1.ProcessStatus) int {
	switch status {
	case v1.ProcessCompleted, v1.ProcessClarificationNeeded:
		return http.StatusOK
	case v1.ProcessTaskCreated:
		return http.StatusAccepted
	case v1.ProcessConfirmationRequired:
		return http.StatusAccepted
	case v1.ProcessValidationFailed:
		return http.StatusBadRequest
	case v1.ProcessPermissionDenied:
		return http.StatusForbidden
	case v1.ProcessNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// GetTask returns one task record.
// GET /api/v1/tasks/:taskId
func (h *Handlers) GetTask(c *gin.Context) {
	record, err := h.tracker.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		appErr := errors.Wrap(err, "failed to get task")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, record)
}

// ListTasks lists tasks with optional user/status filters.
// GET /api/v1/tasks?user_id=&status=&limit=
func (h *Handlers) ListTasks(c *gin.Context) {
	limit := maxListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			appErr := errors.InvalidConfig("limit must be a positive integer")
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	records, err := h.tracker.List(c.Request.Context(), repository.ListOptions{
		UserID: c.Query("user_id"),
		Status: v1.TaskStatus(c.Query("status")),
		Limit:  limit,
	})
	if err != nil {
		appErr := errors.Wrap(err, "failed to list tasks")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": records, "total": len(records)})
}

// RegisterAgent registers an external agent descriptor. Internal agents
// register in-process, not over HTTP.
// POST /api/v1/agents
func (h *Handlers) RegisterAgent(c *gin.Context) {
	var desc v1.AgentDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		appErr := errors.InvalidConfig(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if desc.Endpoints.IsInternal {
		appErr := errors.InvalidConfig("internal agents cannot register over HTTP")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.registry.Register(c.Request.Context(), &desc, nil); err != nil {
		h.logger.Error("agent registration failed",
			zap.String("agent_id", desc.AgentID), zap.Error(err))
		appErr := errors.Wrap(err, "failed to register agent")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent_id": desc.AgentID})
}

// GetAgent returns one agent descriptor.
// GET /api/v1/agents/:agentId
func (h *Handlers) GetAgent(c *gin.Context) {
	desc, err := h.registry.GetAgentInfo(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		appErr := errors.Wrap(err, "failed to get agent")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// ListAgents lists registered agents. System agents are excluded unless
// include_system=true.
// GET /api/v1/agents?include_system=&status=
func (h *Handlers) ListAgents(c *gin.Context) {
	agents := h.registry.ListAgents(c.Request.Context(), registry.ListOptions{
		IncludeSystemAgents: c.Query("include_system") == "true",
		Status:              v1.AgentStatus(c.Query("status")),
	})
	c.JSON(http.StatusOK, gin.H{"agents": agents, "total": len(agents)})
}

// UnregisterAgent soft-deletes an agent.
// DELETE /api/v1/agents/:agentId
func (h *Handlers) UnregisterAgent(c *gin.Context) {
	if err := h.registry.Unregister(c.Request.Context(), c.Param("agentId")); err != nil {
		appErr := errors.Wrap(err, "failed to unregister agent")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(v1.AgentStatusDeprecated)})
}

// UpdateAgentStatus sets an agent's lifecycle status.
// PUT /api/v1/agents/:agentId/status
func (h *Handlers) UpdateAgentStatus(c *gin.Context) {
	var req struct {
		Status v1.AgentStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.InvalidConfig(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.registry.UpdateStatus(c.Request.Context(), c.Param("agentId"), req.Status); err != nil {
		appErr := errors.Wrap(err, "failed to update agent status")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(req.Status)})
}

// Heartbeat refreshes an agent's liveness timestamp.
// POST /api/v1/agents/:agentId/heartbeat
func (h *Handlers) Heartbeat(c *gin.Context) {
	if err := h.registry.UpdateHeartbeat(c.Request.Context(), c.Param("agentId")); err != nil {
		appErr := errors.Wrap(err, "failed to record heartbeat")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
