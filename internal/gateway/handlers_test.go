package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/agent/discovery"
	"github.com/agentmesh/agentmesh/internal/agent/guard"
	"github.com/agentmesh/agentmesh/internal/agent/registry"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/events/bus"
	"github.com/agentmesh/agentmesh/internal/orchestrator"
	"github.com/agentmesh/agentmesh/internal/orchestrator/catalog"
	"github.com/agentmesh/agentmesh/internal/task/repository"
	"github.com/agentmesh/agentmesh/internal/task/tracker"
	"github.com/agentmesh/agentmesh/internal/tracelog"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

type testStack struct {
	server   *Server
	registry *registry.Registry
	tracker  *tracker.Tracker
}

func setupServer(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	reg := registry.NewRegistry(registry.NewMemoryCatalog(), nil, registry.Options{}, log)
	disc := discovery.NewService(reg, 0, log)
	track := tracker.New(repository.NewMemoryRepository(), nil, tracker.Config{}, log)
	recorder := tracelog.NewRecorder(log, nil)

	orch := orchestrator.NewService(orchestrator.Config{}, reg,
		orchestrator.NewSelector(disc, nil), track, guard.New(reg, log),
		orchestrator.NewPreChecker(catalog.New()), recorder,
		otel.Tracer("test"), log)

	verifier := auth.NewExternalVerifier(reg, log)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	server := New(":0", orch, track, reg, eventBus, verifier, false, log)
	return &testStack{server: server, registry: reg, tracker: track}
}

func (s *testStack) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.server.Engine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProcessInstructionEndpoint(t *testing.T) {
	s := setupServer(t)
	require.NoError(t, s.registry.Register(context.Background(), &v1.AgentDescriptor{
		AgentID:   "assistant-1",
		AgentType: "assistant",
		Name:      "assistant-1",
		Endpoints: v1.AgentEndpoints{IsInternal: true},
	}, agent.Func(func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		return &agent.Response{
			TaskID: req.TaskID,
			Status: agent.ResponseCompleted,
			Result: map[string]interface{}{"answer": "42"},
		}, nil
	})))

	w := s.do(t, http.MethodPost, "/api/v1/instructions",
		v1.ProcessRequest{Instruction: "compute the answer", UserID: "u-1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, string(v1.ProcessCompleted), body["status"])
	assert.NotEmpty(t, body["trace_id"])
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "42", result["answer"])
}

func TestProcessInstructionRequiresInstruction(t *testing.T) {
	s := setupServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/instructions",
		map[string]interface{}{"user_id": "u-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessInstructionFailureStatus(t *testing.T) {
	s := setupServer(t)
	// No agents registered: selection fails and the pipeline reports failed.
	w := s.do(t, http.MethodPost, "/api/v1/instructions",
		v1.ProcessRequest{Instruction: "do something", UserID: "u-1"}, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, string(v1.ProcessFailed), body["status"])
}

func TestTaskEndpoints(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	record, err := s.tracker.Create(ctx, tracker.CreateOptions{
		Instruction: "inspect me",
		UserID:      "u-1",
	})
	require.NoError(t, err)

	t.Run("get", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/tasks/"+record.TaskID, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, record.TaskID, body["task_id"])
		assert.Equal(t, string(v1.TaskStatusPending), body["status"])
	})

	t.Run("get unknown", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/tasks/missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/tasks?user_id=u-1", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.EqualValues(t, 1, body["total"])
	})

	t.Run("list rejects bad limit", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/tasks?limit=-3", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAgentRegistrationEndpoints(t *testing.T) {
	s := setupServer(t)

	desc := v1.AgentDescriptor{
		AgentID:   "ext-1",
		AgentType: "assistant",
		Name:      "External One",
		Endpoints: v1.AgentEndpoints{
			HTTP:     "http://agents.local/ext-1",
			Protocol: v1.ProtocolHTTP,
		},
	}

	t.Run("register", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/agents", desc, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "ext-1", body["agent_id"])
	})

	t.Run("internal over HTTP rejected", func(t *testing.T) {
		internal := desc
		internal.AgentID = "sneaky"
		internal.Endpoints = v1.AgentEndpoints{IsInternal: true}
		w := s.do(t, http.MethodPost, "/api/v1/agents", internal, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid descriptor rejected", func(t *testing.T) {
		invalid := desc
		invalid.AgentID = ""
		w := s.do(t, http.MethodPost, "/api/v1/agents", invalid, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/agents/ext-1", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "ext-1", body["agent_id"])
	})

	t.Run("list", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/agents", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.EqualValues(t, 1, body["total"])
	})

	t.Run("unregister", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, "/api/v1/agents/ext-1", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodGet, "/api/v1/agents/ext-1", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, string(v1.AgentStatusDeprecated), body["status"])
	})
}

func TestHeartbeatRequiresCredentials(t *testing.T) {
	s := setupServer(t)
	require.NoError(t, s.registry.Register(context.Background(), &v1.AgentDescriptor{
		AgentID:   "keyed",
		AgentType: "assistant",
		Name:      "keyed",
		Endpoints: v1.AgentEndpoints{
			HTTP:     "http://agents.local/keyed",
			Protocol: v1.ProtocolHTTP,
		},
		Permissions: v1.AgentPermissions{APIKey: "s3cret"},
	}, nil))

	t.Run("missing key rejected", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/agents/keyed/heartbeat", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/agents/keyed/heartbeat", nil,
			map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid key accepted", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/agents/keyed/heartbeat", nil,
			map[string]string{"Authorization": "Bearer s3cret"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown agent falls through to not found", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/agents/ghost/heartbeat", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateAgentStatusEndpoint(t *testing.T) {
	s := setupServer(t)
	require.NoError(t, s.registry.Register(context.Background(), &v1.AgentDescriptor{
		AgentID:   "open",
		AgentType: "assistant",
		Name:      "open",
		Endpoints: v1.AgentEndpoints{
			HTTP:     "http://agents.local/open",
			Protocol: v1.ProtocolHTTP,
		},
	}, nil))

	w := s.do(t, http.MethodPut, "/api/v1/agents/open/status",
		map[string]string{"status": string(v1.AgentStatusMaintenance)}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/agents/open", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, string(v1.AgentStatusMaintenance), body["status"])
}
