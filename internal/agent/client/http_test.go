package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func httpDescriptor(endpoint string, mutate ...func(*v1.AgentDescriptor)) *v1.AgentDescriptor {
	d := &v1.AgentDescriptor{
		AgentID:   "ext-1",
		AgentType: "assistant",
		Name:      "ext-1",
		Endpoints: v1.AgentEndpoints{
			HTTP:     endpoint,
			Protocol: v1.ProtocolHTTP,
		},
	}
	for _, m := range mutate {
		m(d)
	}
	return d
}

func TestHTTPAgentExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "t-1", body["task_id"])
		assert.Equal(t, "general", body["task_type"])

		json.NewEncoder(w).Encode(agent.Response{
			TaskID: "t-1",
			Status: agent.ResponseCompleted,
			Result: map[string]interface{}{"ok": true},
		})
	}))
	defer srv.Close()

	a := NewHTTPAgent(httpDescriptor(srv.URL), testLogger(t))
	resp, err := a.Execute(context.Background(), &agent.Request{
		TaskID:   "t-1",
		TaskType: "general",
		TaskData: map[string]interface{}{"q": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, agent.ResponseCompleted, resp.Status)
	assert.Equal(t, true, resp.Result["ok"])
}

func TestHTTPAgentSignsRequests(t *testing.T) {
	const apiKey = "k-123"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+apiKey, r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		expected, err := auth.SignBody(apiKey, body)
		require.NoError(t, err)
		assert.Equal(t, expected, r.Header.Get("X-Request-Signature"))

		json.NewEncoder(w).Encode(agent.Response{TaskID: "t-1", Status: agent.ResponseCompleted})
	}))
	defer srv.Close()

	a := NewHTTPAgent(httpDescriptor(srv.URL, func(d *v1.AgentDescriptor) {
		d.Permissions.APIKey = apiKey
	}), testLogger(t))

	_, err := a.Execute(context.Background(), &agent.Request{TaskID: "t-1", TaskType: "general"})
	require.NoError(t, err)
}

func TestHTTPAgentVerifiesFingerprint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Server-Fingerprint", "AA:BB")
		json.NewEncoder(w).Encode(agent.Response{TaskID: "t-1", Status: agent.ResponseCompleted})
	}))
	defer srv.Close()

	t.Run("match case-insensitive", func(t *testing.T) {
		a := NewHTTPAgent(httpDescriptor(srv.URL, func(d *v1.AgentDescriptor) {
			d.Permissions.ServerFingerprint = "aa:bb"
		}), testLogger(t))
		_, err := a.Execute(context.Background(), &agent.Request{TaskID: "t-1"})
		assert.NoError(t, err)
	})

	t.Run("mismatch rejected", func(t *testing.T) {
		a := NewHTTPAgent(httpDescriptor(srv.URL, func(d *v1.AgentDescriptor) {
			d.Permissions.ServerFingerprint = "cc:dd"
		}), testLogger(t))
		_, err := a.Execute(context.Background(), &agent.Request{TaskID: "t-1"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.CodeAuthFailed))
	})
}

func TestHTTPAgentNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAgent(httpDescriptor(srv.URL), testLogger(t))
	_, err := a.Execute(context.Background(), &agent.Request{TaskID: "t-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeTransport))
}

func TestHTTPAgentDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	a := NewHTTPAgent(httpDescriptor(srv.URL), testLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Execute(ctx, &agent.Request{TaskID: "t-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeTimeout))
}

func TestHTTPAgentDefaultsTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Response without a task id; the client backfills the request's.
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "completed"})
	}))
	defer srv.Close()

	a := NewHTTPAgent(httpDescriptor(srv.URL), testLogger(t))
	resp, err := a.Execute(context.Background(), &agent.Request{TaskID: "t-9"})
	require.NoError(t, err)
	assert.Equal(t, "t-9", resp.TaskID)
}

func TestFactorySelectsProtocol(t *testing.T) {
	f := NewFactory(testLogger(t))

	t.Run("http", func(t *testing.T) {
		built, err := f.ClientFor(httpDescriptor("http://x"))
		require.NoError(t, err)
		_, ok := built.(*HTTPAgent)
		assert.True(t, ok)
	})

	t.Run("default protocol is http", func(t *testing.T) {
		d := httpDescriptor("http://x")
		d.Endpoints.Protocol = ""
		_, err := f.ClientFor(d)
		assert.NoError(t, err)
	})

	t.Run("mcp", func(t *testing.T) {
		d := &v1.AgentDescriptor{
			AgentID: "m",
			Name:    "m",
			Endpoints: v1.AgentEndpoints{
				MCP:      "http://mcp.local/stream",
				Protocol: v1.ProtocolMCP,
			},
		}
		built, err := f.ClientFor(d)
		require.NoError(t, err)
		_, ok := built.(*MCPAgent)
		assert.True(t, ok)
	})

	t.Run("internal rejected", func(t *testing.T) {
		d := &v1.AgentDescriptor{
			AgentID:   "i",
			Name:      "i",
			Endpoints: v1.AgentEndpoints{IsInternal: true},
		}
		_, err := f.ClientFor(d)
		assert.Error(t, err)
	})

	t.Run("missing endpoint rejected", func(t *testing.T) {
		d := &v1.AgentDescriptor{
			AgentID:   "e",
			Name:      "e",
			Endpoints: v1.AgentEndpoints{Protocol: v1.ProtocolHTTP},
		}
		_, err := f.ClientFor(d)
		assert.Error(t, err)
	})
}
