package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type stubClientFactory struct {
	built agent.Agent
	err   error
}

func (f *stubClientFactory) ClientFor(desc *v1.AgentDescriptor) (agent.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.built, nil
}

func echoAgent() agent.Agent {
	return agent.Func(func(ctx context.Context, req *agent.Request) (*agent.Response, error) {
		return &agent.Response{TaskID: req.TaskID, Status: agent.ResponseCompleted}, nil
	})
}

func internalDescriptor(id string) *v1.AgentDescriptor {
	return &v1.AgentDescriptor{
		AgentID:   id,
		AgentType: "assistant",
		Name:      id,
		Endpoints: v1.AgentEndpoints{IsInternal: true},
	}
}

func externalDescriptor(id string) *v1.AgentDescriptor {
	return &v1.AgentDescriptor{
		AgentID:   id,
		AgentType: "assistant",
		Name:      id,
		Endpoints: v1.AgentEndpoints{
			HTTP:     "http://agents.local/" + id,
			Protocol: v1.ProtocolHTTP,
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewMemoryCatalog(), &stubClientFactory{built: echoAgent()}, Options{}, testLogger(t))
}

func TestRegisterAndGetAgentInfo(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, internalDescriptor("planner"), echoAgent()))

	desc, err := reg.GetAgentInfo(ctx, "planner")
	require.NoError(t, err)
	assert.Equal(t, "planner", desc.AgentID)
	assert.Equal(t, v1.AgentStatusOnline, desc.Status)
	assert.False(t, desc.RegisteredAt.IsZero())
	assert.False(t, desc.LastHeartbeat.IsZero())
}

func TestRegisterRejectsInvalidDescriptor(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	err := reg.Register(ctx, &v1.AgentDescriptor{AgentType: "assistant"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInvalidConfig))

	// External agent without any endpoint.
	err = reg.Register(ctx, &v1.AgentDescriptor{AgentID: "e", AgentType: "assistant", Name: "e"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInvalidConfig))
}

func TestReRegisterSameIDReplacesDescriptor(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first := internalDescriptor("dup")
	first.Description = "first"
	require.NoError(t, reg.Register(ctx, first, echoAgent()))

	second := internalDescriptor("dup")
	second.Description = "second"
	require.NoError(t, reg.Register(ctx, second, echoAgent()))

	desc, err := reg.GetAgentInfo(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "second", desc.Description)

	agents := reg.ListAgents(ctx, ListOptions{})
	count := 0
	for _, a := range agents {
		if a.AgentID == "dup" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestUnregisterSoftDeletes(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, internalDescriptor("gone"), echoAgent()))
	require.NoError(t, reg.Unregister(ctx, "gone"))

	desc, err := reg.GetAgentInfo(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusDeprecated, desc.Status)

	// The invocable reference is dropped with the registration.
	_, err = reg.GetAgent(ctx, "gone")
	require.Error(t, err)
}

func TestHeartbeatPromotesMaintenance(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, internalDescriptor("m"), echoAgent()))
	require.NoError(t, reg.UpdateStatus(ctx, "m", v1.AgentStatusMaintenance))

	require.NoError(t, reg.UpdateHeartbeat(ctx, "m"))

	desc, err := reg.GetAgentInfo(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusOnline, desc.Status)
}

func TestHeartbeatOverridesOffline(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, internalDescriptor("b"), echoAgent()))
	require.NoError(t, reg.UpdateStatus(ctx, "b", v1.AgentStatusOffline))
	require.NoError(t, reg.UpdateHeartbeat(ctx, "b"))

	desc, err := reg.GetAgentInfo(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, v1.AgentStatusOnline, desc.Status)
	assert.WithinDuration(t, time.Now().UTC(), desc.LastHeartbeat, time.Second)
}

func TestGetAgentInternalWithoutInstance(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	// Registering an internal agent without a reference is accepted but the
	// lookup must fail with InstanceMissing.
	require.NoError(t, reg.Register(ctx, internalDescriptor("noref"), nil))

	_, err := reg.GetAgent(ctx, "noref")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeInstanceMissing))
}

func TestGetAgentExternalUsesClientFactory(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, externalDescriptor("ext"), nil))

	inst, err := reg.GetAgent(ctx, "ext")
	require.NoError(t, err)
	require.NotNil(t, inst)

	resp, err := inst.Execute(ctx, &agent.Request{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, agent.ResponseCompleted, resp.Status)
}

func TestListAgentsExcludesSystemByDefault(t *testing.T) {
	catalog := NewMemoryCatalog()
	// Agents present in the catalog at registration time are system agents.
	seeded := internalDescriptor("sys")
	require.NoError(t, catalog.Put(context.Background(), seeded))

	reg := NewRegistry(catalog, &stubClientFactory{built: echoAgent()}, Options{}, testLogger(t))
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, internalDescriptor("sys"), echoAgent()))
	require.NoError(t, reg.Register(ctx, internalDescriptor("user-visible"), echoAgent()))

	agents := reg.ListAgents(ctx, ListOptions{})
	for _, a := range agents {
		assert.NotEqual(t, "sys", a.AgentID)
	}

	all := reg.ListAgents(ctx, ListOptions{IncludeSystemAgents: true})
	found := false
	for _, a := range all {
		if a.AgentID == "sys" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHydrationFromCatalog(t *testing.T) {
	catalog := NewMemoryCatalog()
	stored := externalDescriptor("stored")
	stored.Status = v1.AgentStatusOnline
	require.NoError(t, catalog.Put(context.Background(), stored))

	reg := NewRegistry(catalog, &stubClientFactory{built: echoAgent()}, Options{}, testLogger(t))

	desc, err := reg.GetAgentInfo(context.Background(), "stored")
	require.NoError(t, err)
	assert.Equal(t, "stored", desc.AgentID)
	assert.False(t, desc.RegisteredAt.IsZero())
}

func TestUnknownAgentReturnsNotFound(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.GetAgentInfo(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
