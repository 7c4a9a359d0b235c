package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

type staticAgents struct {
	agents map[string]*v1.AgentDescriptor
}

func (s *staticAgents) GetAgentInfo(ctx context.Context, agentID string) (*v1.AgentDescriptor, error) {
	if d, ok := s.agents[agentID]; ok {
		return d, nil
	}
	return nil, errors.NotFound("agent", agentID)
}

func setupGuard(t *testing.T, agents ...*v1.AgentDescriptor) *Guard {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	byID := make(map[string]*v1.AgentDescriptor, len(agents))
	for _, a := range agents {
		byID[a.AgentID] = a
	}
	return New(&staticAgents{agents: byID}, log)
}

func TestInternalAgentAlwaysAllowed(t *testing.T) {
	g := setupGuard(t, &v1.AgentDescriptor{
		AgentID:   "internal",
		Endpoints: v1.AgentEndpoints{IsInternal: true},
	})

	ctx := context.Background()
	assert.True(t, g.Allowed(ctx, "internal", KindTool, "anything"))
	assert.True(t, g.Allowed(ctx, "internal", KindDatabase, "prod"))
	assert.True(t, g.Allowed(ctx, "internal", KindFile, "/etc/passwd"))
}

func TestExternalAgentExactMembership(t *testing.T) {
	g := setupGuard(t, &v1.AgentDescriptor{
		AgentID: "ext",
		Permissions: v1.AgentPermissions{
			AllowedTools:            []string{"search", "readOnly"},
			AllowedMemoryNamespaces: []string{"shared"},
			AllowedLLMProviders:     []string{"openai"},
			AllowedDatabases:        []string{"analytics"},
		},
	})

	ctx := context.Background()

	t.Run("tool", func(t *testing.T) {
		assert.True(t, g.Allowed(ctx, "ext", KindTool, "search"))
		assert.False(t, g.Allowed(ctx, "ext", KindTool, "mutate"))
		// No substring or prefix matching for tools.
		assert.False(t, g.Allowed(ctx, "ext", KindTool, "sear"))
	})

	t.Run("memory", func(t *testing.T) {
		assert.True(t, g.Allowed(ctx, "ext", KindMemory, "shared"))
		assert.False(t, g.Allowed(ctx, "ext", KindMemory, "private"))
	})

	t.Run("llm", func(t *testing.T) {
		assert.True(t, g.Allowed(ctx, "ext", KindLLM, "openai"))
		assert.False(t, g.Allowed(ctx, "ext", KindLLM, "anthropic"))
	})

	t.Run("database", func(t *testing.T) {
		assert.True(t, g.Allowed(ctx, "ext", KindDatabase, "analytics"))
		assert.False(t, g.Allowed(ctx, "ext", KindDatabase, "prod"))
	})
}

func TestFilePrefixMatch(t *testing.T) {
	g := setupGuard(t, &v1.AgentDescriptor{
		AgentID: "ext",
		Permissions: v1.AgentPermissions{
			AllowedFilePaths: []string{"/data/exports/"},
		},
	})

	ctx := context.Background()
	assert.True(t, g.Allowed(ctx, "ext", KindFile, "/data/exports/report.csv"))
	assert.True(t, g.Allowed(ctx, "ext", KindFile, "/data/exports/nested/a.json"))
	assert.False(t, g.Allowed(ctx, "ext", KindFile, "/data/other/file"))
	assert.False(t, g.Allowed(ctx, "ext", KindFile, "/data"))
}

func TestEmptyAllowListDenies(t *testing.T) {
	g := setupGuard(t, &v1.AgentDescriptor{AgentID: "bare"})

	ctx := context.Background()
	assert.False(t, g.Allowed(ctx, "bare", KindTool, "search"))
	assert.False(t, g.Allowed(ctx, "bare", KindMemory, "shared"))
	assert.False(t, g.Allowed(ctx, "bare", KindFile, "/tmp/x"))
}

func TestUnknownAgentDenies(t *testing.T) {
	g := setupGuard(t)
	assert.False(t, g.Allowed(context.Background(), "ghost", KindTool, "search"))
}

func TestUnknownKindDenies(t *testing.T) {
	g := setupGuard(t, &v1.AgentDescriptor{
		AgentID:     "ext",
		Permissions: v1.AgentPermissions{AllowedTools: []string{"x"}},
	})
	assert.False(t, g.Allowed(context.Background(), "ext", ResourceKind("GPU"), "x"))
}
