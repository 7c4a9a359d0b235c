// Package guard enforces per-agent resource allow-lists. Internal agents are
// trusted unconditionally; external agents get exactly what their descriptor
// grants, and an empty allow-list grants nothing.
package guard

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/common/logger"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// ResourceKind classifies the resource being requested.
type ResourceKind string

const (
	KindMemory   ResourceKind = "MEMORY"
	KindTool     ResourceKind = "TOOL"
	KindLLM      ResourceKind = "LLM"
	KindDatabase ResourceKind = "DATABASE"
	KindFile     ResourceKind = "FILE"
)

// DescriptorSource resolves agent descriptors; the registry implements it.
type DescriptorSource interface {
	GetAgentInfo(ctx context.Context, agentID string) (*v1.AgentDescriptor, error)
}

// Guard answers allow/deny for (agent, kind, resource) triples.
type Guard struct {
	agents DescriptorSource
	logger *logger.Logger
}

// New creates a resource guard over the given descriptor source.
func New(agents DescriptorSource, log *logger.Logger) *Guard {
	return &Guard{agents: agents, logger: log}
}

// Allowed reports whether the agent may use the named resource. Unknown
// agents and unknown kinds deny with a logged warning.
func (g *Guard) Allowed(ctx context.Context, agentID string, kind ResourceKind, resource string) bool {
	desc, err := g.agents.GetAgentInfo(ctx, agentID)
	if err != nil {
		g.logger.Warn("resource check for unknown agent",
			zap.String("agent_id", agentID),
			zap.String("kind", string(kind)),
			zap.String("resource", resource))
		return false
	}

	if desc.Endpoints.IsInternal {
		return true
	}

	switch kind {
	case KindMemory:
		return contains(desc.Permissions.AllowedMemoryNamespaces, resource)
	case KindTool:
		return contains(desc.Permissions.AllowedTools, resource)
	case KindLLM:
		return contains(desc.Permissions.AllowedLLMProviders, resource)
	case KindDatabase:
		return contains(desc.Permissions.AllowedDatabases, resource)
	case KindFile:
		return prefixMatch(desc.Permissions.AllowedFilePaths, resource)
	default:
		g.logger.Warn("resource check for unknown kind",
			zap.String("agent_id", agentID),
			zap.String("kind", string(kind)))
		return false
	}
}

// contains requires exact string membership; an empty list denies.
func contains(allowed []string, resource string) bool {
	for _, entry := range allowed {
		if entry == resource {
			return true
		}
	}
	return false
}

// prefixMatch accepts a path when any entry is a prefix of it. Entries are
// prefix patterns, not globs; an empty list denies.
func prefixMatch(allowed []string, path string) bool {
	for _, entry := range allowed {
		if strings.HasPrefix(path, entry) {
			return true
		}
	}
	return false
}
