package registry

import (
	"context"
	"sync"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// Catalog is the durable tier of the registry: system-agent descriptors plus
// a display-only projection of externally-known agents, keyed by agent_id.
type Catalog interface {
	// Get returns the catalog entry, or a not-found error.
	Get(ctx context.Context, agentID string) (*v1.AgentDescriptor, error)

	// Put inserts or replaces the catalog entry.
	Put(ctx context.Context, descriptor *v1.AgentDescriptor) error

	// List returns all catalog entries.
	List(ctx context.Context) ([]*v1.AgentDescriptor, error)

	// GetDisplayConfig returns the endpoints and permissions recorded for an
	// externally-known agent, for lazy backfill of descriptors that arrived
	// without them.
	GetDisplayConfig(ctx context.Context, agentID string) (*v1.AgentEndpoints, *v1.AgentPermissions, error)

	// Close releases the underlying store.
	Close() error
}

// MemoryCatalog is an in-memory Catalog, used in tests and single-process
// development setups.
type MemoryCatalog struct {
	mu      sync.RWMutex
	entries map[string]*v1.AgentDescriptor
	display map[string]displayConfig
}

type displayConfig struct {
	endpoints   v1.AgentEndpoints
	permissions v1.AgentPermissions
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		entries: make(map[string]*v1.AgentDescriptor),
		display: make(map[string]displayConfig),
	}
}

// Get returns the catalog entry, or a not-found error.
func (c *MemoryCatalog) Get(ctx context.Context, agentID string) (*v1.AgentDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[agentID]
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}
	return entry.Clone(), nil
}

// Put inserts or replaces the catalog entry.
func (c *MemoryCatalog) Put(ctx context.Context, descriptor *v1.AgentDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[descriptor.AgentID] = descriptor.Clone()
	return nil
}

// List returns all catalog entries.
func (c *MemoryCatalog) List(ctx context.Context) ([]*v1.AgentDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results := make([]*v1.AgentDescriptor, 0, len(c.entries))
	for _, entry := range c.entries {
		results = append(results, entry.Clone())
	}
	return results, nil
}

// SetDisplayConfig records endpoints and permissions for backfill.
func (c *MemoryCatalog) SetDisplayConfig(agentID string, endpoints v1.AgentEndpoints, permissions v1.AgentPermissions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.display[agentID] = displayConfig{endpoints: endpoints, permissions: permissions}
}

// GetDisplayConfig returns the recorded display configuration.
func (c *MemoryCatalog) GetDisplayConfig(ctx context.Context, agentID string) (*v1.AgentEndpoints, *v1.AgentPermissions, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.display[agentID]
	if !ok {
		return nil, nil, errors.NotFound("display config", agentID)
	}
	endpoints := cfg.endpoints
	permissions := cfg.permissions
	return &endpoints, &permissions, nil
}

// Close is a no-op for the in-memory catalog.
func (c *MemoryCatalog) Close() error { return nil }
