// Package registry is the source of truth for agent identity, endpoints,
// capabilities, permissions, and lifecycle state. It keeps a durable
// system-agent catalog and a live in-process index, reconciling the two:
// the index hydrates from the catalog on first use and descriptors are
// persisted best-effort on mutation.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// ClientFactory builds an invocable protocol client for an external agent
// descriptor. Construction must not perform I/O; handshakes are deferred to
// first use.
type ClientFactory interface {
	ClientFor(descriptor *v1.AgentDescriptor) (agent.Agent, error)
}

// Options configures registration policy.
type Options struct {
	// RequireMTLS rejects external agents without a server certificate.
	RequireMTLS bool
	// RequireSignature rejects external agents without an api key, since the
	// request signature is derived from it.
	RequireSignature bool
}

// Registry stores agent descriptors and invocable references.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*v1.AgentDescriptor
	instances map[string]agent.Agent
	hydrated  bool

	catalog Catalog
	clients ClientFactory
	opts    Options
	logger  *logger.Logger
}

// NewRegistry creates a registry. catalog may be nil (no durable tier);
// clients may be nil when no external agents are expected.
func NewRegistry(catalog Catalog, clients ClientFactory, opts Options, log *logger.Logger) *Registry {
	return &Registry{
		agents:    make(map[string]*v1.AgentDescriptor),
		instances: make(map[string]agent.Agent),
		catalog:   catalog,
		clients:   clients,
		opts:      opts,
		logger:    log,
	}
}

// ValidateDescriptor checks the structural invariants of a descriptor before
// it enters the index.
func (r *Registry) ValidateDescriptor(d *v1.AgentDescriptor) error {
	if d.AgentID == "" {
		return errors.InvalidConfig("agent id is required")
	}
	if d.Name == "" {
		return errors.InvalidConfig("agent name is required")
	}
	if d.Endpoints.IsInternal {
		return nil
	}
	if d.Endpoints.HTTP == "" && d.Endpoints.MCP == "" {
		return errors.InvalidConfig("external agent requires at least one endpoint")
	}
	if d.Endpoints.HTTP != "" && d.Endpoints.MCP != "" {
		return errors.InvalidConfig("external agent must declare exactly one endpoint")
	}
	if r.opts.RequireMTLS && d.Permissions.ServerCertificate == "" {
		return errors.InvalidConfig("mTLS is required but no server certificate is configured")
	}
	if r.opts.RequireSignature && d.Permissions.APIKey == "" {
		return errors.InvalidConfig("request signing is required but no api key is configured")
	}
	return nil
}

// Register adds or updates an agent. Registering an existing agent_id is an
// update: descriptor fields are replaced, status is forced to ONLINE, the
// heartbeat is refreshed, and a non-nil instance replaces the previous one.
// Internal agents must provide an invocable instance; registration without
// one is accepted but logged as an error, and subsequent GetAgent calls fail
// with an instance-missing error.
func (r *Registry) Register(ctx context.Context, d *v1.AgentDescriptor, instance agent.Agent) error {
	if err := r.ValidateDescriptor(d); err != nil {
		return err
	}

	desc := d.Clone()
	desc.IsSystemAgent = r.inCatalog(ctx, desc.AgentID)

	if desc.Endpoints.IsInternal && instance == nil {
		r.logger.Error("internal agent registered without an invocable instance",
			zap.String("agent_id", desc.AgentID))
	}

	now := time.Now().UTC()

	r.mu.Lock()
	r.ensureHydratedLocked(ctx)

	_, exists := r.agents[desc.AgentID]
	if exists {
		desc.Status = v1.AgentStatusOnline
		desc.LastHeartbeat = now
		if desc.RegisteredAt.IsZero() {
			desc.RegisteredAt = r.agents[desc.AgentID].RegisteredAt
		}
		if instance != nil {
			r.instances[desc.AgentID] = instance
		} else if !desc.Endpoints.IsInternal {
			delete(r.instances, desc.AgentID)
		}
	} else {
		if desc.Status == "" {
			desc.Status = v1.AgentStatusOnline
		}
		if desc.RegisteredAt.IsZero() {
			desc.RegisteredAt = now
		}
		if desc.LastHeartbeat.IsZero() {
			desc.LastHeartbeat = now
		}
		if instance != nil {
			r.instances[desc.AgentID] = instance
		}
	}
	r.agents[desc.AgentID] = desc
	r.mu.Unlock()

	r.persist(ctx, desc)

	if exists {
		r.logger.Info("updated agent registration", zap.String("agent_id", desc.AgentID))
	} else {
		r.logger.Info("registered agent",
			zap.String("agent_id", desc.AgentID),
			zap.String("agent_type", desc.AgentType),
			zap.Bool("internal", desc.Endpoints.IsInternal),
			zap.Bool("system", desc.IsSystemAgent))
	}
	return nil
}

// Unregister soft-deletes an agent: the descriptor is kept with status
// DEPRECATED so in-flight references to its id report a meaningful error,
// and the invocable reference is dropped.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	r.mu.Lock()
	r.ensureHydratedLocked(ctx)
	desc, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errors.NotFound("agent", agentID)
	}
	desc.Status = v1.AgentStatusDeprecated
	delete(r.instances, agentID)
	snapshot := desc.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.logger.Info("unregistered agent", zap.String("agent_id", agentID))
	return nil
}

// GetAgentInfo returns a copy of the descriptor. For external non-system
// agents lacking endpoints, the registry performs a single catalog lookup to
// backfill endpoints and permissions from the display-config store; the
// backfill is idempotent and patches the cached descriptor in place.
func (r *Registry) GetAgentInfo(ctx context.Context, agentID string) (*v1.AgentDescriptor, error) {
	r.mu.Lock()
	r.ensureHydratedLocked(ctx)
	desc, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.NotFound("agent", agentID)
	}

	needsBackfill := !desc.Endpoints.IsInternal &&
		!desc.IsSystemAgent &&
		desc.Endpoints.HTTP == "" && desc.Endpoints.MCP == ""
	r.mu.Unlock()

	if needsBackfill && r.catalog != nil {
		endpoints, permissions, err := r.catalog.GetDisplayConfig(ctx, agentID)
		if err != nil {
			r.logger.Warn("endpoint backfill failed",
				zap.String("agent_id", agentID),
				zap.Error(err))
		} else if endpoints != nil {
			r.mu.Lock()
			if cached, ok := r.agents[agentID]; ok {
				cached.Endpoints = *endpoints
				if permissions != nil {
					cached.Permissions = *permissions
				}
			}
			r.mu.Unlock()
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if desc, ok := r.agents[agentID]; ok {
		return desc.Clone(), nil
	}
	return nil, errors.NotFound("agent", agentID)
}

// GetAgent resolves the invocable variant for an agent: the cached in-process
// instance for internal agents, a protocol client for external ones.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (agent.Agent, error) {
	r.mu.Lock()
	r.ensureHydratedLocked(ctx)
	desc, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.NotFound("agent", agentID)
	}
	descCopy := desc.Clone()
	instance := r.instances[agentID]
	r.mu.Unlock()

	if descCopy.Endpoints.IsInternal {
		if instance == nil {
			return nil, errors.InstanceMissing(agentID)
		}
		return instance, nil
	}

	if r.clients == nil {
		return nil, errors.Internal("no client factory configured for external agents", nil)
	}
	client, err := r.clients.ClientFor(descCopy)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// UpdateHeartbeat stamps last_heartbeat with the current time. A heartbeat
// from a MAINTENANCE agent promotes it back to ONLINE.
func (r *Registry) UpdateHeartbeat(ctx context.Context, agentID string) error {
	r.mu.Lock()
	r.ensureHydratedLocked(ctx)
	desc, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errors.NotFound("agent", agentID)
	}
	desc.LastHeartbeat = time.Now().UTC()
	if desc.Status == v1.AgentStatusMaintenance {
		desc.Status = v1.AgentStatusOnline
		r.logger.Info("agent promoted from maintenance",
			zap.String("agent_id", agentID))
	}
	r.mu.Unlock()
	return nil
}

// UpdateStatus sets the lifecycle status of an agent.
func (r *Registry) UpdateStatus(ctx context.Context, agentID string, status v1.AgentStatus) error {
	r.mu.Lock()
	r.ensureHydratedLocked(ctx)
	desc, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errors.NotFound("agent", agentID)
	}
	previous := desc.Status
	desc.Status = status
	r.mu.Unlock()

	if previous != status {
		r.logger.Info("agent status changed",
			zap.String("agent_id", agentID),
			zap.String("from", string(previous)),
			zap.String("to", string(status)))
	}
	return nil
}

// ListOptions filters ListAgents results.
type ListOptions struct {
	// IncludeSystemAgents includes catalog-backed system agents; public
	// listings exclude them by default.
	IncludeSystemAgents bool
	// Status, when non-empty, keeps only agents in that state.
	Status v1.AgentStatus
}

// ListAgents returns descriptor copies matching the options.
func (r *Registry) ListAgents(ctx context.Context, opts ListOptions) []*v1.AgentDescriptor {
	r.mu.Lock()
	r.ensureHydratedLocked(ctx)
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*v1.AgentDescriptor, 0, len(r.agents))
	for _, desc := range r.agents {
		if desc.IsSystemAgent && !opts.IncludeSystemAgents {
			continue
		}
		if opts.Status != "" && desc.Status != opts.Status {
			continue
		}
		results = append(results, desc.Clone())
	}
	return results
}

// Snapshot returns copies of every descriptor, system agents included. Used
// by discovery and the health monitor.
func (r *Registry) Snapshot(ctx context.Context) []*v1.AgentDescriptor {
	return r.ListAgents(ctx, ListOptions{IncludeSystemAgents: true})
}

// HasInstance reports whether an invocable reference is registered for the
// agent.
func (r *Registry) HasInstance(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[agentID]
	return ok
}

// ensureHydratedLocked loads the durable catalog into the live index the
// first time the index is observed empty. Hydrated entries receive fresh
// registration and heartbeat stamps unless the catalog records earlier
// values, so a cold-started process does not mass-evict healthy agents via
// the freshness filter. Caller must hold the write lock.
func (r *Registry) ensureHydratedLocked(ctx context.Context) {
	if r.hydrated || r.catalog == nil {
		return
	}
	r.hydrated = true
	if len(r.agents) > 0 {
		return
	}

	entries, err := r.catalog.List(ctx)
	if err != nil {
		r.logger.Warn("catalog hydration failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		desc := entry.Clone()
		if desc.RegisteredAt.IsZero() {
			desc.RegisteredAt = now
		}
		if desc.LastHeartbeat.IsZero() {
			desc.LastHeartbeat = now
		}
		r.agents[desc.AgentID] = desc
	}
	if len(entries) > 0 {
		r.logger.Info("hydrated registry from catalog", zap.Int("count", len(entries)))
	}
}

// inCatalog reports whether the durable catalog knows the agent id.
func (r *Registry) inCatalog(ctx context.Context, agentID string) bool {
	if r.catalog == nil {
		return false
	}
	_, err := r.catalog.Get(ctx, agentID)
	return err == nil
}

// persist writes the descriptor to the durable catalog, best-effort.
func (r *Registry) persist(ctx context.Context, desc *v1.AgentDescriptor) {
	if r.catalog == nil {
		return
	}
	if err := r.catalog.Put(ctx, desc); err != nil {
		r.logger.Warn("failed to persist agent descriptor",
			zap.String("agent_id", desc.AgentID),
			zap.Error(err))
	}
}
