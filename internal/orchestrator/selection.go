package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agentmesh/agentmesh/internal/agent/discovery"
	"github.com/agentmesh/agentmesh/internal/common/errors"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// defaultTypeMap routes task types to preferred agent types when the caller
// does not name an agent.
var defaultTypeMap = map[string]string{
	"general":  "assistant",
	"plan":     "planner",
	"research": "researcher",
	"config":   "configurator",
	"security": "security",
}

// Selector picks the dispatch target for a task. It tracks its own per-agent
// load counters; descriptor load values can be stale, so the effective load
// is the max of the two.
type Selector struct {
	discovery *discovery.Service
	typeMap   map[string]string

	mu    sync.Mutex
	loads map[string]*atomic.Int64
}

// NewSelector creates a selector over the discovery service. A nil typeMap
// selects the default routing table.
func NewSelector(disc *discovery.Service, typeMap map[string]string) *Selector {
	if typeMap == nil {
		typeMap = defaultTypeMap
	}
	return &Selector{
		discovery: disc,
		typeMap:   typeMap,
		loads:     make(map[string]*atomic.Int64),
	}
}

// Select returns the best-fit agent for the task type: internal agents are
// preferred, then lowest effective load. Discovery's newest-first ordering is
// the stable tie-break.
func (s *Selector) Select(ctx context.Context, taskType, userID string, roles []string) (*v1.AgentDescriptor, error) {
	agentType := s.typeMap[taskType]

	candidates := s.discovery.Discover(ctx, discovery.Query{
		AgentType: agentType,
		UserID:    userID,
		UserRoles: roles,
	})
	if len(candidates) == 0 && agentType != "" {
		// No agent of the preferred type; fall back to any eligible agent.
		candidates = s.discovery.Discover(ctx, discovery.Query{
			UserID:    userID,
			UserRoles: roles,
		})
	}
	if len(candidates) == 0 {
		return nil, errors.NotFound("eligible agent for task type", taskType)
	}

	var best *v1.AgentDescriptor
	var bestLoad int64
	for _, candidate := range candidates {
		load := s.effectiveLoad(candidate)
		switch {
		case best == nil:
			best, bestLoad = candidate, load
		case candidate.Endpoints.IsInternal && !best.Endpoints.IsInternal:
			best, bestLoad = candidate, load
		case candidate.Endpoints.IsInternal == best.Endpoints.IsInternal && load < bestLoad:
			best, bestLoad = candidate, load
		}
	}
	return best, nil
}

// IncLoad records a dispatch to the agent.
func (s *Selector) IncLoad(agentID string) {
	s.counter(agentID).Add(1)
}

// DecLoad records a terminal transition for a dispatched task. It must be
// called exactly once per IncLoad.
func (s *Selector) DecLoad(agentID string) {
	s.counter(agentID).Add(-1)
}

// Load returns the selector's own counter for an agent.
func (s *Selector) Load(agentID string) int64 {
	return s.counter(agentID).Load()
}

func (s *Selector) effectiveLoad(desc *v1.AgentDescriptor) int64 {
	counted := s.counter(desc.AgentID).Load()
	if stale := int64(desc.Load); stale > counted {
		return stale
	}
	return counted
}

func (s *Selector) counter(agentID string) *atomic.Int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.loads[agentID]
	if !ok {
		counter = &atomic.Int64{}
		s.loads[agentID] = counter
	}
	return counter
}
