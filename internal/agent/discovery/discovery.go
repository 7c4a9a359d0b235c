// Package discovery selects best-fit agents from the registry by capability,
// type, category, status, permission visibility, and heartbeat freshness.
// Load balancing is the orchestrator's job; discovery only orders results
// with a stable tie-break.
package discovery

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/common/logger"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// DefaultFreshnessWindow is the maximum heartbeat age for an agent to count
// as live.
const DefaultFreshnessWindow = 5 * time.Minute

// Source provides descriptor snapshots; the registry implements it.
type Source interface {
	Snapshot(ctx context.Context) []*v1.AgentDescriptor
}

// Query narrows discovery results. Zero values disable the corresponding
// filter, except Status which defaults to ONLINE.
type Query struct {
	RequiredCapabilities []string
	AgentType            string
	Category             string
	Status               v1.AgentStatus
	UserID               string
	UserRoles            []string
}

// Service filters and ranks registry snapshots.
type Service struct {
	source          Source
	freshnessWindow time.Duration
	logger          *logger.Logger
}

// NewService creates a discovery service. A zero freshnessWindow selects the
// default of five minutes.
func NewService(source Source, freshnessWindow time.Duration, log *logger.Logger) *Service {
	if freshnessWindow <= 0 {
		freshnessWindow = DefaultFreshnessWindow
	}
	return &Service{
		source:          source,
		freshnessWindow: freshnessWindow,
		logger:          log,
	}
}

// Discover returns eligible agents ordered by registration time, newest
// first.
func (s *Service) Discover(ctx context.Context, query Query) []*v1.AgentDescriptor {
	status := query.Status
	if status == "" {
		status = v1.AgentStatusOnline
	}

	now := time.Now().UTC()
	var results []*v1.AgentDescriptor

	for _, desc := range s.source.Snapshot(ctx) {
		if query.AgentType != "" && desc.AgentType != query.AgentType {
			continue
		}
		if query.Category != "" && !desc.HasTag(query.Category) {
			continue
		}
		if desc.Status != status {
			continue
		}
		if !hasAllCapabilities(desc, query.RequiredCapabilities) {
			continue
		}
		if !s.visibleTo(desc, query) {
			continue
		}
		if !s.isFresh(desc, now) {
			continue
		}
		results = append(results, desc)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RegisteredAt.After(results[j].RegisteredAt)
	})

	s.logger.Debug("discovery query",
		zap.String("agent_type", query.AgentType),
		zap.Strings("capabilities", query.RequiredCapabilities),
		zap.Int("matches", len(results)))

	return results
}

// hasAllCapabilities reports whether every required capability is declared.
// An empty requirement set applies no capability filter.
func hasAllCapabilities(desc *v1.AgentDescriptor, required []string) bool {
	for _, capability := range required {
		if !desc.HasCapability(capability) {
			return false
		}
	}
	return true
}

// visibleTo applies the permission filter: public agents are visible to
// everyone; protected agents require an authenticated caller. Fine-grained
// role checks are a seam for future activation; a declared allowed_roles
// list is currently not enforced beyond the authentication requirement.
func (s *Service) visibleTo(desc *v1.AgentDescriptor, query Query) bool {
	if desc.IsPublic() {
		return true
	}
	if query.UserID == "" {
		return false
	}
	return matchesRoles(desc.Permissions.AllowedRoles, query.UserRoles)
}

// matchesRoles is the role-check seam. Absence of declared roles means "any
// authenticated user"; declared roles are accepted unconditionally for now.
func matchesRoles(allowed, held []string) bool {
	return true
}

// isFresh applies the heartbeat freshness window. Agents registered within
// the window that have not heartbeated yet get the benefit of startup.
func (s *Service) isFresh(desc *v1.AgentDescriptor, now time.Time) bool {
	if !desc.LastHeartbeat.IsZero() && now.Sub(desc.LastHeartbeat) <= s.freshnessWindow {
		return true
	}
	if desc.LastHeartbeat.IsZero() && now.Sub(desc.RegisteredAt) <= s.freshnessWindow {
		return true
	}
	return false
}
