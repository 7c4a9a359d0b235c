// Package health runs the periodic agent health sweep: stale heartbeats
// demote agents to OFFLINE, and declared health endpoints are probed with a
// short timeout. Promotion back to ONLINE is the registry's heartbeat path,
// not this loop.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentmesh/agentmesh/internal/common/logger"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

const (
	// DefaultCheckInterval is how often the sweep runs.
	DefaultCheckInterval = 60 * time.Second
	// DefaultHeartbeatTimeout is the heartbeat age beyond which an agent is
	// marked OFFLINE.
	DefaultHeartbeatTimeout = 300 * time.Second
	// DefaultProbeTimeout bounds one health endpoint GET.
	DefaultProbeTimeout = 5 * time.Second

	// maxConcurrentProbes bounds the probe fanout per sweep.
	maxConcurrentProbes = 8
)

// Registry is the slice of the agent registry the monitor needs.
type Registry interface {
	Snapshot(ctx context.Context) []*v1.AgentDescriptor
	UpdateStatus(ctx context.Context, agentID string, status v1.AgentStatus) error
}

// Config tunes the monitor; zero values select the defaults.
type Config struct {
	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	ProbeTimeout     time.Duration
}

// Monitor is the long-running health loop. Start and Stop are idempotent.
type Monitor struct {
	registry Registry
	cfg      Config
	client   *http.Client
	logger   *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewMonitor creates a monitor over the registry.
func NewMonitor(registry Registry, cfg Config, log *logger.Logger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{
		registry: registry,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.ProbeTimeout},
		logger:   log,
	}
}

// Start launches the sweep loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(loopCtx)
	m.logger.Info("health monitor started",
		zap.Duration("check_interval", m.cfg.CheckInterval),
		zap.Duration("heartbeat_timeout", m.cfg.HeartbeatTimeout))
}

// Stop cancels the loop and waits for it to drain. Repeated calls are
// no-ops.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one health pass over all active agents. Exported so tests and
// operators can trigger it outside the timer.
func (m *Monitor) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	var toProbe []*v1.AgentDescriptor
	for _, desc := range m.registry.Snapshot(ctx) {
		if desc.Status != v1.AgentStatusOnline && desc.Status != v1.AgentStatusRegistering {
			continue
		}

		if now.Sub(desc.LastHeartbeat) > m.cfg.HeartbeatTimeout {
			m.markOffline(ctx, desc.AgentID, "heartbeat timeout")
			continue
		}

		if desc.Endpoints.HealthEndpoint != "" {
			toProbe = append(toProbe, desc)
		}
	}

	if len(toProbe) == 0 {
		return
	}

	g, probeCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for _, desc := range toProbe {
		g.Go(func() error {
			if err := m.probe(probeCtx, desc.Endpoints.HealthEndpoint); err != nil {
				// Probe results arriving after cancel are dropped.
				if probeCtx.Err() != nil {
					return nil
				}
				m.markOffline(ctx, desc.AgentID, err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) probe(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("invalid health endpoint: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (m *Monitor) markOffline(ctx context.Context, agentID, reason string) {
	if err := m.registry.UpdateStatus(ctx, agentID, v1.AgentStatusOffline); err != nil {
		m.logger.Warn("failed to mark agent offline",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return
	}
	m.logger.Warn("agent marked offline",
		zap.String("agent_id", agentID),
		zap.String("reason", reason))
}
