// Package tracelog implements the platform's structured log sink: three
// append-only streams (task, audit, security) keyed by a request-scoped trace
// id. Every entry is published on the event bus and retained in a bounded
// in-memory ring so recent entries can be queried without a log store.
package tracelog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/events/bus"
)

// Stream identifies one of the three log streams.
type Stream string

const (
	StreamTask     Stream = "task"
	StreamAudit    Stream = "audit"
	StreamSecurity Stream = "security"
)

// Well-known task stream actions.
const (
	ActionTaskStart       = "task_start"
	ActionTaskRouting     = "task_routing"
	ActionPermissionCheck = "permission_check"
	ActionPreCheckFailed  = "pre_check_failed"
	ActionTaskFailed      = "task_failed"
)

// Entry is one structured log record.
type Entry struct {
	TraceID   string                 `json:"trace_id"`
	Stream    Stream                 `json:"stream"`
	Action    string                 `json:"action"`
	UserID    string                 `json:"user_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// defaultRingSize bounds the per-process retention used by log queries.
const defaultRingSize = 1024

// Recorder fans log entries out to zap, the event bus, and the in-memory
// ring. It is safe for concurrent use.
type Recorder struct {
	logger   *logger.Logger
	eventBus bus.EventBus

	mu   sync.RWMutex
	ring []Entry
	next int
	full bool
}

// NewRecorder creates a Recorder publishing on the given bus. The bus may be
// nil, in which case entries are only logged and retained.
func NewRecorder(log *logger.Logger, eventBus bus.EventBus) *Recorder {
	return &Recorder{
		logger:   log,
		eventBus: eventBus,
		ring:     make([]Entry, defaultRingSize),
	}
}

// Task appends an entry to the task stream.
func (r *Recorder) Task(ctx context.Context, traceID, action string, detail map[string]interface{}) {
	r.record(ctx, Entry{TraceID: traceID, Stream: StreamTask, Action: action, Detail: detail})
}

// Audit appends an entry to the audit stream.
func (r *Recorder) Audit(ctx context.Context, traceID, action, userID string, detail map[string]interface{}) {
	r.record(ctx, Entry{TraceID: traceID, Stream: StreamAudit, Action: action, UserID: userID, Detail: detail})
}

// Security appends an entry to the security stream.
func (r *Recorder) Security(ctx context.Context, traceID, action, userID string, detail map[string]interface{}) {
	r.record(ctx, Entry{TraceID: traceID, Stream: StreamSecurity, Action: action, UserID: userID, Detail: detail})
}

func (r *Recorder) record(ctx context.Context, entry Entry) {
	entry.Timestamp = time.Now().UTC()

	r.mu.Lock()
	r.ring[r.next] = entry
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()

	r.logger.Info("tracelog",
		zap.String("stream", string(entry.Stream)),
		zap.String("trace_id", entry.TraceID),
		zap.String("action", entry.Action),
		zap.Any("detail", entry.Detail))

	if r.eventBus == nil {
		return
	}
	subject := subjectFor(entry.Stream)
	event := bus.NewEvent(entry.Action, "tracelog", map[string]interface{}{
		"trace_id": entry.TraceID,
		"stream":   string(entry.Stream),
		"user_id":  entry.UserID,
		"agent_id": entry.AgentID,
		"detail":   entry.Detail,
	})
	if err := r.eventBus.Publish(ctx, subject, event); err != nil {
		r.logger.Warn("failed to publish log entry",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func subjectFor(stream Stream) string {
	switch stream {
	case StreamAudit:
		return bus.SubjectLogAudit
	case StreamSecurity:
		return bus.SubjectLogSecurity
	default:
		return bus.SubjectLogTask
	}
}

// QueryFilter narrows Query results. Zero values match everything.
type QueryFilter struct {
	TraceID string
	Stream  Stream
	UserID  string
	Limit   int
}

// Query returns retained entries matching the filter, newest first.
func (r *Recorder) Query(filter QueryFilter) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}

	limit := filter.Limit
	if limit <= 0 || limit > size {
		limit = size
	}

	results := make([]Entry, 0, limit)
	// Walk backwards from the most recent slot.
	for i := 0; i < size && len(results) < limit; i++ {
		idx := (r.next - 1 - i + len(r.ring)) % len(r.ring)
		entry := r.ring[idx]
		if filter.TraceID != "" && entry.TraceID != filter.TraceID {
			continue
		}
		if filter.Stream != "" && entry.Stream != filter.Stream {
			continue
		}
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		results = append(results, entry)
	}
	return results
}
