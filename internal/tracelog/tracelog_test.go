package tracelog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/events/bus"
)

func setupRecorder(t *testing.T, eventBus bus.EventBus) *Recorder {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewRecorder(log, eventBus)
}

func TestRecordAndQueryByTrace(t *testing.T) {
	r := setupRecorder(t, nil)
	ctx := context.Background()

	r.Task(ctx, "trace-1", ActionTaskStart, map[string]interface{}{"instruction": "do it"})
	r.Task(ctx, "trace-1", ActionTaskRouting, map[string]interface{}{"agent_id": "a1"})
	r.Task(ctx, "trace-2", ActionTaskStart, nil)

	entries := r.Query(QueryFilter{TraceID: "trace-1"})
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, ActionTaskRouting, entries[0].Action)
	assert.Equal(t, ActionTaskStart, entries[1].Action)
	for _, e := range entries {
		assert.Equal(t, StreamTask, e.Stream)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestQueryFiltersByStreamAndUser(t *testing.T) {
	r := setupRecorder(t, nil)
	ctx := context.Background()

	r.Task(ctx, "t", ActionTaskStart, nil)
	r.Audit(ctx, "t", "authorization", "alice", nil)
	r.Security(ctx, "t", "agent_authentication", "bob", nil)

	audit := r.Query(QueryFilter{Stream: StreamAudit})
	require.Len(t, audit, 1)
	assert.Equal(t, "alice", audit[0].UserID)

	byUser := r.Query(QueryFilter{UserID: "bob"})
	require.Len(t, byUser, 1)
	assert.Equal(t, StreamSecurity, byUser[0].Stream)
}

func TestQueryLimit(t *testing.T) {
	r := setupRecorder(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r.Task(ctx, "t", fmt.Sprintf("action-%d", i), nil)
	}

	entries := r.Query(QueryFilter{Limit: 3})
	require.Len(t, entries, 3)
	assert.Equal(t, "action-9", entries[0].Action)
}

func TestRingBound(t *testing.T) {
	r := setupRecorder(t, nil)
	ctx := context.Background()

	total := defaultRingSize + 50
	for i := 0; i < total; i++ {
		r.Task(ctx, "t", fmt.Sprintf("action-%d", i), nil)
	}

	entries := r.Query(QueryFilter{})
	require.Len(t, entries, defaultRingSize)
	// Oldest entries were overwritten; the newest survives.
	assert.Equal(t, fmt.Sprintf("action-%d", total-1), entries[0].Action)
	assert.Equal(t, fmt.Sprintf("action-%d", total-defaultRingSize), entries[len(entries)-1].Action)
}

func TestEntriesPublishOnBus(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	eventBus := bus.NewMemoryEventBus(log)
	defer eventBus.Close()

	received := make(chan *bus.Event, 3)
	sub, err := eventBus.Subscribe("logs.>", func(ctx context.Context, e *bus.Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	r := setupRecorder(t, eventBus)
	ctx := context.Background()

	r.Task(ctx, "trace-1", ActionTaskStart, nil)
	r.Security(ctx, "trace-1", "authorization", "alice", nil)

	for i := 0; i < 2; i++ {
		select {
		case e := <-received:
			assert.Equal(t, "trace-1", e.Data["trace_id"])
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for log event")
		}
	}
}
