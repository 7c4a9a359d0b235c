package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/internal/common/logger"
)

func setupBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewMemoryEventBus(log)
}

func collect(t *testing.T, b *MemoryEventBus, pattern string) (<-chan *Event, Subscription) {
	t.Helper()
	ch := make(chan *Event, 16)
	sub, err := b.Subscribe(pattern, func(ctx context.Context, e *Event) error {
		ch <- e
		return nil
	})
	require.NoError(t, err)
	return ch, sub
}

func waitEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := setupBus(t)
	defer b.Close()

	ch, sub := collect(t, b, SubjectTaskCreated)
	defer sub.Unsubscribe()

	sent := NewEvent("created", "test", map[string]interface{}{"task_id": "t-1"})
	require.NoError(t, b.Publish(context.Background(), SubjectTaskCreated, sent))

	got := waitEvent(t, ch)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "t-1", got.Data["task_id"])
}

func TestSingleTokenWildcard(t *testing.T) {
	b := setupBus(t)
	defer b.Close()

	ch, sub := collect(t, b, "logs.*")
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "logs.audit", NewEvent("a", "test", nil)))
	waitEvent(t, ch)

	// "*" matches exactly one token; deeper subjects do not match.
	require.NoError(t, b.Publish(context.Background(), "logs.audit.deep", NewEvent("b", "test", nil)))
	select {
	case <-ch:
		t.Fatal("logs.* must not match logs.audit.deep")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTrailingWildcard(t *testing.T) {
	b := setupBus(t)
	defer b.Close()

	ch, sub := collect(t, b, "logs.>")
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "logs.task", NewEvent("a", "test", nil)))
	waitEvent(t, ch)

	require.NoError(t, b.Publish(context.Background(), "logs.security.agent", NewEvent("b", "test", nil)))
	waitEvent(t, ch)

	require.NoError(t, b.Publish(context.Background(), "task.created", NewEvent("c", "test", nil)))
	select {
	case <-ch:
		t.Fatal("logs.> must not match task.created")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueGroupDeliversToOneSubscriber(t *testing.T) {
	b := setupBus(t)
	defer b.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	done := make(chan struct{}, 10)

	for _, name := range []string{"w1", "w2"} {
		sub, err := b.QueueSubscribe("task.created", "workers", func(ctx context.Context, e *Event) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			done <- struct{}{}
			return nil
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()
	}

	const published = 4
	for i := 0; i < published; i++ {
		require.NoError(t, b.Publish(context.Background(), "task.created", NewEvent("created", "test", nil)))
	}

	for i := 0; i < published; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for queue delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	total := counts["w1"] + counts["w2"]
	assert.Equal(t, published, total)
	// Round-robin spreads deliveries over both members.
	assert.Equal(t, 2, counts["w1"])
	assert.Equal(t, 2, counts["w2"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := setupBus(t)
	defer b.Close()

	ch, sub := collect(t, b, "task.created")
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "task.created", NewEvent("created", "test", nil)))
	select {
	case <-ch:
		t.Fatal("unsubscribed handler must not receive events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := setupBus(t)
	b.Close()

	assert.False(t, b.IsConnected())
	err := b.Publish(context.Background(), "task.created", NewEvent("created", "test", nil))
	assert.Error(t, err)

	_, err = b.Subscribe("task.created", func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)
}

func TestSubjectMatching(t *testing.T) {
	cases := []struct {
		subject string
		pattern string
		want    bool
	}{
		{"task.created", "task.created", true},
		{"task.created", "task.*", true},
		{"task.created", "*.created", true},
		{"task.created", "task.>", true},
		{"task.a.b.c", "task.>", true},
		{"task", "task.>", false},
		{"task.created", "logs.*", false},
		{"task.created.extra", "task.created", false},
		{"task", "task.*", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, subjectMatches(tc.subject, tc.pattern),
			"subject=%s pattern=%s", tc.subject, tc.pattern)
	}
}
