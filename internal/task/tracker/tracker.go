// Package tracker owns the task lifecycle: creation, monotonic status
// updates, completion callbacks, and the timeout reaper. All mutation of one
// task is serialized through the tracker, so repository writes never race.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/events/bus"
	"github.com/agentmesh/agentmesh/internal/task/models"
	"github.com/agentmesh/agentmesh/internal/task/repository"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

const (
	// DefaultTaskTimeout bounds a task's total lifetime.
	DefaultTaskTimeout = time.Hour
	// DefaultReapInterval is how often the reaper scans for expired tasks.
	DefaultReapInterval = 60 * time.Second

	// timeoutError is the error message written by the reaper.
	timeoutError = "Task timeout"

	callbackTimeout = 10 * time.Second
)

// Config tunes the tracker; zero values select the defaults.
type Config struct {
	TaskTimeout  time.Duration
	ReapInterval time.Duration
}

// CreateOptions carries the caller-supplied fields of a new task.
type CreateOptions struct {
	Instruction   string
	Intent        map[string]interface{}
	TargetAgentID string
	UserID        string
	CallbackURL   string

	// Timeout overrides the configured task timeout when set. An explicit
	// zero stamps the deadline at creation time, so the reaper fails the
	// task on its next pass.
	Timeout *time.Duration
}

// Tracker records tasks and drives their status machine.
type Tracker struct {
	repo   repository.Repository
	bus    bus.EventBus
	cfg    Config
	client *http.Client
	logger *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	reapMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	reaping bool
}

// New creates a tracker over the repository. Events are published on the bus
// as tasks are created and change status.
func New(repo repository.Repository, eventBus bus.EventBus, cfg Config, log *logger.Logger) *Tracker {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	return &Tracker{
		repo:   repo,
		bus:    eventBus,
		cfg:    cfg,
		client: &http.Client{Timeout: callbackTimeout},
		logger: log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// taskLock returns the per-task mutex, creating it on first use.
func (t *Tracker) taskLock(taskID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[taskID] = lock
	}
	return lock
}

func (t *Tracker) releaseLock(taskID string) {
	t.mu.Lock()
	delete(t.locks, taskID)
	t.mu.Unlock()
}

// Create records a new PENDING task and publishes task.created.
func (t *Tracker) Create(ctx context.Context, opts CreateOptions) (*v1.TaskRecord, error) {
	if opts.Instruction == "" {
		return nil, errors.InvalidConfig("task instruction is required")
	}

	timeout := t.cfg.TaskTimeout
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}
	now := time.Now().UTC()
	task := &models.Task{
		ID:            uuid.New().String(),
		Instruction:   opts.Instruction,
		Intent:        opts.Intent,
		TargetAgentID: opts.TargetAgentID,
		UserID:        opts.UserID,
		CallbackURL:   opts.CallbackURL,
		Status:        v1.TaskStatusPending,
		Deadline:      now.Add(timeout),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.repo.CreateTask(ctx, task); err != nil {
		return nil, errors.Wrap(err, "failed to create task")
	}

	t.publish(ctx, bus.SubjectTaskCreated, map[string]interface{}{
		"task_id": task.ID,
		"user_id": task.UserID,
		"status":  string(task.Status),
	})
	t.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("user_id", task.UserID))
	return task.ToAPI(), nil
}

// Update moves a task along the status machine. Terminal tasks refuse further
// updates, and result and error are mutually exclusive: result is accepted
// only with COMPLETED, an error message only with FAILED.
func (t *Tracker) Update(ctx context.Context, taskID string, status v1.TaskStatus, result map[string]interface{}, errMsg string) (*v1.TaskRecord, error) {
	lock := t.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := t.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status.IsTerminal() {
		return nil, errors.InvalidConfig("task " + taskID + " is already in terminal state " + string(task.Status))
	}
	if !models.CanTransition(task.Status, status) {
		return nil, errors.InvalidConfig("invalid task transition " + string(task.Status) + " -> " + string(status))
	}
	if result != nil && status != v1.TaskStatusCompleted {
		return nil, errors.InvalidConfig("task result is only valid with COMPLETED")
	}
	if errMsg != "" && status != v1.TaskStatusFailed {
		return nil, errors.InvalidConfig("task error is only valid with FAILED")
	}

	previous := task.Status
	task.Status = status
	task.Result = result
	task.Error = errMsg
	task.UpdatedAt = time.Now().UTC()

	if err := t.repo.UpdateTask(ctx, task); err != nil {
		return nil, errors.Wrap(err, "failed to update task")
	}

	t.publish(ctx, bus.SubjectTaskStatusChanged, map[string]interface{}{
		"task_id":  task.ID,
		"previous": string(previous),
		"status":   string(task.Status),
	})
	t.logger.Info("task status changed",
		zap.String("task_id", task.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(task.Status)))

	if task.Status.IsTerminal() {
		t.releaseLock(taskID)
		if task.CallbackURL != "" {
			go t.fireCallback(task.Clone())
		}
	}
	return task.ToAPI(), nil
}

// Get returns one task record.
func (t *Tracker) Get(ctx context.Context, taskID string) (*v1.TaskRecord, error) {
	task, err := t.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task.ToAPI(), nil
}

// List returns task records matching the options, newest first.
func (t *Tracker) List(ctx context.Context, opts repository.ListOptions) ([]*v1.TaskRecord, error) {
	tasks, err := t.repo.ListTasks(ctx, opts)
	if err != nil {
		return nil, err
	}
	records := make([]*v1.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, task.ToAPI())
	}
	return records, nil
}

// StartReaper launches the timeout loop. Calling it on a running tracker is
// a no-op.
func (t *Tracker) StartReaper(ctx context.Context) {
	t.reapMu.Lock()
	defer t.reapMu.Unlock()
	if t.reaping {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.reaping = true

	go t.reapLoop(loopCtx)
	t.logger.Info("task reaper started",
		zap.Duration("interval", t.cfg.ReapInterval))
}

// StopReaper cancels the loop and waits for it to drain.
func (t *Tracker) StopReaper() {
	t.reapMu.Lock()
	if !t.reaping {
		t.reapMu.Unlock()
		return
	}
	t.reaping = false
	cancel := t.cancel
	done := t.done
	t.reapMu.Unlock()

	cancel()
	<-done
}

func (t *Tracker) reapLoop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Reap(ctx)
		}
	}
}

// Reap fails every non-terminal task whose deadline has passed. Exported so
// tests can trigger a pass without waiting on the timer.
func (t *Tracker) Reap(ctx context.Context) {
	expired, err := t.repo.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		t.logger.Error("failed to list expired tasks", zap.Error(err))
		return
	}
	for _, task := range expired {
		if _, err := t.Update(ctx, task.ID, v1.TaskStatusFailed, nil, timeoutError); err != nil {
			// A racing completion is fine; anything else is worth a warning.
			if !errors.Is(err, errors.CodeInvalidConfig) {
				t.logger.Warn("failed to reap task",
					zap.String("task_id", task.ID),
					zap.Error(err))
			}
			continue
		}
		t.logger.Warn("task timed out",
			zap.String("task_id", task.ID),
			zap.Time("deadline", task.Deadline))
	}
}

// fireCallback POSTs the terminal record to the task's callback URL. It runs
// once per task; failures are logged and not retried.
func (t *Tracker) fireCallback(task *models.Task) {
	payload, err := json.Marshal(task.ToAPI())
	if err != nil {
		t.logger.Error("failed to encode callback payload",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		t.logger.Warn("invalid callback URL",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("task callback failed",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	t.logger.Debug("task callback delivered",
		zap.String("task_id", task.ID),
		zap.Int("status", resp.StatusCode))
}

func (t *Tracker) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if t.bus == nil {
		return
	}
	event := bus.NewEvent(subject, "task-tracker", data)
	if err := t.bus.Publish(ctx, subject, event); err != nil {
		t.logger.Warn("failed to publish task event",
			zap.String("subject", subject), zap.Error(err))
	}
}
