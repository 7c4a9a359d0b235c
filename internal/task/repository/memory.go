package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/task/models"
)

// MemoryRepository provides in-memory task storage operations.
type MemoryRepository struct {
	tasks map[string]*models.Task
	mu    sync.RWMutex
}

// Ensure MemoryRepository implements Repository interface.
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*models.Task)}
}

// Close is a no-op for in-memory repository.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateTask stores a new task, assigning an ID and timestamps when unset.
func (r *MemoryRepository) CreateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}

	r.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask retrieves a task by ID.
func (r *MemoryRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	return task.Clone(), nil
}

// UpdateTask replaces an existing task record.
func (r *MemoryRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; !ok {
		return errors.NotFound("task", task.ID)
	}
	r.tasks[task.ID] = task.Clone()
	return nil
}

// ListTasks returns tasks matching the options, newest first.
func (r *MemoryRepository) ListTasks(ctx context.Context, opts ListOptions) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		if opts.UserID != "" && task.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && task.Status != opts.Status {
			continue
		}
		result = append(result, task.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ListExpired returns non-terminal tasks whose deadline has passed.
func (r *MemoryRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Task
	for _, task := range r.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		if !task.Deadline.IsZero() && task.Deadline.Before(now) {
			result = append(result, task.Clone())
		}
	}
	return result, nil
}
