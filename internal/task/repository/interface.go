// Package repository stores task records. The memory variant backs tests and
// single-node runs; the SQL variant persists through the shared pool.
package repository

import (
	"context"
	"time"

	"github.com/agentmesh/agentmesh/internal/task/models"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// ListOptions filters and bounds a task listing. Zero values mean no filter;
// results come back newest first.
type ListOptions struct {
	UserID string
	Status v1.TaskStatus
	Limit  int
}

// Repository defines the interface for task storage operations.
type Repository interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context, opts ListOptions) ([]*models.Task, error)

	// ListExpired returns non-terminal tasks whose deadline has passed.
	ListExpired(ctx context.Context, now time.Time) ([]*models.Task, error)

	Close() error
}
