package v1

import "time"

// TaskStatus represents the state of a submitted unit of work. Transitions
// move monotonically along PENDING → {ASSIGNED → RUNNING →
// {COMPLETED|FAILED|CANCELLED}} | CANCELLED.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusAssigned  TaskStatus = "ASSIGNED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal reports whether the status ends the task's state machine.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskRecord is one submitted unit of work. Result and Error are mutually
// exclusive: Result is present iff COMPLETED, Error iff FAILED.
type TaskRecord struct {
	TaskID        string                 `json:"task_id"`
	Instruction   string                 `json:"instruction"`
	Intent        map[string]interface{} `json:"intent,omitempty"`
	TargetAgentID string                 `json:"target_agent_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Status        TaskStatus             `json:"status"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}
