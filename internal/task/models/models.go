// Package models holds the persisted task shape and its status machine.
package models

import (
	"time"

	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// Task is the stored form of one submitted unit of work. Deadline and
// CallbackURL are tracker concerns and never leave the process.
type Task struct {
	ID            string                 `db:"id"`
	Instruction   string                 `db:"instruction"`
	Intent        map[string]interface{} `db:"-"`
	TargetAgentID string                 `db:"target_agent_id"`
	UserID        string                 `db:"user_id"`
	Status        v1.TaskStatus          `db:"status"`
	Result        map[string]interface{} `db:"-"`
	Error         string                 `db:"error"`
	CallbackURL   string                 `db:"callback_url"`
	Deadline      time.Time              `db:"deadline"`
	CreatedAt     time.Time              `db:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at"`
}

// transitions is the forward-only status graph. Absent keys are terminal.
var transitions = map[v1.TaskStatus][]v1.TaskStatus{
	v1.TaskStatusPending: {
		v1.TaskStatusAssigned,
		v1.TaskStatusRunning,
		v1.TaskStatusCompleted,
		v1.TaskStatusFailed,
		v1.TaskStatusCancelled,
	},
	v1.TaskStatusAssigned: {
		v1.TaskStatusRunning,
		v1.TaskStatusCompleted,
		v1.TaskStatusFailed,
		v1.TaskStatusCancelled,
	},
	v1.TaskStatusRunning: {
		v1.TaskStatusCompleted,
		v1.TaskStatusFailed,
		v1.TaskStatusCancelled,
	},
}

// CanTransition reports whether from may move to to. Terminal states accept
// nothing, and a status never moves to itself.
func CanTransition(from, to v1.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ToAPI converts to the wire record. Deadline and callback stay internal.
func (t *Task) ToAPI() *v1.TaskRecord {
	return &v1.TaskRecord{
		TaskID:        t.ID,
		Instruction:   t.Instruction,
		Intent:        t.Intent,
		TargetAgentID: t.TargetAgentID,
		UserID:        t.UserID,
		Status:        t.Status,
		Result:        t.Result,
		Error:         t.Error,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// Clone returns a deep copy safe to hand across goroutines.
func (t *Task) Clone() *Task {
	out := *t
	if t.Intent != nil {
		out.Intent = make(map[string]interface{}, len(t.Intent))
		for k, v := range t.Intent {
			out.Intent[k] = v
		}
	}
	if t.Result != nil {
		out.Result = make(map[string]interface{}, len(t.Result))
		for k, v := range t.Result {
			out.Result[k] = v
		}
	}
	return &out
}
