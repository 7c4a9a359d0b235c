// Package agent defines the uniform invocation contract every agent exposes.
// Internal and external agents are two variants of the same interface,
// selected at registry lookup time.
package agent

import "context"

// ResponseStatus is the agent-reported outcome of one request.
type ResponseStatus string

const (
	ResponseCompleted ResponseStatus = "completed"
	ResponseFailed    ResponseStatus = "failed"
	ResponseError     ResponseStatus = "error"
)

// Request is the wire shape sent to an agent.
type Request struct {
	TaskID   string                 `json:"task_id"`
	TaskType string                 `json:"task_type"`
	TaskData map[string]interface{} `json:"task_data,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Response is the wire shape an agent returns.
type Response struct {
	TaskID   string                 `json:"task_id"`
	Status   ResponseStatus         `json:"status"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Agent is the single capability every agent provides. Implementations must
// honor context cancellation on a best-effort basis.
type Agent interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a plain function to the Agent interface. Useful for internal
// agents and tests.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Execute implements Agent.
func (f Func) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
