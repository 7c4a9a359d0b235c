package orchestrator

import "context"

// IntentKind classifies what the analyzer made of an instruction.
type IntentKind string

const (
	// IntentTask is a unit of work to dispatch to an agent.
	IntentTask IntentKind = "task"
	// IntentConfig is a configuration change subject to pre-check.
	IntentConfig IntentKind = "config"
	// IntentLogQuery reads the trace log streams and bypasses dispatch.
	IntentLogQuery IntentKind = "log_query"
)

// Intent is the structured form of one instruction. Clarification, when set,
// short-circuits the pipeline with a question back to the user.
type Intent struct {
	Kind          IntentKind             `json:"kind"`
	TaskType      string                 `json:"task_type,omitempty"`
	Scope         string                 `json:"scope,omitempty"`
	ConfigData    map[string]interface{} `json:"config_data,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	RequiredTool  string                 `json:"required_tool,omitempty"`
	Clarification string                 `json:"clarification,omitempty"`
}

// toMap flattens the intent for task records and security checks.
func (i *Intent) toMap() map[string]interface{} {
	out := map[string]interface{}{
		"kind": string(i.Kind),
	}
	if i.TaskType != "" {
		out["task_type"] = i.TaskType
	}
	if i.Scope != "" {
		out["scope"] = i.Scope
	}
	if i.ConfigData != nil {
		out["config_data"] = i.ConfigData
	}
	if i.Parameters != nil {
		out["parameters"] = i.Parameters
	}
	if i.RequiredTool != "" {
		out["required_tool"] = i.RequiredTool
	}
	return out
}

// TaskAnalyzer classifies a natural-language instruction. It is an external
// collaborator; the pipeline only consumes this contract.
type TaskAnalyzer interface {
	Analyze(ctx context.Context, instruction string, reqContext map[string]interface{}) (*Intent, error)
}

// passthroughAnalyzer is the default when no analyzer is wired: every
// instruction becomes a general task intent.
type passthroughAnalyzer struct{}

func (passthroughAnalyzer) Analyze(ctx context.Context, instruction string, reqContext map[string]interface{}) (*Intent, error) {
	return &Intent{Kind: IntentTask, TaskType: "general"}, nil
}
