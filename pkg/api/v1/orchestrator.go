package v1

// ProcessStatus is the user-visible outcome of one orchestrator entry.
type ProcessStatus string

const (
	ProcessCompleted            ProcessStatus = "completed"
	ProcessFailed               ProcessStatus = "failed"
	ProcessClarificationNeeded  ProcessStatus = "clarification_needed"
	ProcessValidationFailed     ProcessStatus = "validation_failed"
	ProcessPermissionDenied     ProcessStatus = "permission_denied"
	ProcessConfirmationRequired ProcessStatus = "confirmation_required"
	ProcessTaskCreated          ProcessStatus = "task_created"
	ProcessNotImplemented       ProcessStatus = "not_implemented"
)

// ProcessRequest is the orchestrator entry point payload.
type ProcessRequest struct {
	Instruction      string                 `json:"instruction" binding:"required"`
	UserID           string                 `json:"user_id,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
	SpecifiedAgentID string                 `json:"specified_agent_id,omitempty"`
}

// ProcessResponse is returned from the orchestrator entry point. TraceID is
// always set; Result and Error depend on Status.
type ProcessResponse struct {
	Status  ProcessStatus          `json:"status"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
	TraceID string                 `json:"trace_id"`
}
