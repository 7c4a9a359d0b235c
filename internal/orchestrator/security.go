package orchestrator

import "context"

// AccessDecision is the security agent's verdict on one intent.
type AccessDecision struct {
	Allowed             bool                   `json:"allowed"`
	Reason              string                 `json:"reason,omitempty"`
	RequiresDoubleCheck bool                   `json:"requires_double_check,omitempty"`
	RiskLevel           string                 `json:"risk_level,omitempty"`
	AuditContext        map[string]interface{} `json:"audit_context,omitempty"`
}

// SecurityAgent authorizes intents on behalf of a user. The trace id is
// threaded through reqContext under "trace_id".
type SecurityAgent interface {
	VerifyAccess(ctx context.Context, userID string, intent map[string]interface{}, reqContext map[string]interface{}) (*AccessDecision, error)
}

// devAllowDecision is the development-mode default when no security agent is
// wired. Production has no such default; a missing agent is a hard failure.
func devAllowDecision() *AccessDecision {
	return &AccessDecision{Allowed: true, RiskLevel: "low"}
}
