// Package orchestrator is the platform's request state machine: one
// natural-language instruction walks classification, clarification,
// pre-check, authorization, agent selection, dispatch, execution, and result
// shaping, bound to a request-scoped trace id. It manages:
//
//   - Intent analysis through the TaskAnalyzer collaborator
//   - Risk-based authorization through the SecurityAgent collaborator
//   - Agent selection and per-agent load accounting via the Selector
//   - Task lifecycle through the tracker
//   - Trace, audit, and security logging keyed by trace id
//
// External collaborators (analyzer, security agent, LLM) are interface-typed
// handles populated after construction, so no import cycles form at init.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/agent/guard"
	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/task/tracker"
	"github.com/agentmesh/agentmesh/internal/tracelog"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// DefaultAgentCallTimeout bounds one agent invocation.
const DefaultAgentCallTimeout = 30 * time.Second

// Config tunes the pipeline.
type Config struct {
	// Production makes a missing security agent a hard failure instead of
	// the development-mode allow.
	Production bool

	// AgentCallTimeout bounds one agent invocation; zero selects the default.
	AgentCallTimeout time.Duration

	// TaskTimeout is passed through to task creation; zero selects the
	// tracker's default.
	TaskTimeout time.Duration
}

// AgentProvider is the slice of the registry the pipeline needs.
type AgentProvider interface {
	GetAgentInfo(ctx context.Context, agentID string) (*v1.AgentDescriptor, error)
	GetAgent(ctx context.Context, agentID string) (agent.Agent, error)
}

// ResourceGuard answers allow/deny for resource use by an agent.
type ResourceGuard interface {
	Allowed(ctx context.Context, agentID string, kind guard.ResourceKind, resource string) bool
}

// Service is the orchestrator pipeline.
type Service struct {
	cfg        Config
	agents     AgentProvider
	selector   *Selector
	tracker    *tracker.Tracker
	guard      ResourceGuard
	prechecker *PreChecker
	trace      *tracelog.Recorder
	tracer     trace.Tracer
	logger     *logger.Logger

	mu       sync.RWMutex
	analyzer TaskAnalyzer
	security SecurityAgent
	shaper   *Shaper
	authn    auth.Verifier
}

// NewService wires the pipeline over its internal components. Collaborator
// handles default to development stand-ins until the setters run.
func NewService(cfg Config, agents AgentProvider, selector *Selector, tracker *tracker.Tracker,
	resourceGuard ResourceGuard, prechecker *PreChecker, recorder *tracelog.Recorder,
	tracer trace.Tracer, log *logger.Logger) *Service {
	if cfg.AgentCallTimeout <= 0 {
		cfg.AgentCallTimeout = DefaultAgentCallTimeout
	}
	return &Service{
		cfg:        cfg,
		agents:     agents,
		selector:   selector,
		tracker:    tracker,
		guard:      resourceGuard,
		prechecker: prechecker,
		trace:      recorder,
		tracer:     tracer,
		logger:     log,
		analyzer:   passthroughAnalyzer{},
		shaper:     NewShaper(nil, log),
	}
}

// SetAnalyzer installs the task analyzer collaborator.
func (s *Service) SetAnalyzer(analyzer TaskAnalyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzer = analyzer
}

// SetSecurityAgent installs the authorization collaborator.
func (s *Service) SetSecurityAgent(security SecurityAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.security = security
}

// SetAuthVerifier installs the verifier consulted before dispatching to an
// internal agent. External agents are authenticated on their own inbound
// calls and by the protocol client's credential handling.
func (s *Service) SetAuthVerifier(verifier auth.Verifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authn = verifier
}

// SetLLMClient installs the LLM used for result shaping.
func (s *Service) SetLLMClient(llm LLMClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shaper = NewShaper(llm, s.logger)
}

func (s *Service) getAnalyzer() TaskAnalyzer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyzer
}

func (s *Service) getSecurity() SecurityAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.security
}

func (s *Service) getShaper() *Shaper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shaper
}

func (s *Service) getAuthVerifier() auth.Verifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authn
}

// Process runs one instruction through the pipeline. It never returns an
// error; every failure class maps to a response status, with the typed error
// preserved in the trace log.
func (s *Service) Process(ctx context.Context, req *v1.ProcessRequest) *v1.ProcessResponse {
	traceID := uuid.New().String()
	ctx = context.WithValue(ctx, logger.TraceIDKey, traceID)

	ctx, span := s.tracer.Start(ctx, "orchestrator.process",
		trace.WithAttributes(attribute.String("trace_id", traceID)))
	defer span.End()

	s.trace.Task(ctx, traceID, tracelog.ActionTaskStart, map[string]interface{}{
		"instruction": req.Instruction,
		"user_id":     req.UserID,
	})

	intent, err := s.getAnalyzer().Analyze(ctx, req.Instruction, req.Context)
	if err != nil {
		return s.fail(ctx, traceID, "", err)
	}
	if intent.Clarification != "" {
		return &v1.ProcessResponse{
			Status:  v1.ProcessClarificationNeeded,
			Result:  map[string]interface{}{"clarification_question": intent.Clarification},
			TraceID: traceID,
		}
	}

	switch intent.Kind {
	case IntentLogQuery:
		return s.logQuery(traceID, intent)
	case IntentConfig:
		if err := s.prechecker.Check(intent.Scope, intent.ConfigData); err != nil {
			s.trace.Task(ctx, traceID, tracelog.ActionPreCheckFailed, map[string]interface{}{
				"scope": intent.Scope,
				"error": err.Error(),
			})
			return &v1.ProcessResponse{
				Status:  v1.ProcessValidationFailed,
				Result:  map[string]interface{}{"error": err.Error()},
				Error:   err.Error(),
				TraceID: traceID,
			}
		}
	case IntentTask:
	default:
		return &v1.ProcessResponse{
			Status:  v1.ProcessNotImplemented,
			Error:   "unsupported intent kind: " + string(intent.Kind),
			TraceID: traceID,
		}
	}

	decision, resp := s.authorize(ctx, traceID, req, intent)
	if resp != nil {
		return resp
	}
	if decision.RequiresDoubleCheck {
		return &v1.ProcessResponse{
			Status:  v1.ProcessConfirmationRequired,
			Result:  map[string]interface{}{"audit_context": decision.AuditContext},
			TraceID: traceID,
		}
	}

	return s.dispatch(ctx, traceID, req, intent)
}

// authorize runs S5. A non-nil response short-circuits the pipeline.
func (s *Service) authorize(ctx context.Context, traceID string, req *v1.ProcessRequest, intent *Intent) (*AccessDecision, *v1.ProcessResponse) {
	security := s.getSecurity()

	var decision *AccessDecision
	if security == nil {
		if s.cfg.Production {
			err := errors.Internal("security agent unavailable", nil)
			s.trace.Security(ctx, traceID, "authorization_unavailable", req.UserID, nil)
			return nil, s.fail(ctx, traceID, "", err)
		}
		decision = devAllowDecision()
	} else {
		reqContext := map[string]interface{}{"trace_id": traceID}
		for k, v := range req.Context {
			reqContext[k] = v
		}
		var err error
		decision, err = security.VerifyAccess(ctx, req.UserID, intent.toMap(), reqContext)
		if err != nil {
			return nil, s.fail(ctx, traceID, "", errors.Wrap(err, "authorization failed"))
		}
	}

	s.trace.Security(ctx, traceID, "authorization", req.UserID, map[string]interface{}{
		"allowed":               decision.Allowed,
		"risk_level":            decision.RiskLevel,
		"requires_double_check": decision.RequiresDoubleCheck,
		"reason":                decision.Reason,
	})

	if !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "access denied"
		}
		return nil, &v1.ProcessResponse{
			Status:  v1.ProcessPermissionDenied,
			Error:   reason,
			TraceID: traceID,
		}
	}
	return decision, nil
}

// dispatch runs S7 through S10 for one intent.
func (s *Service) dispatch(ctx context.Context, traceID string, req *v1.ProcessRequest, intent *Intent) *v1.ProcessResponse {
	desc, err := s.selectAgent(ctx, req, intent)
	if err != nil {
		return s.fail(ctx, traceID, "", err)
	}

	if intent.RequiredTool != "" && !s.guard.Allowed(ctx, desc.AgentID, guard.KindTool, intent.RequiredTool) {
		s.trace.Task(ctx, traceID, tracelog.ActionPermissionCheck, map[string]interface{}{
			"agent_id": desc.AgentID,
			"tool":     intent.RequiredTool,
			"allowed":  false,
		})
		s.trace.Security(ctx, traceID, "resource_denied", req.UserID, map[string]interface{}{
			"agent_id": desc.AgentID,
			"tool":     intent.RequiredTool,
		})
		return &v1.ProcessResponse{
			Status:  v1.ProcessPermissionDenied,
			Error:   "agent " + desc.AgentID + " may not use tool " + intent.RequiredTool,
			TraceID: traceID,
		}
	}

	createOpts := tracker.CreateOptions{
		Instruction:   req.Instruction,
		Intent:        intent.toMap(),
		TargetAgentID: desc.AgentID,
		UserID:        req.UserID,
	}
	if s.cfg.TaskTimeout > 0 {
		timeout := s.cfg.TaskTimeout
		createOpts.Timeout = &timeout
	}
	record, err := s.tracker.Create(ctx, createOpts)
	if err != nil {
		return s.fail(ctx, traceID, "", err)
	}

	s.trace.Task(ctx, traceID, tracelog.ActionTaskRouting, map[string]interface{}{
		"task_id":  record.TaskID,
		"agent_id": desc.AgentID,
		"internal": desc.Endpoints.IsInternal,
	})

	if isAsync(req.Context) {
		go func() {
			bg := context.WithValue(context.Background(), logger.TraceIDKey, traceID)
			s.execute(bg, traceID, req, intent, desc, record.TaskID)
		}()
		return &v1.ProcessResponse{
			Status:  v1.ProcessTaskCreated,
			Result:  map[string]interface{}{"task_id": record.TaskID},
			TraceID: traceID,
		}
	}
	return s.execute(ctx, traceID, req, intent, desc, record.TaskID)
}

// execute runs S8 and S9: the agent call and result shaping.
func (s *Service) execute(ctx context.Context, traceID string, req *v1.ProcessRequest, intent *Intent, desc *v1.AgentDescriptor, taskID string) *v1.ProcessResponse {
	if _, err := s.tracker.Update(ctx, taskID, v1.TaskStatusRunning, nil, ""); err != nil {
		return s.fail(ctx, traceID, taskID, err)
	}

	if verifier := s.getAuthVerifier(); verifier != nil && desc.Endpoints.IsInternal {
		outcome := verifier.Verify(ctx, desc.AgentID, auth.Credentials{
			ServiceIdentity: desc.ServiceIdentity,
		})
		s.trace.Security(ctx, traceID, "agent_authentication", req.UserID, map[string]interface{}{
			"agent_id": desc.AgentID,
			"status":   string(outcome.Status),
			"reason":   outcome.Reason,
		})
		if outcome.Status != v1.AuthSuccess {
			authErr := errors.AuthFailed(outcome.Reason)
			s.failTask(ctx, traceID, taskID, authErr)
			return s.fail(ctx, traceID, taskID, authErr)
		}
	}

	instance, err := s.agents.GetAgent(ctx, desc.AgentID)
	if err != nil {
		s.failTask(ctx, traceID, taskID, err)
		return s.fail(ctx, traceID, taskID, err)
	}

	s.selector.IncLoad(desc.AgentID)
	var decOnce sync.Once
	decLoad := func() { decOnce.Do(func() { s.selector.DecLoad(desc.AgentID) }) }
	defer decLoad()

	taskData := intent.Parameters
	if intent.Kind == IntentConfig {
		taskData = intent.ConfigData
	}
	agentReq := &agent.Request{
		TaskID:   taskID,
		TaskType: intent.TaskType,
		TaskData: taskData,
		Context:  mergeContext(req.Context, traceID),
		Metadata: map[string]interface{}{"user_id": req.UserID},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AgentCallTimeout)
	agentResp, err := instance.Execute(callCtx, agentReq)
	cancel()

	if err != nil {
		s.failTask(ctx, traceID, taskID, err)
		decLoad()
		return s.fail(ctx, traceID, taskID, err)
	}
	if agentResp.Status != agent.ResponseCompleted {
		execErr := errors.Internal("agent reported "+string(agentResp.Status)+": "+agentResp.Error, nil)
		s.failTask(ctx, traceID, taskID, execErr)
		decLoad()
		return &v1.ProcessResponse{
			Status:  v1.ProcessFailed,
			Error:   agentResp.Error,
			TraceID: traceID,
		}
	}

	result := agentResp.Result
	if result == nil {
		result = map[string]interface{}{}
	}
	record, err := s.tracker.Update(ctx, taskID, v1.TaskStatusCompleted, result, "")
	decLoad()
	if err != nil {
		// A racing reaper may have already failed the task; the terminal
		// record wins and the late agent response is dropped.
		stored, getErr := s.tracker.Get(ctx, taskID)
		if getErr == nil && stored.Status.IsTerminal() {
			return &v1.ProcessResponse{
				Status:  v1.ProcessFailed,
				Error:   stored.Error,
				TraceID: traceID,
			}
		}
		return s.fail(ctx, traceID, taskID, err)
	}

	message := s.getShaper().Shape(ctx, req.Instruction, record)
	shaped := make(map[string]interface{}, len(result)+1)
	for k, v := range result {
		shaped[k] = v
	}
	shaped["message"] = message

	return &v1.ProcessResponse{
		Status:  v1.ProcessCompleted,
		Result:  shaped,
		TraceID: traceID,
	}
}

// selectAgent honors an explicit agent id, otherwise delegates to the
// selector.
func (s *Service) selectAgent(ctx context.Context, req *v1.ProcessRequest, intent *Intent) (*v1.AgentDescriptor, error) {
	if req.SpecifiedAgentID != "" {
		return s.agents.GetAgentInfo(ctx, req.SpecifiedAgentID)
	}
	return s.selector.Select(ctx, intent.TaskType, req.UserID, rolesFrom(req.Context))
}

// logQuery serves S3: log-query intents read the trace log streams directly.
func (s *Service) logQuery(traceID string, intent *Intent) *v1.ProcessResponse {
	filter := tracelog.QueryFilter{}
	if v, ok := intent.Parameters["trace_id"].(string); ok {
		filter.TraceID = v
	}
	if v, ok := intent.Parameters["stream"].(string); ok {
		filter.Stream = tracelog.Stream(v)
	}
	if v, ok := intent.Parameters["limit"].(float64); ok {
		filter.Limit = int(v)
	}
	entries := s.trace.Query(filter)
	return &v1.ProcessResponse{
		Status:  v1.ProcessCompleted,
		Result:  map[string]interface{}{"entries": entries},
		TraceID: traceID,
	}
}

// failTask records a FAILED transition; a task already terminal is left
// untouched.
func (s *Service) failTask(ctx context.Context, traceID, taskID string, cause error) {
	if _, err := s.tracker.Update(ctx, taskID, v1.TaskStatusFailed, nil, cause.Error()); err != nil {
		s.logger.WithContext(ctx).Debug("task already terminal during failure recording",
			zap.String("task_id", taskID))
	}
}

// fail translates a typed error into a failed response and a task_failed
// trace entry.
func (s *Service) fail(ctx context.Context, traceID, taskID string, err error) *v1.ProcessResponse {
	detail := map[string]interface{}{
		"code":  errors.CodeOf(err),
		"error": err.Error(),
	}
	if taskID != "" {
		detail["task_id"] = taskID
	}
	s.trace.Task(ctx, traceID, tracelog.ActionTaskFailed, detail)
	s.logger.WithContext(ctx).Warn("instruction processing failed",
		zap.String("code", errors.CodeOf(err)),
		zap.Error(err))
	return &v1.ProcessResponse{
		Status:  v1.ProcessFailed,
		Error:   err.Error(),
		TraceID: traceID,
	}
}

func mergeContext(reqContext map[string]interface{}, traceID string) map[string]interface{} {
	merged := map[string]interface{}{"trace_id": traceID}
	for k, v := range reqContext {
		merged[k] = v
	}
	return merged
}

func rolesFrom(reqContext map[string]interface{}) []string {
	raw, ok := reqContext["roles"].([]interface{})
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, entry := range raw {
		if role, ok := entry.(string); ok {
			roles = append(roles, role)
		}
	}
	return roles
}

func isAsync(reqContext map[string]interface{}) bool {
	async, ok := reqContext["async"].(bool)
	return ok && async
}
