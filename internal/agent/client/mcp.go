package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// executeToolName is the tool every MCP-bound agent exposes for task
// execution.
const executeToolName = "execute_task"

// MCPAgent invokes an external agent over the MCP binding: the request
// envelope becomes the arguments of an execute_task tool call.
type MCPAgent struct {
	agentID  string
	endpoint string
	apiKey   string

	initOnce sync.Once
	initErr  error
	session  *mcpclient.Client

	logger *logger.Logger
}

// NewMCPAgent builds the MCP variant from a descriptor. The MCP session is
// established lazily on first Execute.
func NewMCPAgent(descriptor *v1.AgentDescriptor, log *logger.Logger) *MCPAgent {
	return &MCPAgent{
		agentID:  descriptor.AgentID,
		endpoint: descriptor.Endpoints.MCP,
		apiKey:   descriptor.Permissions.APIKey,
		logger:   log.WithAgentID(descriptor.AgentID),
	}
}

// connect initializes the MCP session once; later calls reuse it.
func (m *MCPAgent) connect(ctx context.Context) error {
	m.initOnce.Do(func() {
		headers := map[string]string{}
		if m.apiKey != "" {
			headers["Authorization"] = "Bearer " + m.apiKey
		}

		session, err := mcpclient.NewStreamableHttpClient(m.endpoint,
			transport.WithHTTPHeaders(headers))
		if err != nil {
			m.initErr = errors.Transport("failed to create MCP client", err)
			return
		}
		if err := session.Start(ctx); err != nil {
			m.initErr = errors.Transport("failed to start MCP session", err)
			return
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcp.Implementation{
			Name:    "agentmesh",
			Version: "1.0.0",
		}
		if _, err := session.Initialize(ctx, initReq); err != nil {
			m.initErr = errors.Transport("MCP initialize failed", err)
			return
		}
		m.session = session
	})
	return m.initErr
}

// Execute performs the execute_task tool call and decodes the text result
// into the response envelope.
func (m *MCPAgent) Execute(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	if err := m.connect(ctx); err != nil {
		return nil, err
	}

	arguments := map[string]interface{}{
		"task_id":   req.TaskID,
		"task_type": req.TaskType,
		"task_data": req.TaskData,
		"context":   req.Context,
		"metadata":  req.Metadata,
	}
	if m.apiKey != "" {
		signature, err := auth.SignBody(m.apiKey, arguments)
		if err != nil {
			return nil, errors.Internal("failed to sign MCP request", err)
		}
		arguments["signature"] = signature
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = executeToolName
	callReq.Params.Arguments = arguments

	result, err := m.session.CallTool(ctx, callReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Timeout(fmt.Sprintf("agent %s MCP call deadline exceeded", m.agentID))
		}
		return nil, errors.Transport(fmt.Sprintf("agent %s MCP call failed", m.agentID), err)
	}

	text := firstText(result)
	if result.IsError {
		return nil, errors.Transport(fmt.Sprintf("agent %s reported tool error: %s", m.agentID, text), nil)
	}
	if text == "" {
		return nil, errors.Transport(fmt.Sprintf("agent %s returned no content", m.agentID), nil)
	}

	var out agent.Response
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, errors.Transport("failed to decode MCP tool result", err)
	}
	if out.TaskID == "" {
		out.TaskID = req.TaskID
	}
	return &out, nil
}

// Close tears down the MCP session if one was established.
func (m *MCPAgent) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Close()
}

func firstText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			return text.Text
		}
	}
	return ""
}
