// Package client builds protocol clients for external agents. A client is
// one variant of the uniform execute contract; construction attaches the
// descriptor's authentication material but performs no I/O, deferring any
// handshake to first use.
package client

import (
	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// Factory selects the transport variant per descriptor. Adding a transport
// is one new variant plus a branch here.
type Factory struct {
	logger *logger.Logger
}

// NewFactory creates a client factory.
func NewFactory(log *logger.Logger) *Factory {
	return &Factory{logger: log}
}

// ClientFor returns an invocable client for the descriptor's declared
// protocol.
func (f *Factory) ClientFor(descriptor *v1.AgentDescriptor) (agent.Agent, error) {
	if descriptor.Endpoints.IsInternal {
		return nil, errors.InvalidConfig("internal agents are not reachable through a protocol client")
	}

	switch descriptor.Endpoints.Protocol {
	case v1.ProtocolMCP:
		if descriptor.Endpoints.MCP == "" {
			return nil, errors.InvalidConfig("MCP protocol declared without an MCP endpoint")
		}
		return NewMCPAgent(descriptor, f.logger), nil
	case v1.ProtocolHTTP, "":
		if descriptor.Endpoints.HTTP == "" {
			return nil, errors.InvalidConfig("HTTP protocol declared without an HTTP endpoint")
		}
		return NewHTTPAgent(descriptor, f.logger), nil
	default:
		return nil, errors.InvalidConfig("unsupported protocol: " + string(descriptor.Endpoints.Protocol))
	}
}
