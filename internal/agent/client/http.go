package client

import (
	"bytes"
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

const (
	headerRequestSignature  = "X-Request-Signature"
	headerServerFingerprint = "X-Server-Fingerprint"

	defaultCallTimeout = 30 * time.Second
)

// HTTPAgent invokes an external agent over the HTTP JSON binding: one POST
// of the request envelope to the declared endpoint.
type HTTPAgent struct {
	agentID     string
	endpoint    string
	apiKey      string
	fingerprint string
	client      *http.Client
	logger      *logger.Logger
}

// NewHTTPAgent builds the HTTP variant from a descriptor. When mTLS material
// is configured it is loaded as the client keypair; a failure to parse it
// leaves plain TLS and logs a warning rather than failing construction.
func NewHTTPAgent(descriptor *v1.AgentDescriptor, log *logger.Logger) *HTTPAgent {
	httpClient := &http.Client{Timeout: defaultCallTimeout}

	if cert := descriptor.Permissions.ServerCertificate; cert != "" {
		if keypair, err := tls.X509KeyPair([]byte(cert), []byte(cert)); err == nil {
			httpClient.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{keypair}},
			}
		} else {
			log.Warn("client certificate material did not parse as a keypair",
				zap.String("agent_id", descriptor.AgentID))
		}
	}

	return &HTTPAgent{
		agentID:     descriptor.AgentID,
		endpoint:    descriptor.Endpoints.HTTP,
		apiKey:      descriptor.Permissions.APIKey,
		fingerprint: descriptor.Permissions.ServerFingerprint,
		client:      httpClient,
		logger:      log.WithAgentID(descriptor.AgentID),
	}
}

// Execute POSTs the request and decodes the response envelope. Context
// cancellation and timeouts surface as typed transport/timeout errors.
func (h *HTTPAgent) Execute(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	body := map[string]interface{}{
		"task_id":   req.TaskID,
		"task_type": req.TaskType,
		"task_data": req.TaskData,
		"context":   req.Context,
		"metadata":  req.Metadata,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Internal("failed to encode agent request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Transport("failed to build agent request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
		signature, err := auth.SignBody(h.apiKey, body)
		if err != nil {
			return nil, errors.Internal("failed to sign agent request", err)
		}
		httpReq.Header.Set(headerRequestSignature, signature)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Timeout(fmt.Sprintf("agent %s call deadline exceeded", h.agentID))
		}
		return nil, errors.Transport(fmt.Sprintf("agent %s unreachable", h.agentID), err)
	}
	defer resp.Body.Close()

	if h.fingerprint != "" {
		presented := resp.Header.Get(headerServerFingerprint)
		if subtle.ConstantTimeCompare(
			[]byte(strings.ToLower(presented)),
			[]byte(strings.ToLower(h.fingerprint))) != 1 {
			return nil, errors.AuthFailed(fmt.Sprintf("agent %s fingerprint mismatch", h.agentID))
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transport("failed to read agent response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Transport(
			fmt.Sprintf("agent %s returned status %d: %s", h.agentID, resp.StatusCode, truncate(raw, 256)), nil)
	}

	var out agent.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Transport("failed to decode agent response", err)
	}
	if out.TaskID == "" {
		out.TaskID = req.TaskID
	}
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
