package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/common/errors"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

const (
	headerRequestSignature  = "X-Request-Signature"
	headerServerFingerprint = "X-Server-Fingerprint"
	headerClientCertificate = "X-Client-Certificate"
)

// agentAuth verifies agent-originated calls (heartbeat, status updates). The
// full credential chain applies to external agents; internal agents heartbeat
// in-process and unknown agents fall through to the handler's own not-found
// path.
func (h *Handlers) agentAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.verifier == nil {
			c.Next()
			return
		}

		agentID := c.Param("agentId")
		desc, err := h.registry.GetAgentInfo(c.Request.Context(), agentID)
		if err != nil || desc.Endpoints.IsInternal {
			c.Next()
			return
		}

		outcome := h.verifier.Verify(c.Request.Context(), agentID, credentialsFrom(c))
		if outcome.Status != v1.AuthSuccess {
			h.logger.Warn("agent call rejected",
				zap.String("agent_id", agentID),
				zap.String("reason", outcome.Reason))
			appErr := errors.AuthFailed(outcome.Reason)
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			return
		}
		c.Next()
	}
}

// credentialsFrom extracts the presented credential material from the
// request. The body is restored so handlers can still bind it.
func credentialsFrom(c *gin.Context) auth.Credentials {
	creds := auth.Credentials{
		APIKey:      bearerToken(c.GetHeader("Authorization")),
		Signature:   c.GetHeader(headerRequestSignature),
		Fingerprint: c.GetHeader(headerServerFingerprint),
		Certificate: c.GetHeader(headerClientCertificate),
		CallerIP:    c.ClientIP(),
	}

	if creds.Signature != "" && c.Request.Body != nil {
		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
		if err == nil {
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			var body map[string]interface{}
			if json.Unmarshal(raw, &body) == nil {
				creds.Body = body
			}
		}
	}
	return creds
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return header[len(prefix):]
	}
	return ""
}
