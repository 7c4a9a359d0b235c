// Package main implements a mock external agent speaking the platform's HTTP
// JSON binding. It registers itself with the gateway, heartbeats, echoes task
// data back as its result, and honors the signature and fingerprint headers.
// Useful for e2e testing without a real agent fleet.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/pkg/agent"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

const (
	headerRequestSignature  = "X-Request-Signature"
	headerServerFingerprint = "X-Server-Fingerprint"

	heartbeatInterval = 60 * time.Second
)

func main() {
	var (
		agentID     = flag.String("agent-id", "mock-agent", "agent id to register as")
		agentType   = flag.String("agent-type", "assistant", "agent type")
		listenAddr  = flag.String("listen", ":9400", "listen address")
		selfURL     = flag.String("self-url", "http://127.0.0.1:9400", "externally reachable base URL")
		gatewayURL  = flag.String("gateway", "", "agentmesh gateway base URL; empty skips registration")
		apiKey      = flag.String("api-key", "", "api key expected on requests")
		fingerprint = flag.String("fingerprint", "", "server fingerprint echoed on responses")
		delay       = flag.Duration("delay", 0, "artificial execution delay")
	)
	flag.Parse()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.POST("/execute", func(c *gin.Context) {
		var req agent.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if *apiKey != "" {
			presented := c.GetHeader(headerRequestSignature)
			expected, err := auth.SignBody(*apiKey, map[string]interface{}{
				"task_id":   req.TaskID,
				"task_type": req.TaskType,
				"task_data": req.TaskData,
				"context":   req.Context,
				"metadata":  req.Metadata,
			})
			if err != nil || presented != expected {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "signature mismatch"})
				return
			}
		}

		if *delay > 0 {
			select {
			case <-time.After(*delay):
			case <-c.Request.Context().Done():
				return
			}
		}

		if *fingerprint != "" {
			c.Header(headerServerFingerprint, *fingerprint)
		}
		c.JSON(http.StatusOK, agent.Response{
			TaskID: req.TaskID,
			Status: agent.ResponseCompleted,
			Result: map[string]interface{}{
				"echo":      req.TaskData,
				"task_type": req.TaskType,
			},
		})
	})

	server := &http.Server{Addr: *listenAddr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("mock agent listening", zap.String("addr", *listenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("mock agent server failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *gatewayURL != "" {
		if err := register(ctx, *gatewayURL, *agentID, *agentType, *selfURL, *apiKey, *fingerprint); err != nil {
			log.Fatal("registration failed", zap.Error(err))
		}
		log.Info("registered with gateway", zap.String("agent_id", *agentID))
		go heartbeatLoop(ctx, *gatewayURL, *agentID, *apiKey, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func register(ctx context.Context, gatewayURL, agentID, agentType, selfURL, apiKey, fingerprint string) error {
	desc := v1.AgentDescriptor{
		AgentID:   agentID,
		AgentType: agentType,
		Name:      "Mock Agent",
		Endpoints: v1.AgentEndpoints{
			HTTP:           selfURL + "/execute",
			Protocol:       v1.ProtocolHTTP,
			HealthEndpoint: selfURL + "/health",
		},
		Capabilities: []string{"echo"},
		Permissions: v1.AgentPermissions{
			APIKey:            apiKey,
			ServerFingerprint: fingerprint,
		},
		Status: v1.AgentStatusOnline,
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		gatewayURL+"/api/v1/agents", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func heartbeatLoop(ctx context.Context, gatewayURL, agentID, apiKey string, log *logger.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("%s/api/v1/agents/%s/heartbeat", gatewayURL, agentID), nil)
			if err != nil {
				continue
			}
			if apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+apiKey)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				log.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			resp.Body.Close()
		}
	}
}
