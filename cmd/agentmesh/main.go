// Package main is the agentmesh server: registry, discovery, health
// monitoring, task tracking, and the orchestrator pipeline behind one HTTP
// gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/internal/agent/auth"
	"github.com/agentmesh/agentmesh/internal/agent/client"
	"github.com/agentmesh/agentmesh/internal/agent/discovery"
	"github.com/agentmesh/agentmesh/internal/agent/guard"
	"github.com/agentmesh/agentmesh/internal/agent/health"
	"github.com/agentmesh/agentmesh/internal/agent/registry"
	"github.com/agentmesh/agentmesh/internal/common/config"
	"github.com/agentmesh/agentmesh/internal/common/logger"
	"github.com/agentmesh/agentmesh/internal/db"
	"github.com/agentmesh/agentmesh/internal/events"
	"github.com/agentmesh/agentmesh/internal/gateway"
	"github.com/agentmesh/agentmesh/internal/orchestrator"
	orchcatalog "github.com/agentmesh/agentmesh/internal/orchestrator/catalog"
	"github.com/agentmesh/agentmesh/internal/task/repository"
	"github.com/agentmesh/agentmesh/internal/task/tracker"
	"github.com/agentmesh/agentmesh/internal/tracelog"
)

// defaultScopeCatalogPath is consulted when no catalog file is configured.
const defaultScopeCatalogPath = "config/scopes.yaml"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agentmesh...")

	// 3. Root context cancelled on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event bus (in-memory, or NATS if configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()
	eventBus := provided.Bus

	// 5. Database pool
	pool, err := openPool(cfg)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	// 6. Durable agent catalog over the pool
	agentCatalog, err := registry.NewSQLCatalog(pool)
	if err != nil {
		log.Fatal("Failed to initialize agent catalog", zap.Error(err))
	}

	// 7. Registry with protocol client factory
	clientFactory := client.NewFactory(log)
	reg := registry.NewRegistry(agentCatalog, clientFactory, registry.Options{}, log)

	// 8. Discovery and resource guard
	disc := discovery.NewService(reg, cfg.Discovery.FreshnessWindowDuration(), log)
	resourceGuard := guard.New(reg, log)

	// 9. Verifiers
	internalVerifier := auth.NewInternalVerifier(reg, log)
	externalVerifier := auth.NewExternalVerifier(reg, log)

	// 10. Trace log recorder
	recorder := tracelog.NewRecorder(log, eventBus)

	// 11. Task tracker with timeout reaper
	taskRepo, err := repository.NewSQLRepository(pool)
	if err != nil {
		log.Fatal("Failed to initialize task repository", zap.Error(err))
	}
	track := tracker.New(taskRepo, eventBus, tracker.Config{
		TaskTimeout: cfg.Orchestrator.TaskTimeoutDuration(),
	}, log)
	track.StartReaper(ctx)
	defer track.StopReaper()

	// 12. Health monitor
	monitor := health.NewMonitor(reg, health.Config{
		CheckInterval:    cfg.Health.CheckIntervalDuration(),
		HeartbeatTimeout: cfg.Health.HeartbeatTimeoutDuration(),
		ProbeTimeout:     cfg.Health.ProbeTimeoutDuration(),
	}, log)
	monitor.Start(ctx)
	defer monitor.Stop()

	// 13. Orchestrator pipeline
	scopeCatalog := loadScopeCatalog(log)
	selector := orchestrator.NewSelector(disc, nil)
	orch := orchestrator.NewService(orchestrator.Config{
		Production:       cfg.Orchestrator.Production,
		AgentCallTimeout: cfg.Orchestrator.AgentCallTimeoutDuration(),
		TaskTimeout:      cfg.Orchestrator.TaskTimeoutDuration(),
	}, reg, selector, track, resourceGuard,
		orchestrator.NewPreChecker(scopeCatalog), recorder,
		otel.Tracer("agentmesh/orchestrator"), log)
	orch.SetAuthVerifier(internalVerifier)

	// 14. HTTP gateway
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := gateway.New(addr, orch, track, reg, eventBus, externalVerifier,
		cfg.Orchestrator.Production, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	// 15. Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("Gateway failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Gateway shutdown incomplete", zap.Error(err))
	}
	cancel()
	log.Info("agentmesh stopped")
}

func openPool(cfg *config.Config) (*db.Pool, error) {
	switch cfg.Database.Driver {
	case "postgres":
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.User, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port,
			cfg.Database.DBName, cfg.Database.SSLMode)
		return db.OpenPostgresPool(dsn, cfg.Database.MaxConns, cfg.Database.MinConns)
	default:
		return db.OpenSQLitePool(cfg.Database.SQLitePath)
	}
}

// loadScopeCatalog hydrates the pre-check catalog once at startup. A missing
// file yields an empty catalog: every config intent then fails pre-check with
// an unknown-scope error, which is the safe default.
func loadScopeCatalog(log *logger.Logger) *orchcatalog.Catalog {
	if _, err := os.Stat(defaultScopeCatalogPath); err != nil {
		log.Info("No scope catalog file; config pre-checks start empty",
			zap.String("path", defaultScopeCatalogPath))
		return orchcatalog.New()
	}
	catalog, err := orchcatalog.Load(defaultScopeCatalogPath)
	if err != nil {
		log.Fatal("Failed to load scope catalog", zap.Error(err))
	}
	log.Info("Scope catalog loaded",
		zap.String("path", defaultScopeCatalogPath),
		zap.Int("scopes", len(catalog.Names())))
	return catalog
}
