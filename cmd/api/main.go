// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/devpilot/orchestrator/internal/agent"
	"github.com/devpilot/orchestrator/internal/config"
	"github.com/devpilot/orchestrator/internal/connector"
	"github.com/devpilot/orchestrator/internal/logging"
	"github.com/devpilot/orchestrator/internal/persistence/postgres"
	"github.com/devpilot/orchestrator/internal/session"
	httptransport "github.com/devpilot/orchestrator/internal/transport/http"
	"github.com/devpilot/orchestrator/internal/worker"
	"github.com/devpilot/orchestrator/internal/workflow"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	var (
		store  session.Store
		health httptransport.HealthChecker
	)

	switch cfg.SessionBackend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer pool.Close()

		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				log.Fatalf("migrations failed: %v", err)
			}
		} else if err := postgres.SchemaReady(ctx, pool); err != nil {
			log.Fatalf("schema not ready (AUTO_MIGRATE=false): %v", err)
		}

		store = session.NewPostgresStore(pool)
		health = postgres.NewSchemaHealthChecker(pool)

	case "sqlite":
		sqliteStore, err := session.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite open failed: %v", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore

	default:
		store = session.NewMemoryStore(cfg.SessionTTL)
	}

	manager := connector.NewManager(logging.WithComponent(logger, "connector"))
	defer manager.Shutdown(context.Background())

	specs, err := config.LoadConnectors(cfg.ConnectorsFile)
	if err != nil {
		log.Fatalf("connectors config invalid: %v", err)
	}
	registerConnectors(ctx, manager, specs, logger)

	phaseWorker, err := buildWorker(logger)
	if err != nil {
		log.Fatalf("worker init failed: %v", err)
	}

	coord := agent.NewCoordinator(agent.Deps{
		Worker:     phaseWorker,
		Logger:     logging.WithComponent(logger, "agent"),
		Connectors: manager,
	})

	machine, err := workflow.NewMachine()
	if err != nil {
		log.Fatalf("transition table invalid: %v", err)
	}

	executor := workflow.NewExecutor(workflow.Deps{
		Machine:     machine,
		Coordinator: coord,
		Store:       store,
		Router: workflow.Router{
			Confidence: coord,
			Threshold:  cfg.ConfidenceThreshold,
			FailOpen:   cfg.FailOpenGates,
		},
		Logger: logging.WithComponent(logger, "workflow"),
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Sessions:         executor,
		Connectors:       manager,
		Health:           health,
		Logger:           logger,
		AdminToken:       cfg.AdminToken,
		SessionRateLimit: cfg.SessionRateLimit,
		Version:          Version,
		Commit:           Commit,
		BuildDate:        BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"backend", cfg.SessionBackend,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

// buildWorker selects the artifact producer. With an OpenAI key in the
// environment agents generate artifacts through the model; otherwise the
// deterministic template worker runs, which is also what tests use.
func buildWorker(logger *slog.Logger) (worker.PhaseWorker, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		logger.Info("no OPENAI_API_KEY set, using template worker")
		return worker.NewTemplateWorker(), nil
	}

	opts := []openai.Option{}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("using LLM worker")
	return worker.NewLLMWorker(llm), nil
}

// registerConnectors wires the configured external gateways. A connector
// that fails to register degrades notifications only, so startup proceeds.
func registerConnectors(ctx context.Context, manager *connector.Manager, specs []config.ConnectorSpec, logger *slog.Logger) {
	for _, spec := range specs {
		var conn connector.Connector
		switch {
		case spec.Provider == "github" || spec.Type == string(connector.TypeIssueTracker):
			conn = connector.NewGitHubConnector(connector.GitHubOptions{
				Name:  spec.Name,
				Token: spec.Token,
				Owner: spec.Owner,
				Repo:  spec.Repo,
			})
		default:
			conn = connector.NewWebhookConnector(connector.WebhookOptions{
				Name:   spec.Name,
				Type:   connector.Type(spec.Type),
				URL:    spec.URL,
				Secret: spec.Secret,
			})
		}

		if resp := manager.Register(ctx, conn); !resp.Success {
			logger.Warn("connector registration failed",
				"connector", spec.Name,
				"error", resp.Error,
			)
		}
	}
}
