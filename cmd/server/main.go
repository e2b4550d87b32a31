package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/garnizeh/orchestrator/api"
	migrations "github.com/garnizeh/orchestrator/db"
	"github.com/garnizeh/orchestrator/internal/config"
	"github.com/garnizeh/orchestrator/internal/db"
	"github.com/garnizeh/orchestrator/internal/pipeline"
	"github.com/garnizeh/orchestrator/internal/queue"
	"github.com/garnizeh/orchestrator/internal/repository/sqlite"
	"github.com/garnizeh/orchestrator/pkg/agent"
	"github.com/garnizeh/orchestrator/pkg/ollama"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	ollama.SetLogger(logger)

	logger.Info("starting orchestrator", "version", version, "build_time", buildTime)

	ctx := context.Background()

	// Open database connection and apply migrations
	database, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if err := db.Migrate(ctx, database, migrations.Migrations, migrations.SeedFiles); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}

	repo := sqlite.New(database, logger).Repository()

	llm, err := ollama.NewDefaultClient(cfg.Ollama)
	if err != nil {
		log.Fatalf("Failed to create ollama client: %v", err)
	}

	executor := agent.NewOllamaExecutor(llm, repo.AgentRun, repo.Agent, logger)
	clarifier, err := agent.NewClarifier(executor, repo.Schema, cfg.Clarifier)
	if err != nil {
		log.Fatalf("Failed to create clarifier: %v", err)
	}

	q := queue.New(database, logger)
	q.MaxAttempts = cfg.Queue.MaxAttempts
	svc := pipeline.New(repo, q, clarifier, logger)

	pool := queue.NewWorkerPool(q, logger, cfg.Queue.Workers, cfg.Queue.PollInterval)
	svc.RegisterHandlers(pool)
	pool.Start(ctx)

	handler := api.SetupRoutes(cfg, version, buildTime, svc, repo, q, llm)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// Stop claiming new jobs before the HTTP surface goes away
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := llm.Close(); err != nil {
		logger.Error("error closing ollama client", "err", err)
	}
	if err := database.Close(); err != nil {
		logger.Error("error closing DB", "err", err)
	}

	logger.Info("server exited")
}
