package agent_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	migrations "github.com/garnizeh/orchestrator/db"
	"github.com/garnizeh/orchestrator/internal/config"
	"github.com/garnizeh/orchestrator/internal/db"
	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/repository/sqlite"
	"github.com/garnizeh/orchestrator/pkg/agent"
	"github.com/garnizeh/orchestrator/pkg/ollama"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	ctx := context.Background()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	d, err := db.New(ctx, dsn, slog.Default())
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := db.Migrate(ctx, d, migrations.Migrations, migrations.SeedFiles); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlite.New(d, slog.Default()).Repository()
}

// seedIdea satisfies the agent_runs.idea_id foreign key for runs recorded
// against ideaID.
func seedIdea(t *testing.T, repo *repository.Repository, ideaID string) {
	t.Helper()
	ctx := context.Background()

	project := &models.Project{ID: "proj-1", Name: "proj", Path: "/tmp/proj"}
	if err := repo.Project.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	idea := &models.Idea{ID: ideaID, ProjectID: project.ID, Title: "idea", Description: "idea"}
	if err := repo.Idea.CreateIdea(ctx, idea); err != nil {
		t.Fatalf("CreateIdea: %v", err)
	}
}

func newTestOllama(t *testing.T, handler http.HandlerFunc) *ollama.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.OllamaConfig{
		BaseURL:                 srv.URL,
		Timeout:                 2 * time.Second,
		Retries:                 0,
		CircuitFailureThreshold: 100,
		CircuitReset:            time.Second,
	}
	client, err := ollama.NewClient(cfg, srv.Client())
	if err != nil {
		t.Fatalf("new ollama client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestExecute_RecordsSuccessfulRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedIdea(t, repo, "idea-1")

	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"response": "all good", "done": true, "prompt_eval_count": 5, "eval_count": 7})
	})

	exec := agent.NewOllamaExecutor(client, repo.AgentRun, repo.Agent, slog.Default())
	a := &models.Agent{ID: "clarifier", Name: "Clarifier", Type: "clarifier", Prompt: "analyze", Model: "llama3", IsActive: true}

	res, err := exec.Execute(ctx, a, json.RawMessage(`{"message":"hi"}`), "idea-1", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.RunSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if res.TokensUsed != 12 {
		t.Fatalf("tokens = %d", res.TokensUsed)
	}

	run, err := repo.AgentRun.GetAgentRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetAgentRun: %v", err)
	}
	if run.Status != models.RunSuccess || run.CompletedAt == nil {
		t.Fatalf("run not finished: %+v", run)
	}
	if run.IdeaID != "idea-1" {
		t.Fatalf("idea id = %q", run.IdeaID)
	}

	// the agent row is upserted on first execution
	if _, err := repo.Agent.GetAgent(ctx, "clarifier"); err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
}

func TestExecute_RecordsFailedRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedIdea(t, repo, "idea-1")

	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	exec := agent.NewOllamaExecutor(client, repo.AgentRun, repo.Agent, slog.Default())
	a := &models.Agent{ID: "clarifier", Name: "Clarifier", Type: "clarifier", Prompt: "analyze", Model: "missing", IsActive: true}

	res, err := exec.Execute(ctx, a, json.RawMessage(`{"message":"hi"}`), "idea-1", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.RunFailed || res.Error == "" {
		t.Fatalf("result = %+v", res)
	}

	run, err := repo.AgentRun.GetAgentRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetAgentRun: %v", err)
	}
	if run.Status != models.RunFailed || run.Error == "" {
		t.Fatalf("run = %+v", run)
	}
}
