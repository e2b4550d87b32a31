// Package agent defines the contract the pipeline uses to run LLM-backed
// capabilities, and an Ollama-backed implementation of it. The pipeline core
// depends only on the Executor interface; how an agent is prompted or billed
// stays behind it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/google/uuid"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/pkg/ollama"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

// Result is the outcome of one agent invocation.
type Result struct {
	Status     models.RunStatus `json:"status"`
	Output     json.RawMessage  `json:"output,omitempty"`
	Error      string           `json:"error,omitempty"`
	TokensUsed int              `json:"tokens_used"`
	CostUSD    float64          `json:"cost_usd"`
	RunID      string           `json:"run_id"`
}

// Executor runs an agent against structured input. A failed agent is
// reported through Result.Status, not the error return; the error return is
// for infrastructure problems (store writes, id generation).
type Executor interface {
	Execute(ctx context.Context, a *models.Agent, input json.RawMessage, ideaID, ticketID string) (*Result, error)
}

// pricing per million tokens, keyed by model name; locally served models cost nothing
var pricing = map[string]struct{ input, output float64 }{
	"llama3":      {0, 0},
	"deepseek-r1": {0, 0},
}

// OllamaExecutor executes agents against a local Ollama instance and records
// one AgentRun row per invocation.
type OllamaExecutor struct {
	client *ollama.Client
	runs   repository.AgentRunRepo
	agents repository.AgentRepo
	logger *slog.Logger
}

var _ Executor = (*OllamaExecutor)(nil)

func NewOllamaExecutor(client *ollama.Client, runs repository.AgentRunRepo, agents repository.AgentRepo, logger *slog.Logger) *OllamaExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaExecutor{client: client, runs: runs, agents: agents, logger: logger}
}

func (e *OllamaExecutor) Execute(ctx context.Context, a *models.Agent, input json.RawMessage, ideaID, ticketID string) (*Result, error) {
	if a == nil {
		return nil, fmt.Errorf("agent is nil")
	}
	if err := e.agents.EnsureAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("ensure agent %s: %w", a.ID, err)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	run := &models.AgentRun{
		ID:       runID.String(),
		AgentID:  a.ID,
		IdeaID:   ideaID,
		TicketID: ticketID,
		Status:   models.RunRunning,
		Input:    input,
	}
	if err := e.runs.CreateAgentRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create agent run: %w", err)
	}

	prompt := a.Prompt + "\n\n" + formatInput(input)
	gen, genErr := e.client.Generate(ctx, a.Model, prompt)
	if genErr != nil {
		run.Status = models.RunFailed
		run.Error = genErr.Error()
		if ferr := e.runs.FinishAgentRun(ctx, run); ferr != nil {
			e.logger.Error("finish failed agent run", "run_id", run.ID, "err", ferr)
		}
		e.logger.Warn("agent run failed", "run_id", run.ID, "agent_id", a.ID, "err", genErr)
		return &Result{Status: models.RunFailed, Error: genErr.Error(), RunID: run.ID}, nil
	}

	output, _ := json.Marshal(map[string]any{"text": gen.Text})
	tokens := gen.PromptTokens + gen.OutputTokens
	cost := costUSD(a.Model, gen.PromptTokens, gen.OutputTokens)

	run.Status = models.RunSuccess
	run.Output = output
	run.TokensUsed = tokens
	run.CostUSD = cost
	if err := e.runs.FinishAgentRun(ctx, run); err != nil {
		return nil, fmt.Errorf("finish agent run: %w", err)
	}

	e.logger.Info("agent run completed", "run_id", run.ID, "agent_id", a.ID, "tokens", tokens, "cost_usd", cost)
	return &Result{Status: models.RunSuccess, Output: output, TokensUsed: tokens, CostUSD: cost, RunID: run.ID}, nil
}

func costUSD(model string, promptTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)*p.input/1_000_000 + float64(outputTokens)*p.output/1_000_000
}

// formatInput renders input as a user message, preferring a plain text field
// when present.
func formatInput(input json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err == nil {
		if s, ok := m["message"].(string); ok {
			return s
		}
		if s, ok := m["text"].(string); ok {
			return s
		}
	}
	return string(input)
}
