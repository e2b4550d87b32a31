package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

// AgentsHandler exposes the agent catalog and the run history the pipeline
// records. Both surfaces are read-only: agents are seeded by migrations and
// runs are written by the job handlers.
type AgentsHandler struct {
	repo *repository.Repository
}

func NewAgentsHandler(repo *repository.Repository) *AgentsHandler {
	return &AgentsHandler{repo: repo}
}

func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.repo.Agent.ListAgents(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	writeJSON(w, agents, http.StatusOK)
}

func (h *AgentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.repo.Agent.GetAgent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if a == nil {
		writeError(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, a, http.StatusOK)
}

// ListRuns returns agent runs, optionally scoped to one idea or ticket via
// the idea_id and ticket_id query parameters.
func (h *AgentsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := h.repo.AgentRun.ListAgentRuns(r.Context(), q.Get("idea_id"), q.Get("ticket_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []models.AgentRun{}
	}
	writeJSON(w, runs, http.StatusOK)
}

func (h *AgentsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.repo.AgentRun.GetAgentRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if run == nil {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, run, http.StatusOK)
}
