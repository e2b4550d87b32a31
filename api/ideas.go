package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/pipeline"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

type IdeasHandler struct {
	svc  *pipeline.Service
	repo *repository.Repository
}

func NewIdeasHandler(svc *pipeline.Service, repo *repository.Repository) *IdeasHandler {
	return &IdeasHandler{svc: svc, repo: repo}
}

type createIdeaRequest struct {
	ProjectID   string          `json:"project_id" validate:"required"`
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Source      string          `json:"source,omitempty"`
	Priority    int             `json:"priority"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

func (h *IdeasHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIdeaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	idea, err := h.svc.CreateIdea(r.Context(), &models.Idea{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Source:      req.Source,
		Priority:    req.Priority,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, idea, http.StatusCreated)
}

func (h *IdeasHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ideas, err := h.repo.Idea.ListIdeas(r.Context(), q.Get("project_id"), models.IdeaStatus(q.Get("status")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ideas == nil {
		ideas = []models.Idea{}
	}
	writeJSON(w, ideas, http.StatusOK)
}

func (h *IdeasHandler) Get(w http.ResponseWriter, r *http.Request) {
	idea, err := h.repo.Idea.GetIdea(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if idea == nil {
		writeError(w, "idea not found", http.StatusNotFound)
		return
	}
	writeJSON(w, idea, http.StatusOK)
}

func (h *IdeasHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Idea.DeleteIdea(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refine kicks the idea into the clarifier pipeline via the job queue.
func (h *IdeasHandler) Refine(w http.ResponseWriter, r *http.Request) {
	idea, jobID, err := h.svc.RefineIdea(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"idea": idea, "job_id": jobID}, http.StatusAccepted)
}

type approveIdeaRequest struct {
	Force bool `json:"force"`
}

// Approve converts the idea into a ticket. Force bypasses the pending
// questions gate.
func (h *IdeasHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveIdeaRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request", http.StatusBadRequest)
			return
		}
	}

	ticket, err := h.svc.ApproveIdea(r.Context(), mux.Vars(r)["id"], req.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, ticket, http.StatusOK)
}

func (h *IdeasHandler) Reject(w http.ResponseWriter, r *http.Request) {
	idea, err := h.svc.RejectIdea(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, idea, http.StatusOK)
}

func (h *IdeasHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	status := models.QuestionStatus(r.URL.Query().Get("status"))
	qs, err := h.repo.Question.ListQuestions(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if qs == nil {
		qs = []models.Question{}
	}
	writeJSON(w, qs, http.StatusOK)
}
