package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/pipeline"
	"github.com/garnizeh/orchestrator/internal/state"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

type TicketsHandler struct {
	svc  *pipeline.Service
	repo *repository.Repository
}

func NewTicketsHandler(svc *pipeline.Service, repo *repository.Repository) *TicketsHandler {
	return &TicketsHandler{svc: svc, repo: repo}
}

type createTicketRequest struct {
	ProjectID   string            `json:"project_id" validate:"required"`
	Title       string            `json:"title" validate:"required"`
	Description string            `json:"description" validate:"required"`
	Type        models.TicketType `json:"type,omitempty"`
	Priority    int               `json:"priority"`
}

func (h *TicketsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := h.svc.CreateTicket(r.Context(), &models.Ticket{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Priority:    req.Priority,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, ticket, http.StatusCreated)
}

func (h *TicketsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tickets, err := h.repo.Ticket.ListTickets(r.Context(), q.Get("project_id"), models.TicketStatus(q.Get("status")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, tickets, http.StatusOK)
}

func (h *TicketsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.repo.Ticket.GetTicket(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ticket == nil {
		writeError(w, "ticket not found", http.StatusNotFound)
		return
	}
	writeJSON(w, ticket, http.StatusOK)
}

func (h *TicketsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ticket.DeleteTicket(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

// transition builds a handler for one lifecycle action.
func (h *TicketsHandler) transition(action state.TicketAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid request", http.StatusBadRequest)
				return
			}
		}
		if action == state.TicketRequestChanges && req.Feedback == "" {
			writeError(w, "feedback is required", http.StatusBadRequest)
			return
		}

		ticket, err := h.svc.TransitionTicket(r.Context(), mux.Vars(r)["id"], action, req.Feedback)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, ticket, http.StatusOK)
	}
}

type createSubtaskRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	OrderIndex  int    `json:"order_index"`
}

func (h *TicketsHandler) CreateSubtask(w http.ResponseWriter, r *http.Request) {
	var req createSubtaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	st, err := h.svc.CreateSubtask(r.Context(), &models.Subtask{
		TicketID:    mux.Vars(r)["id"],
		Title:       req.Title,
		Description: req.Description,
		OrderIndex:  req.OrderIndex,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, st, http.StatusCreated)
}

func (h *TicketsHandler) ListSubtasks(w http.ResponseWriter, r *http.Request) {
	subtasks, err := h.repo.Subtask.ListSubtasks(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if subtasks == nil {
		subtasks = []models.Subtask{}
	}
	writeJSON(w, subtasks, http.StatusOK)
}

// transitionSubtask builds a handler for one subtask lifecycle action.
func (h *TicketsHandler) transitionSubtask(action state.SubtaskAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := h.svc.TransitionSubtask(r.Context(), mux.Vars(r)["id"], action)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, st, http.StatusOK)
	}
}
