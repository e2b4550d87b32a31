package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/queue"
)

type JobsHandler struct {
	queue *queue.Queue
}

func NewJobsHandler(q *queue.Queue) *JobsHandler {
	return &JobsHandler{queue: q}
}

type enqueueRequest struct {
	JobType     string          `json:"job_type" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
}

func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := []queue.EnqueueOption{queue.WithPriority(req.Priority)}
	if req.MaxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(req.MaxAttempts))
	}

	id, err := h.queue.Enqueue(r.Context(), req.JobType, req.Payload, opts...)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, map[string]string{"job_id": id}, http.StatusAccepted)
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if job == nil {
		writeError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, job, http.StatusOK)
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	jobs, err := h.queue.List(r.Context(), models.JobStatus(q.Get("status")), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, jobs, http.StatusOK)
}
