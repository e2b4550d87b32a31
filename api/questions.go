package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/orchestrator/internal/pipeline"
)

type QuestionsHandler struct {
	svc *pipeline.Service
}

func NewQuestionsHandler(svc *pipeline.Service) *QuestionsHandler {
	return &QuestionsHandler{svc: svc}
}

type answerRequest struct {
	Answer string `json:"answer" validate:"required"`
}

func (h *QuestionsHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, ideaMoved, err := h.svc.AnswerQuestion(r.Context(), mux.Vars(r)["id"], req.Answer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"question": q, "idea_refining": ideaMoved}, http.StatusOK)
}

func (h *QuestionsHandler) Skip(w http.ResponseWriter, r *http.Request) {
	q, ideaMoved, err := h.svc.SkipQuestion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"question": q, "idea_refining": ideaMoved}, http.StatusOK)
}
