package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/garnizeh/orchestrator/internal/pipeline"
	"github.com/garnizeh/orchestrator/internal/state"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, map[string]string{"error": msg}, status)
}

// writeDomainError maps pipeline rejections to HTTP statuses: missing
// entities are 404; invalid transitions, unanswered-question gates, and
// lost-race status writes are 409; everything else is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case state.IsInvalidTransition(err):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pipeline.ErrUnansweredQuestions):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		logger.Error("request failed", slog.Any("err", err))
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
