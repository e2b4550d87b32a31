package api

import (
	"fmt"
	"net/http"

	"github.com/garnizeh/orchestrator/pkg/ollama"
)

type SystemHandler struct {
	ollama *ollama.Client
}

func NewSystemHandler(client *ollama.Client) *SystemHandler {
	return &SystemHandler{ollama: client}
}

func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	agentStatus := "ok"
	if h.ollama != nil {
		if err := h.ollama.Health(r.Context()); err != nil {
			agentStatus = "unavailable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"orchestrator","agent":"%s"}`+"\n", agentStatus)
}

func (h *SystemHandler) VersionHandler(version, buildTime string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":"%s","buildTime":"%s"}`, version, buildTime)
	}
}
