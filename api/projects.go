package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/pipeline"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

type ProjectsHandler struct {
	svc  *pipeline.Service
	repo *repository.Repository
}

func NewProjectsHandler(svc *pipeline.Service, repo *repository.Repository) *ProjectsHandler {
	return &ProjectsHandler{svc: svc, repo: repo}
}

type createProjectRequest struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	Path        string          `json:"path" validate:"required"`
	Config      json.RawMessage `json:"config,omitempty"`
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	project, err := h.svc.CreateProject(r.Context(), &models.Project{
		Name:        req.Name,
		Description: req.Description,
		Path:        req.Path,
		Config:      req.Config,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, project, http.StatusCreated)
}

func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.repo.Project.ListProjects(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if projects == nil {
		projects = []models.Project{}
	}
	writeJSON(w, projects, http.StatusOK)
}

func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.repo.Project.GetProject(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if project == nil {
		writeError(w, "project not found", http.StatusNotFound)
		return
	}
	writeJSON(w, project, http.StatusOK)
}

func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Project.DeleteProject(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
