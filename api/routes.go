package api

import (
	"github.com/gorilla/mux"

	"github.com/garnizeh/orchestrator/internal/config"
	"github.com/garnizeh/orchestrator/internal/pipeline"
	"github.com/garnizeh/orchestrator/internal/queue"
	"github.com/garnizeh/orchestrator/internal/state"
	"github.com/garnizeh/orchestrator/pkg/ollama"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

func SetupRoutes(cfg *config.Config, version, buildTime string, svc *pipeline.Service, repo *repository.Repository, q *queue.Queue, llm *ollama.Client) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := NewSystemHandler(llm)
	authHandler := NewAuthHandler(repo.User, cfg.JWTSecret, cfg.TokenDuration)
	projectsHandler := NewProjectsHandler(svc, repo)
	ideasHandler := NewIdeasHandler(svc, repo)
	questionsHandler := NewQuestionsHandler(svc)
	ticketsHandler := NewTicketsHandler(svc, repo)
	jobsHandler := NewJobsHandler(q)
	agentsHandler := NewAgentsHandler(repo)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	// Auth endpoints
	authV1 := apiV1.PathPrefix("/auth").Subrouter()
	authV1.HandleFunc("/signout", authHandler.Signout).Methods("POST")

	// Project endpoints
	apiV1.HandleFunc("/projects", projectsHandler.Create).Methods("POST")
	apiV1.HandleFunc("/projects", projectsHandler.List).Methods("GET")
	apiV1.HandleFunc("/projects/{id}", projectsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/projects/{id}", projectsHandler.Delete).Methods("DELETE")

	// Idea endpoints
	apiV1.HandleFunc("/ideas", ideasHandler.Create).Methods("POST")
	apiV1.HandleFunc("/ideas", ideasHandler.List).Methods("GET")
	apiV1.HandleFunc("/ideas/{id}", ideasHandler.Get).Methods("GET")
	apiV1.HandleFunc("/ideas/{id}", ideasHandler.Delete).Methods("DELETE")
	apiV1.HandleFunc("/ideas/{id}/refine", ideasHandler.Refine).Methods("POST")
	apiV1.HandleFunc("/ideas/{id}/approve", ideasHandler.Approve).Methods("POST")
	apiV1.HandleFunc("/ideas/{id}/reject", ideasHandler.Reject).Methods("POST")
	apiV1.HandleFunc("/ideas/{id}/questions", ideasHandler.ListQuestions).Methods("GET")

	// Question endpoints
	apiV1.HandleFunc("/questions/{id}/answer", questionsHandler.Answer).Methods("POST")
	apiV1.HandleFunc("/questions/{id}/skip", questionsHandler.Skip).Methods("POST")

	// Ticket endpoints
	apiV1.HandleFunc("/tickets", ticketsHandler.Create).Methods("POST")
	apiV1.HandleFunc("/tickets", ticketsHandler.List).Methods("GET")
	apiV1.HandleFunc("/tickets/{id}", ticketsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/tickets/{id}", ticketsHandler.Delete).Methods("DELETE")
	apiV1.HandleFunc("/tickets/{id}/start", ticketsHandler.transition(state.TicketStart)).Methods("POST")
	apiV1.HandleFunc("/tickets/{id}/submit-for-review", ticketsHandler.transition(state.TicketSubmitForReview)).Methods("POST")
	apiV1.HandleFunc("/tickets/{id}/approve", ticketsHandler.transition(state.TicketApprove)).Methods("POST")
	apiV1.HandleFunc("/tickets/{id}/request-changes", ticketsHandler.transition(state.TicketRequestChanges)).Methods("POST")
	apiV1.HandleFunc("/tickets/{id}/cancel", ticketsHandler.transition(state.TicketCancel)).Methods("POST")
	apiV1.HandleFunc("/tickets/{id}/subtasks", ticketsHandler.CreateSubtask).Methods("POST")
	apiV1.HandleFunc("/tickets/{id}/subtasks", ticketsHandler.ListSubtasks).Methods("GET")

	// Subtask endpoints
	apiV1.HandleFunc("/subtasks/{id}/start", ticketsHandler.transitionSubtask(state.SubtaskStart)).Methods("POST")
	apiV1.HandleFunc("/subtasks/{id}/complete", ticketsHandler.transitionSubtask(state.SubtaskComplete)).Methods("POST")
	apiV1.HandleFunc("/subtasks/{id}/skip", ticketsHandler.transitionSubtask(state.SubtaskSkip)).Methods("POST")

	// Job endpoints
	apiV1.HandleFunc("/jobs", jobsHandler.Enqueue).Methods("POST")
	apiV1.HandleFunc("/jobs", jobsHandler.List).Methods("GET")
	apiV1.HandleFunc("/jobs/{id}", jobsHandler.Get).Methods("GET")

	// Agent and run endpoints
	apiV1.HandleFunc("/agents", agentsHandler.List).Methods("GET")
	apiV1.HandleFunc("/agents/{id}", agentsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/runs", agentsHandler.ListRuns).Methods("GET")
	apiV1.HandleFunc("/runs/{id}", agentsHandler.GetRun).Methods("GET")

	return r
}
