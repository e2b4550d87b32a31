// Package repository defines the persistence interfaces the pipeline core
// depends on. Implementations live under internal/repository.
package repository

import (
	"context"
	"errors"

	"github.com/garnizeh/orchestrator/internal/models"
)

// ErrConflict reports a guarded status write that found the row in a
// different state than the one the transition was computed from. The caller
// lost a race with another writer and must re-read before retrying.
var ErrConflict = errors.New("concurrent update conflict")

type ProjectRepo interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

type IdeaRepo interface {
	CreateIdea(ctx context.Context, i *models.Idea) error
	GetIdea(ctx context.Context, id string) (*models.Idea, error)
	ListIdeas(ctx context.Context, projectID string, status models.IdeaStatus) ([]models.Idea, error)
	// UpdateIdeaStatus writes the status only when the row still holds from,
	// the status the caller validated its transition against. A row that
	// moved on concurrently (or disappeared) yields ErrConflict.
	UpdateIdeaStatus(ctx context.Context, id string, from, to models.IdeaStatus) error
	UpdateIdeaMetadata(ctx context.Context, id string, metadata []byte) error
	// DeleteIdea removes the idea and cascades to its questions.
	DeleteIdea(ctx context.Context, id string) error
}

type QuestionRepo interface {
	CreateQuestions(ctx context.Context, qs []models.Question) error
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestions(ctx context.Context, ideaID string, status models.QuestionStatus) ([]models.Question, error)
	ListAnsweredQuestions(ctx context.Context, ideaID string) ([]models.AnsweredQuestion, error)
	// ResolveQuestion answers or skips a pending question and, in the same
	// transaction, flips the parent idea questions -> refining when the last
	// pending sibling was just resolved. Returns the updated question and
	// whether the idea transitioned.
	ResolveQuestion(ctx context.Context, id string, status models.QuestionStatus, answer string) (*models.Question, bool, error)
}

type TicketRepo interface {
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByIdea(ctx context.Context, ideaID string) (*models.Ticket, error)
	ListTickets(ctx context.Context, projectID string, status models.TicketStatus) ([]models.Ticket, error)
	// UpdateTicketStatus is guarded the same way as UpdateIdeaStatus: the
	// write lands only when the row still holds from.
	UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus, result []byte, setCompleted bool) error
	// ConvertIdea inserts the ticket and flips its idea to converted in one
	// transaction; neither write survives alone.
	ConvertIdea(ctx context.Context, t *models.Ticket) error
	// DeleteTicket removes the ticket and cascades to its subtasks.
	DeleteTicket(ctx context.Context, id string) error
}

type SubtaskRepo interface {
	CreateSubtask(ctx context.Context, s *models.Subtask) error
	GetSubtask(ctx context.Context, id string) (*models.Subtask, error)
	ListSubtasks(ctx context.Context, ticketID string) ([]models.Subtask, error)
	UpdateSubtaskStatus(ctx context.Context, id string, from, to models.SubtaskStatus, setCompleted bool) error
}

type AgentRunRepo interface {
	CreateAgentRun(ctx context.Context, r *models.AgentRun) error
	FinishAgentRun(ctx context.Context, r *models.AgentRun) error
	GetAgentRun(ctx context.Context, id string) (*models.AgentRun, error)
	ListAgentRuns(ctx context.Context, ideaID, ticketID string) ([]models.AgentRun, error)
}

type AgentRepo interface {
	EnsureAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
}

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type SchemaRepo interface {
	GetSchema(ctx context.Context, version string) (string, error)
}

// Repository aggregates the per-entity interfaces for convenient injection.
type Repository struct {
	Project  ProjectRepo
	Idea     IdeaRepo
	Question QuestionRepo
	Ticket   TicketRepo
	Subtask  SubtaskRepo
	AgentRun AgentRunRepo
	Agent    AgentRepo
	User     UserRepo
	Schema   SchemaRepo
}
