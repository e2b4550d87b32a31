// Package pipeline implements the idea -> ticket lifecycle: the entity
// mutators the HTTP layer calls and the job handlers the worker pool runs.
// Every status change goes through the state tables; multi-row changes go
// through the repository's transactional operations.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/queue"
	"github.com/garnizeh/orchestrator/internal/state"
	"github.com/garnizeh/orchestrator/pkg/agent"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

// ErrUnansweredQuestions rejects an approve on an idea that still has
// pending questions and was not forced.
var ErrUnansweredQuestions = errors.New("idea has unanswered questions")

// ErrNotFound reports a missing entity.
var ErrNotFound = errors.New("not found")

// Clarifier is the slice of the agent layer the refine handler needs.
type Clarifier interface {
	Clarify(ctx context.Context, idea *models.Idea, answered []models.AnsweredQuestion) (*agent.ClarifierOutput, *agent.Result, error)
}

// Service exposes the pipeline's entity mutators and job handlers.
type Service struct {
	repo      *repository.Repository
	queue     *queue.Queue
	clarifier Clarifier
	logger    *slog.Logger
}

func New(repo *repository.Repository, q *queue.Queue, clarifier Clarifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, queue: q, clarifier: clarifier, logger: logger}
}

func (s *Service) getIdea(ctx context.Context, id string) (*models.Idea, error) {
	idea, err := s.repo.Idea.GetIdea(ctx, id)
	if err != nil {
		return nil, err
	}
	if idea == nil {
		return nil, fmt.Errorf("idea %s: %w", id, ErrNotFound)
	}
	return idea, nil
}

func (s *Service) getTicket(ctx context.Context, id string) (*models.Ticket, error) {
	t, err := s.repo.Ticket.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *Service) getSubtask(ctx context.Context, id string) (*models.Subtask, error) {
	st, err := s.repo.Subtask.GetSubtask(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("subtask %s: %w", id, ErrNotFound)
	}
	return st, nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// CreateProject registers a project.
func (s *Service) CreateProject(ctx context.Context, p *models.Project) (*models.Project, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	p.ID = id
	if err := s.repo.Project.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateIdea stores a new idea in pending status.
func (s *Service) CreateIdea(ctx context.Context, i *models.Idea) (*models.Idea, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	i.ID = id
	i.Status = models.IdeaPending
	if err := s.repo.Idea.CreateIdea(ctx, i); err != nil {
		return nil, err
	}
	return i, nil
}

// RefineIdea moves the idea into refining and enqueues the refine job.
func (s *Service) RefineIdea(ctx context.Context, ideaID string) (*models.Idea, string, error) {
	idea, err := s.getIdea(ctx, ideaID)
	if err != nil {
		return nil, "", err
	}

	next, err := state.NextIdeaStatus(idea.Status, state.IdeaRefine)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.Idea.UpdateIdeaStatus(ctx, idea.ID, idea.Status, next); err != nil {
		return nil, "", err
	}
	idea.Status = next

	jobID, err := s.queue.Enqueue(ctx, JobRefineIdea, models.RefinePayload{IdeaID: idea.ID}, queue.WithPriority(idea.Priority))
	if err != nil {
		return nil, "", fmt.Errorf("enqueue refine job: %w", err)
	}

	s.logger.Info("idea sent to refinement", "idea_id", idea.ID, "job_id", jobID)
	return idea, jobID, nil
}

// RejectIdea terminates the idea.
func (s *Service) RejectIdea(ctx context.Context, ideaID string) (*models.Idea, error) {
	idea, err := s.getIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	next, err := state.NextIdeaStatus(idea.Status, state.IdeaReject)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Idea.UpdateIdeaStatus(ctx, idea.ID, idea.Status, next); err != nil {
		return nil, err
	}
	idea.Status = next
	return idea, nil
}

// ApproveIdea converts the idea into a ticket. Pending questions block the
// approve unless force is set; a forced bypass is logged.
func (s *Service) ApproveIdea(ctx context.Context, ideaID string, force bool) (*models.Ticket, error) {
	idea, err := s.getIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	if _, err := state.NextIdeaStatus(idea.Status, state.IdeaApprove); err != nil {
		return nil, err
	}

	pending, err := s.repo.Question.ListQuestions(ctx, idea.ID, models.QuestionPending)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		if !force {
			return nil, fmt.Errorf("%w: %d pending", ErrUnansweredQuestions, len(pending))
		}
		s.logger.Warn("approving idea with unanswered questions",
			"idea_id", idea.ID, "pending_questions", len(pending))
	}

	return s.convert(ctx, idea)
}

// AnswerQuestion records an answer. When the last pending question of the
// idea is resolved the idea returns to refining and another refinement round
// is enqueued.
func (s *Service) AnswerQuestion(ctx context.Context, questionID, answer string) (*models.Question, bool, error) {
	return s.resolveQuestion(ctx, questionID, models.QuestionAnswered, answer)
}

// SkipQuestion marks a question as skipped without an answer.
func (s *Service) SkipQuestion(ctx context.Context, questionID string) (*models.Question, bool, error) {
	return s.resolveQuestion(ctx, questionID, models.QuestionSkipped, "")
}

func (s *Service) resolveQuestion(ctx context.Context, questionID string, status models.QuestionStatus, answer string) (*models.Question, bool, error) {
	existing, err := s.repo.Question.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}

	q, ideaMoved, err := s.repo.Question.ResolveQuestion(ctx, questionID, status, answer)
	if err != nil {
		return nil, false, err
	}

	if ideaMoved {
		jobID, err := s.queue.Enqueue(ctx, JobRefineIdea, models.RefinePayload{IdeaID: q.IdeaID})
		if err != nil {
			return nil, false, fmt.Errorf("enqueue refine job: %w", err)
		}
		s.logger.Info("all questions resolved, idea back to refinement",
			"idea_id", q.IdeaID, "job_id", jobID)
	}

	return q, ideaMoved, nil
}

// ConvertIdea converts the idea into a ticket. Idempotent: an already
// converted idea returns its existing ticket.
func (s *Service) ConvertIdea(ctx context.Context, ideaID string) (*models.Ticket, error) {
	idea, err := s.getIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	if idea.Status == models.IdeaConverted {
		ticket, err := s.repo.Ticket.GetTicketByIdea(ctx, idea.ID)
		if err != nil {
			return nil, err
		}
		if ticket == nil {
			return nil, fmt.Errorf("idea %s converted but its ticket is missing", idea.ID)
		}
		return ticket, nil
	}
	if _, err := state.NextIdeaStatus(idea.Status, state.IdeaApprove); err != nil {
		return nil, err
	}

	return s.convert(ctx, idea)
}

// convert builds the ticket spec from the idea and its answered questions
// and commits the insert plus the idea flip in one transaction.
func (s *Service) convert(ctx context.Context, idea *models.Idea) (*models.Ticket, error) {
	answered, err := s.repo.Question.ListAnsweredQuestions(ctx, idea.ID)
	if err != nil {
		return nil, err
	}

	spec := models.TicketSpec{AnsweredQuestions: answered, Metadata: idea.Metadata}
	spec.OriginalIdea.Title = idea.Title
	spec.OriginalIdea.Description = idea.Description
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket spec: %w", err)
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	ticket := &models.Ticket{
		ID:          id,
		ProjectID:   idea.ProjectID,
		IdeaID:      idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Type:        models.TicketFeature,
		Status:      models.TicketQueued,
		Priority:    idea.Priority,
		Spec:        specJSON,
	}
	if err := s.repo.Ticket.ConvertIdea(ctx, ticket); err != nil {
		return nil, err
	}

	s.logger.Info("idea converted", "idea_id", idea.ID, "ticket_id", ticket.ID)
	return ticket, nil
}

// CreateTicket stores a ticket created directly, outside idea conversion.
func (s *Service) CreateTicket(ctx context.Context, t *models.Ticket) (*models.Ticket, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	t.ID = id
	t.Status = models.TicketQueued
	if t.Type == "" {
		t.Type = models.TicketFeature
	}
	if err := s.repo.Ticket.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// TransitionTicket applies a lifecycle action to a ticket. Approving sets
// completed_at; request_changes appends the feedback to the ticket's result
// history without clearing prior entries.
func (s *Service) TransitionTicket(ctx context.Context, ticketID string, action state.TicketAction, feedback string) (*models.Ticket, error) {
	ticket, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	next, err := state.NextTicketStatus(ticket.Status, action)
	if err != nil {
		return nil, err
	}

	result := ticket.Result
	if action == state.TicketRequestChanges {
		result, err = appendChangeRequest(ticket.Result, feedback)
		if err != nil {
			return nil, err
		}
	}

	setCompleted := next == models.TicketDone
	if err := s.repo.Ticket.UpdateTicketStatus(ctx, ticket.ID, ticket.Status, next, result, setCompleted); err != nil {
		return nil, err
	}

	return s.getTicket(ctx, ticketID)
}

// appendChangeRequest appends a change-request entry to the result history.
// A non-array existing result becomes the first history entry.
func appendChangeRequest(result json.RawMessage, feedback string) (json.RawMessage, error) {
	var history []json.RawMessage
	if len(result) > 0 {
		if err := json.Unmarshal(result, &history); err != nil {
			history = []json.RawMessage{result}
		}
	}

	entry, err := json.Marshal(map[string]any{
		"change_request": models.ChangeRequest{
			Feedback:    feedback,
			RequestedAt: time.Now().UTC().UnixMilli(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal change request: %w", err)
	}
	history = append(history, entry)

	return json.Marshal(history)
}

// CreateSubtask appends a subtask to a ticket.
func (s *Service) CreateSubtask(ctx context.Context, st *models.Subtask) (*models.Subtask, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	st.ID = id
	st.Status = models.SubtaskPending
	if err := s.repo.Subtask.CreateSubtask(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// TransitionSubtask applies a lifecycle action to a subtask. Completing sets
// completed_at.
func (s *Service) TransitionSubtask(ctx context.Context, subtaskID string, action state.SubtaskAction) (*models.Subtask, error) {
	st, err := s.getSubtask(ctx, subtaskID)
	if err != nil {
		return nil, err
	}

	next, err := state.NextSubtaskStatus(st.Status, action)
	if err != nil {
		return nil, err
	}

	setCompleted := next == models.SubtaskDone
	if err := s.repo.Subtask.UpdateSubtaskStatus(ctx, st.ID, st.Status, next, setCompleted); err != nil {
		return nil, err
	}

	return s.getSubtask(ctx, subtaskID)
}
