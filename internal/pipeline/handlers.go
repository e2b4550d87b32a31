package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/queue"
	"github.com/garnizeh/orchestrator/internal/state"
	"github.com/garnizeh/orchestrator/pkg/agent"
)

// Job types handled by the pipeline.
const (
	JobRefineIdea  = "refine_idea"
	JobConvertIdea = "convert_idea"
)

// RegisterHandlers wires the pipeline's job handlers into a worker pool.
func (s *Service) RegisterHandlers(p *queue.WorkerPool) {
	p.Register(JobRefineIdea, s.HandleRefineIdea)
	p.Register(JobConvertIdea, s.HandleConvertIdea)
}

// HandleRefineIdea runs the clarifier over an idea. An agent failure is a
// pipeline outcome, not a queue failure: the idea reverts to pending and the
// job completes with the error recorded in its result. Only infrastructure
// errors are returned, making the job eligible for retry.
func (s *Service) HandleRefineIdea(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.RefinePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode refine payload: %w", err)
	}

	idea, err := s.getIdea(ctx, p.IdeaID)
	if err != nil {
		return nil, err
	}

	// Jobs enqueued directly may find the idea not yet in refining.
	if idea.Status != models.IdeaRefining {
		next, terr := state.NextIdeaStatus(idea.Status, state.IdeaRefine)
		if terr != nil {
			// Not refinable anymore (rejected, converted...). Re-running the
			// job cannot help, so report the skip as the job's result.
			s.logger.Info("refine skipped", "idea_id", idea.ID, "status", idea.Status)
			return map[string]any{"idea_id": idea.ID, "skipped": true, "status": idea.Status}, nil
		}
		if err := s.repo.Idea.UpdateIdeaStatus(ctx, idea.ID, idea.Status, next); err != nil {
			return nil, err
		}
		idea.Status = next
	}

	answered, err := s.repo.Question.ListAnsweredQuestions(ctx, idea.ID)
	if err != nil {
		return nil, err
	}

	out, run, err := s.clarifier.Clarify(ctx, idea, answered)
	if err != nil {
		return nil, fmt.Errorf("clarify idea %s: %w", idea.ID, err)
	}

	if run.Status != models.RunSuccess {
		// Recovery path: the idea must not be stuck in refining.
		if err := s.repo.Idea.UpdateIdeaStatus(ctx, idea.ID, idea.Status, models.IdeaPending); err != nil {
			return nil, fmt.Errorf("revert idea %s: %w", idea.ID, err)
		}
		s.logger.Warn("clarifier failed, idea reverted to pending",
			"idea_id", idea.ID, "run_id", run.RunID, "err", run.Error)
		return map[string]any{"idea_id": idea.ID, "agent_error": run.Error, "reverted": true}, nil
	}

	if len(out.Questions) > 0 {
		return s.raiseQuestions(ctx, idea, out, run.RunID)
	}

	return s.approveRefined(ctx, idea, out, run.RunID)
}

func (s *Service) raiseQuestions(ctx context.Context, idea *models.Idea, out *agent.ClarifierOutput, runID string) (any, error) {
	qs := make([]models.Question, 0, len(out.Questions))
	for _, cq := range out.Questions {
		id, err := newID()
		if err != nil {
			return nil, err
		}
		qs = append(qs, models.Question{
			ID:       id,
			IdeaID:   idea.ID,
			AgentID:  "clarifier",
			Question: cq.Question,
			Context:  cq.Context,
			Status:   models.QuestionPending,
		})
	}
	if err := s.repo.Question.CreateQuestions(ctx, qs); err != nil {
		return nil, fmt.Errorf("create questions: %w", err)
	}

	next, err := state.NextIdeaStatus(idea.Status, state.IdeaQuestionsRaised)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Idea.UpdateIdeaStatus(ctx, idea.ID, idea.Status, next); err != nil {
		return nil, err
	}

	s.logger.Info("clarifier raised questions", "idea_id", idea.ID, "count", len(qs), "run_id", runID)
	return map[string]any{"idea_id": idea.ID, "questions": len(qs), "run_id": runID}, nil
}

func (s *Service) approveRefined(ctx context.Context, idea *models.Idea, out *agent.ClarifierOutput, runID string) (any, error) {
	next, err := state.NextIdeaStatus(idea.Status, state.IdeaNoQuestions)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Idea.UpdateIdeaStatus(ctx, idea.ID, idea.Status, next); err != nil {
		return nil, err
	}

	jobID, err := s.queue.Enqueue(ctx, JobConvertIdea, models.ConvertPayload{IdeaID: idea.ID}, queue.WithPriority(idea.Priority))
	if err != nil {
		return nil, fmt.Errorf("enqueue convert job: %w", err)
	}

	s.logger.Info("idea approved by clarifier", "idea_id", idea.ID, "convert_job_id", jobID, "run_id", runID)
	return map[string]any{"idea_id": idea.ID, "approved": true, "analysis": out.Analysis, "convert_job_id": jobID}, nil
}

// HandleConvertIdea performs the idempotent idea to ticket conversion.
func (s *Service) HandleConvertIdea(ctx context.Context, payload json.RawMessage) (any, error) {
	var p models.ConvertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode convert payload: %w", err)
	}

	ticket, err := s.ConvertIdea(ctx, p.IdeaID)
	if err != nil {
		return nil, err
	}

	return map[string]any{"idea_id": p.IdeaID, "ticket_id": ticket.ID}, nil
}
