package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"

	"go.uber.org/goleak"

	migrations "github.com/garnizeh/orchestrator/db"
	"github.com/garnizeh/orchestrator/internal/db"
	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/internal/pipeline"
	"github.com/garnizeh/orchestrator/internal/queue"
	"github.com/garnizeh/orchestrator/internal/repository/sqlite"
	"github.com/garnizeh/orchestrator/internal/state"
	"github.com/garnizeh/orchestrator/pkg/agent"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubClarifier returns canned clarifier outcomes so pipeline behavior can
// be driven without a model.
type stubClarifier struct {
	out   *agent.ClarifierOutput
	res   *agent.Result
	err   error
	calls int32
}

func (s *stubClarifier) Clarify(ctx context.Context, idea *models.Idea, answered []models.AnsweredQuestion) (*agent.ClarifierOutput, *agent.Result, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.out, s.res, s.err
}

func successRun() *agent.Result {
	return &agent.Result{Status: models.RunSuccess, RunID: "run-1"}
}

func newTestService(t *testing.T, clar pipeline.Clarifier) (*pipeline.Service, *repository.Repository, *queue.Queue) {
	t.Helper()
	ctx := context.Background()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	d, err := db.New(ctx, dsn, slog.Default())
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := db.Migrate(ctx, d, migrations.Migrations, migrations.SeedFiles); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := sqlite.New(d, slog.Default()).Repository()
	q := queue.New(d, slog.Default())
	q.Backoff = func(int) time.Duration { return 0 }

	return pipeline.New(repo, q, clar, slog.Default()), repo, q
}

func seedIdea(t *testing.T, svc *pipeline.Service) *models.Idea {
	t.Helper()
	ctx := context.Background()

	project := &models.Project{Name: "proj", Path: "/tmp/proj"}
	if _, err := svc.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	idea, err := svc.CreateIdea(ctx, &models.Idea{
		ProjectID:   project.ID,
		Title:       "Add request caching",
		Description: "Cache hot GET endpoints to cut DB load",
		Priority:    3,
	})
	if err != nil {
		t.Fatalf("create idea: %v", err)
	}
	return idea
}

func seedQuestions(t *testing.T, repo *repository.Repository, ideaID string, n int) []models.Question {
	t.Helper()
	ctx := context.Background()

	if err := repo.Idea.UpdateIdeaStatus(ctx, ideaID, models.IdeaPending, models.IdeaQuestions); err != nil {
		t.Fatalf("set idea to questions: %v", err)
	}

	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = models.Question{
			ID:       fmt.Sprintf("q-%d", i),
			IdeaID:   ideaID,
			AgentID:  "clarifier",
			Question: fmt.Sprintf("question %d", i),
			Status:   models.QuestionPending,
		}
	}
	if err := repo.Question.CreateQuestions(ctx, qs); err != nil {
		t.Fatalf("create questions: %v", err)
	}
	return qs
}

func TestRefineIdeaEnqueuesJob(t *testing.T) {
	ctx := context.Background()
	svc, _, q := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)

	updated, jobID, err := svc.RefineIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("RefineIdea: %v", err)
	}
	if updated.Status != models.IdeaRefining {
		t.Fatalf("status = %s", updated.Status)
	}

	job, err := q.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Type != pipeline.JobRefineIdea || job.Priority != idea.Priority {
		t.Fatalf("job = %+v", job)
	}
}

func TestApproveFromRejectedFailsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)

	if _, err := svc.RejectIdea(ctx, idea.ID); err != nil {
		t.Fatalf("RejectIdea: %v", err)
	}

	_, err := svc.ApproveIdea(ctx, idea.ID, false)
	if !state.IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	got, err := repo.Idea.GetIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("get idea: %v", err)
	}
	if got.Status != models.IdeaRejected {
		t.Fatalf("idea mutated: %s", got.Status)
	}

	tickets, err := repo.Ticket.ListTickets(ctx, idea.ProjectID, "")
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("tickets created: %d", len(tickets))
	}
}

// A reject that read the idea before a concurrent approve committed must
// lose: its write carries the status it read, and the store refuses it.
func TestStaleRejectCannotOverrideConversion(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)

	ticket, err := svc.ApproveIdea(ctx, idea.ID, false)
	if err != nil {
		t.Fatalf("ApproveIdea: %v", err)
	}

	// the stale writer still believes the idea is pending
	err = repo.Idea.UpdateIdeaStatus(ctx, idea.ID, models.IdeaPending, models.IdeaRejected)
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("stale reject: err = %v, want ErrConflict", err)
	}

	got, err := repo.Idea.GetIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("get idea: %v", err)
	}
	if got.Status != models.IdeaConverted {
		t.Fatalf("idea status = %s, want converted", got.Status)
	}
	live, err := repo.Ticket.GetTicketByIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if live == nil || live.ID != ticket.ID {
		t.Fatalf("ticket = %+v, want %s", live, ticket.ID)
	}
}

func TestApproveBlockedByPendingQuestions(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)
	seedQuestions(t, repo, idea.ID, 1)

	_, err := svc.ApproveIdea(ctx, idea.ID, false)
	if !errors.Is(err, pipeline.ErrUnansweredQuestions) {
		t.Fatalf("expected ErrUnansweredQuestions, got %v", err)
	}

	// force bypasses the gate
	ticket, err := svc.ApproveIdea(ctx, idea.ID, true)
	if err != nil {
		t.Fatalf("forced approve: %v", err)
	}
	if ticket.IdeaID != idea.ID || ticket.Status != models.TicketQueued {
		t.Fatalf("ticket = %+v", ticket)
	}

	got, _ := repo.Idea.GetIdea(ctx, idea.ID)
	if got.Status != models.IdeaConverted {
		t.Fatalf("idea status = %s", got.Status)
	}
}

func TestAnswerLastQuestionMovesIdeaToRefining(t *testing.T) {
	ctx := context.Background()
	svc, repo, q := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)
	qs := seedQuestions(t, repo, idea.ID, 2)

	_, moved, err := svc.AnswerQuestion(ctx, qs[0].ID, "use redis")
	if err != nil {
		t.Fatalf("answer first: %v", err)
	}
	if moved {
		t.Fatal("idea moved with a question still pending")
	}
	got, _ := repo.Idea.GetIdea(ctx, idea.ID)
	if got.Status != models.IdeaQuestions {
		t.Fatalf("idea status = %s", got.Status)
	}

	_, moved, err = svc.SkipQuestion(ctx, qs[1].ID)
	if err != nil {
		t.Fatalf("skip last: %v", err)
	}
	if !moved {
		t.Fatal("idea did not move after last question")
	}
	got, _ = repo.Idea.GetIdea(ctx, idea.ID)
	if got.Status != models.IdeaRefining {
		t.Fatalf("idea status = %s", got.Status)
	}

	// resolving the last question schedules another refinement round
	jobs, err := q.List(ctx, models.JobPending, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Type != pipeline.JobRefineIdea {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestConvertIdeaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)

	first, err := svc.ConvertIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("first convert: %v", err)
	}
	second, err := svc.ConvertIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("second convert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ticket ids differ: %s vs %s", first.ID, second.ID)
	}

	tickets, err := repo.Ticket.ListTickets(ctx, idea.ProjectID, "")
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("tickets = %d", len(tickets))
	}
}

func TestConvertedSpecEmbedsAnsweredQuestions(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)
	qs := seedQuestions(t, repo, idea.ID, 1)

	if _, _, err := svc.AnswerQuestion(ctx, qs[0].ID, "sqlite is fine"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	ticket, err := svc.ConvertIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	var spec models.TicketSpec
	if err := json.Unmarshal(ticket.Spec, &spec); err != nil {
		t.Fatalf("unmarshal spec: %v", err)
	}
	if spec.OriginalIdea.Title != idea.Title {
		t.Fatalf("spec title = %q", spec.OriginalIdea.Title)
	}
	if len(spec.AnsweredQuestions) != 1 || spec.AnsweredQuestions[0].Answer != "sqlite is fine" {
		t.Fatalf("answered questions = %+v", spec.AnsweredQuestions)
	}
}

func TestHandleRefineIdeaRaisesQuestions(t *testing.T) {
	ctx := context.Background()
	clar := &stubClarifier{
		out: &agent.ClarifierOutput{
			Analysis: "needs detail",
			Questions: []agent.ClarifierQuestion{
				{Question: "Which endpoints?", Context: "scope"},
				{Question: "What TTL?"},
			},
		},
		res: successRun(),
	}
	svc, repo, _ := newTestService(t, clar)
	idea := seedIdea(t, svc)

	if _, _, err := svc.RefineIdea(ctx, idea.ID); err != nil {
		t.Fatalf("RefineIdea: %v", err)
	}

	payload, _ := json.Marshal(models.RefinePayload{IdeaID: idea.ID})
	if _, err := svc.HandleRefineIdea(ctx, payload); err != nil {
		t.Fatalf("HandleRefineIdea: %v", err)
	}

	got, _ := repo.Idea.GetIdea(ctx, idea.ID)
	if got.Status != models.IdeaQuestions {
		t.Fatalf("idea status = %s", got.Status)
	}
	pending, err := repo.Question.ListQuestions(ctx, idea.ID, models.QuestionPending)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending questions = %d", len(pending))
	}
}

func TestHandleRefineIdeaApprovesAndEnqueuesConvert(t *testing.T) {
	ctx := context.Background()
	clar := &stubClarifier{
		out: &agent.ClarifierOutput{Analysis: "clear", Questions: []agent.ClarifierQuestion{}},
		res: successRun(),
	}
	svc, repo, q := newTestService(t, clar)
	idea := seedIdea(t, svc)

	if _, _, err := svc.RefineIdea(ctx, idea.ID); err != nil {
		t.Fatalf("RefineIdea: %v", err)
	}

	payload, _ := json.Marshal(models.RefinePayload{IdeaID: idea.ID})
	if _, err := svc.HandleRefineIdea(ctx, payload); err != nil {
		t.Fatalf("HandleRefineIdea: %v", err)
	}

	got, _ := repo.Idea.GetIdea(ctx, idea.ID)
	if got.Status != models.IdeaApproved {
		t.Fatalf("idea status = %s", got.Status)
	}

	jobs, err := q.List(ctx, models.JobPending, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	var found bool
	for _, j := range jobs {
		if j.Type == pipeline.JobConvertIdea {
			found = true
		}
	}
	if !found {
		t.Fatalf("convert job not enqueued, pending: %+v", jobs)
	}
}

func TestHandleRefineIdeaRevertsOnAgentFailure(t *testing.T) {
	ctx := context.Background()
	clar := &stubClarifier{res: &agent.Result{Status: models.RunFailed, Error: "model unavailable", RunID: "run-9"}}
	svc, repo, _ := newTestService(t, clar)
	idea := seedIdea(t, svc)

	if _, _, err := svc.RefineIdea(ctx, idea.ID); err != nil {
		t.Fatalf("RefineIdea: %v", err)
	}

	payload, _ := json.Marshal(models.RefinePayload{IdeaID: idea.ID})
	result, err := svc.HandleRefineIdea(ctx, payload)
	if err != nil {
		t.Fatalf("agent failure must not fail the job: %v", err)
	}

	res, ok := result.(map[string]any)
	if !ok || res["agent_error"] != "model unavailable" {
		t.Fatalf("result = %+v", result)
	}

	got, _ := repo.Idea.GetIdea(ctx, idea.ID)
	if got.Status != models.IdeaPending {
		t.Fatalf("idea status = %s, want pending", got.Status)
	}
}

func TestHandleRefineIdeaSkipsTerminalIdea(t *testing.T) {
	ctx := context.Background()
	clar := &stubClarifier{}
	svc, _, _ := newTestService(t, clar)
	idea := seedIdea(t, svc)

	if _, err := svc.RejectIdea(ctx, idea.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	payload, _ := json.Marshal(models.RefinePayload{IdeaID: idea.ID})
	result, err := svc.HandleRefineIdea(ctx, payload)
	if err != nil {
		t.Fatalf("HandleRefineIdea: %v", err)
	}
	res, ok := result.(map[string]any)
	if !ok || res["skipped"] != true {
		t.Fatalf("result = %+v", result)
	}
	if got := atomic.LoadInt32(&clar.calls); got != 0 {
		t.Fatalf("clarifier called %d times for a terminal idea", got)
	}
}

func TestRequestChangesAppendsToResultHistory(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)

	ticket, err := svc.ConvertIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if _, err := svc.TransitionTicket(ctx, ticket.ID, state.TicketStart, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.TransitionTicket(ctx, ticket.ID, state.TicketSubmitForReview, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// first review round stores a result blob
	prior := []byte(`{"summary":"initial implementation"}`)
	if err := repo.Ticket.UpdateTicketStatus(ctx, ticket.ID, models.TicketReview, models.TicketReview, prior, false); err != nil {
		t.Fatalf("store prior result: %v", err)
	}

	updated, err := svc.TransitionTicket(ctx, ticket.ID, state.TicketRequestChanges, "missing tests")
	if err != nil {
		t.Fatalf("request changes: %v", err)
	}
	if updated.Status != models.TicketInProgress {
		t.Fatalf("status = %s", updated.Status)
	}

	var history []json.RawMessage
	if err := json.Unmarshal(updated.Result, &history); err != nil {
		t.Fatalf("result is not a history array: %v (%s)", err, updated.Result)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d: %s", len(history), updated.Result)
	}
	if string(history[0]) != string(prior) {
		t.Fatalf("prior result lost: %s", history[0])
	}
	var entry struct {
		ChangeRequest models.ChangeRequest `json:"change_request"`
	}
	if err := json.Unmarshal(history[1], &entry); err != nil {
		t.Fatalf("unmarshal change request: %v", err)
	}
	if entry.ChangeRequest.Feedback != "missing tests" || entry.ChangeRequest.RequestedAt == 0 {
		t.Fatalf("change request = %+v", entry.ChangeRequest)
	}
}

func TestApproveTicketSetsCompletedAt(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)

	ticket, err := svc.ConvertIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	for _, action := range []state.TicketAction{state.TicketStart, state.TicketSubmitForReview, state.TicketApprove} {
		if ticket, err = svc.TransitionTicket(ctx, ticket.ID, action, ""); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	if ticket.Status != models.TicketDone || ticket.CompletedAt == nil {
		t.Fatalf("ticket = %+v", ticket)
	}
}

func TestSubtaskLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, &stubClarifier{})
	idea := seedIdea(t, svc)

	ticket, err := svc.ConvertIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	st, err := svc.CreateSubtask(ctx, &models.Subtask{TicketID: ticket.ID, Title: "write cache layer"})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	st, err = svc.TransitionSubtask(ctx, st.ID, state.SubtaskStart)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Status != models.SubtaskInProgress {
		t.Fatalf("status = %s", st.Status)
	}

	st, err = svc.TransitionSubtask(ctx, st.ID, state.SubtaskComplete)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if st.Status != models.SubtaskDone || st.CompletedAt == nil {
		t.Fatalf("subtask = %+v", st)
	}

	// done is terminal
	if _, err := svc.TransitionSubtask(ctx, st.ID, state.SubtaskStart); !state.IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

// Full loop: idea through refinement, clarifier approval, and conversion,
// driven by a real worker pool.
func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	clar := &stubClarifier{
		out: &agent.ClarifierOutput{Analysis: "good to go", Questions: []agent.ClarifierQuestion{}},
		res: successRun(),
	}
	svc, repo, q := newTestService(t, clar)
	idea := seedIdea(t, svc)

	pool := queue.NewWorkerPool(q, slog.Default(), 2, 10*time.Millisecond)
	svc.RegisterHandlers(pool)
	pool.Start(ctx)
	defer pool.Stop()

	if _, _, err := svc.RefineIdea(ctx, idea.ID); err != nil {
		t.Fatalf("RefineIdea: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, err := repo.Idea.GetIdea(ctx, idea.ID)
		if err != nil {
			t.Fatalf("get idea: %v", err)
		}
		if got.Status == models.IdeaConverted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("idea never converted, status = %s", got.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	ticket, err := repo.Ticket.GetTicketByIdea(ctx, idea.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Status != models.TicketQueued {
		t.Fatalf("ticket status = %s", ticket.Status)
	}
}
