package models

import (
	"encoding/json"
	"time"
)

// IdeaStatus is the lifecycle state of an Idea.
type IdeaStatus string

const (
	IdeaPending   IdeaStatus = "pending"
	IdeaRefining  IdeaStatus = "refining"
	IdeaQuestions IdeaStatus = "questions"
	IdeaApproved  IdeaStatus = "approved"
	IdeaRejected  IdeaStatus = "rejected"
	IdeaConverted IdeaStatus = "converted"
)

// Terminal reports whether no further pipeline transitions are possible.
func (s IdeaStatus) Terminal() bool {
	return s == IdeaRejected || s == IdeaConverted
}

// TicketStatus is the lifecycle state of a Ticket.
type TicketStatus string

const (
	TicketQueued     TicketStatus = "queued"
	TicketInProgress TicketStatus = "in_progress"
	TicketReview     TicketStatus = "review"
	TicketBlocked    TicketStatus = "blocked"
	TicketDone       TicketStatus = "done"
	TicketCancelled  TicketStatus = "cancelled"
)

func (s TicketStatus) Terminal() bool {
	return s == TicketDone || s == TicketCancelled
}

// SubtaskStatus is the lifecycle state of a Subtask.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskDone       SubtaskStatus = "done"
	SubtaskSkipped    SubtaskStatus = "skipped"
)

// QuestionStatus is the state of a clarifying question.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionSkipped  QuestionStatus = "skipped"
)

// JobStatus is the state of a queued job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// RunStatus is the state of an agent run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// TicketType classifies a ticket.
type TicketType string

const (
	TicketFeature  TicketType = "feature"
	TicketBugfix   TicketType = "bugfix"
	TicketRefactor TicketType = "refactor"
	TicketChore    TicketType = "chore"
)

type Project struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Path        string          `json:"path" db:"path"`
	Config      json.RawMessage `json:"config,omitempty" db:"config"`
	Created     int64           `json:"created_at" db:"created_at"`
	Updated     int64           `json:"updated_at" db:"updated_at"`
}

type Idea struct {
	ID          string          `json:"id" db:"id"`
	ProjectID   string          `json:"project_id" db:"project_id"`
	Title       string          `json:"title" db:"title" validate:"required"`
	Description string          `json:"description" db:"description" validate:"required"`
	Source      string          `json:"source,omitempty" db:"source"`
	Status      IdeaStatus      `json:"status" db:"status"`
	Priority    int             `json:"priority" db:"priority"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Created     int64           `json:"created_at" db:"created_at"`
	Updated     int64           `json:"updated_at" db:"updated_at"`
}

type Question struct {
	ID         string         `json:"id" db:"id"`
	IdeaID     string         `json:"idea_id" db:"idea_id"`
	AgentID    string         `json:"agent_id" db:"agent_id"`
	Question   string         `json:"question" db:"question"`
	Context    string         `json:"context,omitempty" db:"context"`
	Answer     string         `json:"answer,omitempty" db:"answer"`
	Status     QuestionStatus `json:"status" db:"status"`
	Created    int64          `json:"created_at" db:"created_at"`
	AnsweredAt *int64         `json:"answered_at,omitempty" db:"answered_at"`
}

type Agent struct {
	ID          string `json:"id" db:"id"`
	ProjectID   string `json:"project_id,omitempty" db:"project_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Type        string `json:"type" db:"type"`
	Prompt      string `json:"prompt" db:"prompt"`
	Model       string `json:"model" db:"model"`
	IsActive    bool   `json:"is_active" db:"is_active"`
	Created     int64  `json:"created_at" db:"created_at"`
	Updated     int64  `json:"updated_at" db:"updated_at"`
}

type Ticket struct {
	ID            string          `json:"id" db:"id"`
	ProjectID     string          `json:"project_id" db:"project_id"`
	IdeaID        string          `json:"idea_id,omitempty" db:"idea_id"`
	Title         string          `json:"title" db:"title" validate:"required"`
	Description   string          `json:"description" db:"description" validate:"required"`
	Type          TicketType      `json:"type" db:"type"`
	Status        TicketStatus    `json:"status" db:"status"`
	Priority      int             `json:"priority" db:"priority"`
	AssignedAgent string          `json:"assigned_agent,omitempty" db:"assigned_agent"`
	Spec          json.RawMessage `json:"spec,omitempty" db:"spec"`
	Result        json.RawMessage `json:"result,omitempty" db:"result"`
	Created       int64           `json:"created_at" db:"created_at"`
	Updated       int64           `json:"updated_at" db:"updated_at"`
	CompletedAt   *int64          `json:"completed_at,omitempty" db:"completed_at"`
}

type Subtask struct {
	ID          string        `json:"id" db:"id"`
	TicketID    string        `json:"ticket_id" db:"ticket_id"`
	Title       string        `json:"title" db:"title" validate:"required"`
	Description string        `json:"description,omitempty" db:"description"`
	Status      SubtaskStatus `json:"status" db:"status"`
	OrderIndex  int           `json:"order_index" db:"order_index"`
	Created     int64         `json:"created_at" db:"created_at"`
	CompletedAt *int64        `json:"completed_at,omitempty" db:"completed_at"`
}

type AgentRun struct {
	ID          string          `json:"id" db:"id"`
	AgentID     string          `json:"agent_id" db:"agent_id"`
	TicketID    string          `json:"ticket_id,omitempty" db:"ticket_id"`
	IdeaID      string          `json:"idea_id,omitempty" db:"idea_id"`
	Status      RunStatus       `json:"status" db:"status"`
	Input       json.RawMessage `json:"input,omitempty" db:"input"`
	Output      json.RawMessage `json:"output,omitempty" db:"output"`
	TokensUsed  int             `json:"tokens_used" db:"tokens_used"`
	CostUSD     float64         `json:"cost_usd" db:"cost_usd"`
	StartedAt   int64           `json:"started_at" db:"started_at"`
	CompletedAt *int64          `json:"completed_at,omitempty" db:"completed_at"`
	Error       string          `json:"error,omitempty" db:"error"`
}

// Job is a unit of asynchronous work tracked by the queue. Payload is opaque
// to the queue and interpreted only by the registered handler.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// User is an operator account for the HTTP API.
type User struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name" validate:"required"`
	Email        string `json:"email" db:"email" validate:"required,email"`
	PasswordHash string `json:"password_hash,omitempty" db:"password_hash"`
	Created      int64  `json:"created_at" db:"created_at"`
	Updated      int64  `json:"updated_at" db:"updated_at"`
}

// RefinePayload is the typed payload of a refine_idea job.
type RefinePayload struct {
	IdeaID string `json:"idea_id"`
}

// ConvertPayload is the typed payload of a convert_idea job.
type ConvertPayload struct {
	IdeaID string `json:"idea_id"`
}

// TicketSpec is the document stored on a ticket when an idea is converted.
type TicketSpec struct {
	OriginalIdea struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"original_idea"`
	AnsweredQuestions []AnsweredQuestion `json:"answered_questions"`
	Metadata          json.RawMessage    `json:"metadata,omitempty"`
}

// AnsweredQuestion is one resolved clarification embedded in a ticket spec.
type AnsweredQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Context  string `json:"context,omitempty"`
}

// ChangeRequest is appended to a ticket's result history when a reviewer
// sends it back to in_progress.
type ChangeRequest struct {
	Feedback    string `json:"feedback"`
	RequestedAt int64  `json:"requested_at"`
}
