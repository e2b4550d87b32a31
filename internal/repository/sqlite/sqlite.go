// Package sqlite implements the repository interfaces on the internal DB
// wrapper. Multi-row invariants (question resolution, idea conversion) are
// enforced with transactions so concurrent workers in separate processes
// coordinate through the store alone.
package sqlite

import (
	"time"

	"log/slog"

	"github.com/garnizeh/orchestrator/internal/db"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn   *db.DB
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.ProjectRepo = (*SQLiteRepo)(nil)
var _ repository.IdeaRepo = (*SQLiteRepo)(nil)
var _ repository.QuestionRepo = (*SQLiteRepo)(nil)
var _ repository.TicketRepo = (*SQLiteRepo)(nil)
var _ repository.SubtaskRepo = (*SQLiteRepo)(nil)
var _ repository.AgentRunRepo = (*SQLiteRepo)(nil)
var _ repository.AgentRepo = (*SQLiteRepo)(nil)
var _ repository.UserRepo = (*SQLiteRepo)(nil)
var _ repository.SchemaRepo = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepo{conn: conn, logger: logger}
}

// Repository bundles the repo behind the aggregate interface struct.
func (r *SQLiteRepo) Repository() *repository.Repository {
	return &repository.Repository{
		Project:  r,
		Idea:     r,
		Question: r,
		Ticket:   r,
		Subtask:  r,
		AgentRun: r,
		Agent:    r,
		User:     r,
		Schema:   r,
	}
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}
