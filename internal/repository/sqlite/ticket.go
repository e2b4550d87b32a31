package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

const ticketColumns = `id, project_id, idea_id, title, description, type, status, priority, assigned_agent, spec, result, created_at, updated_at, completed_at`

func (r *SQLiteRepo) CreateTicket(ctx context.Context, t *models.Ticket) error {
	if t == nil {
		return fmt.Errorf("ticket is nil")
	}

	ts := now()
	t.Created, t.Updated = ts, ts
	if t.Status == "" {
		t.Status = models.TicketQueued
	}
	if t.Type == "" {
		t.Type = models.TicketFeature
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO tickets (id, project_id, idea_id, title, description, type, status, priority, assigned_agent, spec, result, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, nullable(t.IdeaID), t.Title, t.Description, t.Type, t.Status, t.Priority, nullable(t.AssignedAgent), rawOrNil(t.Spec), rawOrNil(t.Result), t.Created, t.Updated)
	return err
}

func (r *SQLiteRepo) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *SQLiteRepo) GetTicketByIdea(ctx context.Context, ideaID string) (*models.Ticket, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE idea_id = ? ORDER BY created_at ASC LIMIT 1`, ideaID)
	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *SQLiteRepo) ListTickets(ctx context.Context, projectID string, status models.TicketStatus) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	args := []any{}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	rows, err := r.conn.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTicketStatus writes a validated status, optionally replacing the
// result document and stamping completed_at on the first entry into done.
// The write is guarded on the status the transition was computed from so a
// stale writer affects zero rows instead of clobbering a concurrent update.
func (r *SQLiteRepo) UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus, result []byte, setCompleted bool) error {
	ts := now()
	query := `UPDATE tickets SET status = ?, updated_at = ?`
	args := []any{to, ts}
	if result != nil {
		query += `, result = ?`
		args = append(args, string(result))
	}
	if setCompleted {
		query += `, completed_at = COALESCE(completed_at, ?)`
		args = append(args, ts)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticket %s no longer in %q status: %w", id, from, repository.ErrConflict)
	}
	return nil
}

// ConvertIdea inserts the ticket built from an idea and flips the idea to
// converted; both writes commit together or neither does.
func (r *SQLiteRepo) ConvertIdea(ctx context.Context, t *models.Ticket) error {
	if t == nil || t.IdeaID == "" {
		return fmt.Errorf("conversion ticket needs an idea id")
	}

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	t.Created, t.Updated = ts, ts
	if t.Status == "" {
		t.Status = models.TicketQueued
	}
	if t.Type == "" {
		t.Type = models.TicketFeature
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tickets (id, project_id, idea_id, title, description, type, status, priority, spec, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.IdeaID, t.Title, t.Description, t.Type, t.Status, t.Priority, rawOrNil(t.Spec), t.Created, t.Updated); err != nil {
		return fmt.Errorf("insert conversion ticket: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE ideas SET status = 'converted', updated_at = ? WHERE id = ? AND status != 'converted'`, ts, t.IdeaID)
	if err != nil {
		return fmt.Errorf("flip idea %s converted: %w", t.IdeaID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// a concurrent conversion won; abort ours so only one ticket exists
		return fmt.Errorf("idea %s already converted", t.IdeaID)
	}

	return tx.Commit()
}

func (r *SQLiteRepo) DeleteTicket(ctx context.Context, id string) error {
	// subtasks go with the ticket via ON DELETE CASCADE
	_, err := r.conn.Exec(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	return err
}

func scanTicket(s rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	var ideaID, agent, spec, result sql.NullString
	var completedAt sql.NullInt64
	if err := s.Scan(&t.ID, &t.ProjectID, &ideaID, &t.Title, &t.Description, &t.Type, &t.Status, &t.Priority, &agent, &spec, &result, &t.Created, &t.Updated, &completedAt); err != nil {
		return nil, err
	}
	if ideaID.Valid {
		t.IdeaID = ideaID.String
	}
	if agent.Valid {
		t.AssignedAgent = agent.String
	}
	if spec.Valid {
		t.Spec = []byte(spec.String)
	}
	if result.Valid {
		t.Result = []byte(result.String)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Int64
	}
	return &t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
