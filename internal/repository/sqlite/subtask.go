package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

const subtaskColumns = `id, ticket_id, title, description, status, order_index, created_at, completed_at`

func (r *SQLiteRepo) CreateSubtask(ctx context.Context, s *models.Subtask) error {
	if s == nil {
		return fmt.Errorf("subtask is nil")
	}

	s.Created = now()
	if s.Status == "" {
		s.Status = models.SubtaskPending
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO subtasks (id, ticket_id, title, description, status, order_index, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TicketID, s.Title, s.Description, s.Status, s.OrderIndex, s.Created)
	return err
}

func (r *SQLiteRepo) GetSubtask(ctx context.Context, id string) (*models.Subtask, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id = ?`, id)
	s, err := scanSubtask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SQLiteRepo) ListSubtasks(ctx context.Context, ticketID string) ([]models.Subtask, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE ticket_id = ? ORDER BY order_index ASC, created_at ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Subtask
	for rows.Next() {
		s, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSubtaskStatus carries the same expected-status guard as the idea and
// ticket writers.
func (r *SQLiteRepo) UpdateSubtaskStatus(ctx context.Context, id string, from, to models.SubtaskStatus, setCompleted bool) error {
	query := `UPDATE subtasks SET status = ?`
	args := []any{to}
	if setCompleted {
		query += `, completed_at = COALESCE(completed_at, ?)`
		args = append(args, now())
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subtask %s no longer in %q status: %w", id, from, repository.ErrConflict)
	}
	return nil
}

func scanSubtask(s rowScanner) (*models.Subtask, error) {
	var st models.Subtask
	var desc sql.NullString
	var completedAt sql.NullInt64
	if err := s.Scan(&st.ID, &st.TicketID, &st.Title, &desc, &st.Status, &st.OrderIndex, &st.Created, &completedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		st.Description = desc.String
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.Int64
	}
	return &st, nil
}
