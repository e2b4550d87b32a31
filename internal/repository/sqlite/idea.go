package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
	"github.com/garnizeh/orchestrator/pkg/repository"
)

const ideaColumns = `id, project_id, title, description, source, status, priority, metadata, created_at, updated_at`

func (r *SQLiteRepo) CreateIdea(ctx context.Context, i *models.Idea) error {
	if i == nil {
		return fmt.Errorf("idea is nil")
	}

	ts := now()
	i.Created, i.Updated = ts, ts
	if i.Status == "" {
		i.Status = models.IdeaPending
	}
	var meta any
	if len(i.Metadata) > 0 {
		meta = string(i.Metadata)
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO ideas (id, project_id, title, description, source, status, priority, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.ProjectID, i.Title, i.Description, i.Source, i.Status, i.Priority, meta, i.Created, i.Updated)
	return err
}

func (r *SQLiteRepo) GetIdea(ctx context.Context, id string) (*models.Idea, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id = ?`, id)
	i, err := scanIdea(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return i, nil
}

func (r *SQLiteRepo) ListIdeas(ctx context.Context, projectID string, status models.IdeaStatus) ([]models.Idea, error) {
	query := `SELECT ` + ideaColumns + ` FROM ideas WHERE 1=1`
	args := []any{}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority DESC, created_at DESC`

	rows, err := r.conn.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Idea
	for rows.Next() {
		i, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// UpdateIdeaStatus flips the idea from one validated status to the next. The
// guard on the current status makes the read-validate-write sequence safe
// across processes: a writer whose read went stale affects zero rows.
func (r *SQLiteRepo) UpdateIdeaStatus(ctx context.Context, id string, from, to models.IdeaStatus) error {
	res, err := r.conn.Exec(ctx, `UPDATE ideas SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, to, now(), id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("idea %s no longer in %q status: %w", id, from, repository.ErrConflict)
	}
	return nil
}

func (r *SQLiteRepo) UpdateIdeaMetadata(ctx context.Context, id string, metadata []byte) error {
	_, err := r.conn.Exec(ctx, `UPDATE ideas SET metadata = ?, updated_at = ? WHERE id = ?`, string(metadata), now(), id)
	return err
}

func (r *SQLiteRepo) DeleteIdea(ctx context.Context, id string) error {
	// questions go with the idea via ON DELETE CASCADE
	_, err := r.conn.Exec(ctx, `DELETE FROM ideas WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(s rowScanner) (*models.Idea, error) {
	var i models.Idea
	var source, meta sql.NullString
	if err := s.Scan(&i.ID, &i.ProjectID, &i.Title, &i.Description, &source, &i.Status, &i.Priority, &meta, &i.Created, &i.Updated); err != nil {
		return nil, err
	}
	if source.Valid {
		i.Source = source.String
	}
	if meta.Valid {
		i.Metadata = []byte(meta.String)
	}
	return &i, nil
}
