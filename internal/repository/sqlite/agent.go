package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
)

// EnsureAgent inserts the agent record if it does not exist yet. Pipeline
// handlers call this before attaching runs and questions to the agent id.
func (r *SQLiteRepo) EnsureAgent(ctx context.Context, a *models.Agent) error {
	if a == nil {
		return fmt.Errorf("agent is nil")
	}

	ts := now()
	_, err := r.conn.Exec(ctx, `INSERT INTO agents (id, project_id, name, description, type, prompt, model, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		a.ID, nullable(a.ProjectID), a.Name, a.Description, a.Type, a.Prompt, a.Model, boolToInt(a.IsActive), ts, ts)
	return err
}

const agentColumns = `id, project_id, name, description, type, prompt, model, is_active, created_at, updated_at`

func (r *SQLiteRepo) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (r *SQLiteRepo) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAgent(s rowScanner) (*models.Agent, error) {
	var a models.Agent
	var projectID sql.NullString
	var active int
	if err := s.Scan(&a.ID, &projectID, &a.Name, &a.Description, &a.Type, &a.Prompt, &a.Model, &active, &a.Created, &a.Updated); err != nil {
		return nil, err
	}
	if projectID.Valid {
		a.ProjectID = projectID.String
	}
	a.IsActive = active != 0
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
