package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
)

const agentRunColumns = `id, agent_id, ticket_id, idea_id, status, input, output, tokens_used, cost_usd, started_at, completed_at, error`

func (r *SQLiteRepo) CreateAgentRun(ctx context.Context, run *models.AgentRun) error {
	if run == nil {
		return fmt.Errorf("agent run is nil")
	}

	if run.Status == "" {
		run.Status = models.RunRunning
	}
	if run.StartedAt == 0 {
		run.StartedAt = now()
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO agent_runs (id, agent_id, ticket_id, idea_id, status, input, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AgentID, nullable(run.TicketID), nullable(run.IdeaID), run.Status, rawOrNil(run.Input), run.StartedAt)
	return err
}

// FinishAgentRun records the terminal status of a run; rows are otherwise
// append-only.
func (r *SQLiteRepo) FinishAgentRun(ctx context.Context, run *models.AgentRun) error {
	if run == nil {
		return fmt.Errorf("agent run is nil")
	}

	ts := now()
	run.CompletedAt = &ts
	_, err := r.conn.Exec(ctx, `UPDATE agent_runs SET status = ?, output = ?, tokens_used = ?, cost_usd = ?, error = ?, completed_at = ? WHERE id = ?`,
		run.Status, rawOrNil(run.Output), run.TokensUsed, run.CostUSD, nullable(run.Error), ts, run.ID)
	return err
}

func (r *SQLiteRepo) GetAgentRun(ctx context.Context, id string) (*models.AgentRun, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+agentRunColumns+` FROM agent_runs WHERE id = ?`, id)
	run, err := scanAgentRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (r *SQLiteRepo) ListAgentRuns(ctx context.Context, ideaID, ticketID string) ([]models.AgentRun, error) {
	query := `SELECT ` + agentRunColumns + ` FROM agent_runs WHERE 1=1`
	args := []any{}
	if ideaID != "" {
		query += ` AND idea_id = ?`
		args = append(args, ideaID)
	}
	if ticketID != "" {
		query += ` AND ticket_id = ?`
		args = append(args, ticketID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := r.conn.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AgentRun
	for rows.Next() {
		run, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanAgentRun(s rowScanner) (*models.AgentRun, error) {
	var run models.AgentRun
	var ticketID, ideaID, input, output, runErr sql.NullString
	var completedAt sql.NullInt64
	if err := s.Scan(&run.ID, &run.AgentID, &ticketID, &ideaID, &run.Status, &input, &output, &run.TokensUsed, &run.CostUSD, &run.StartedAt, &completedAt, &runErr); err != nil {
		return nil, err
	}
	if ticketID.Valid {
		run.TicketID = ticketID.String
	}
	if ideaID.Valid {
		run.IdeaID = ideaID.String
	}
	if input.Valid {
		run.Input = []byte(input.String)
	}
	if output.Valid {
		run.Output = []byte(output.String)
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Int64
	}
	return &run, nil
}
