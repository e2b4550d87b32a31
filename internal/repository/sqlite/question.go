package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
)

const questionColumns = `id, idea_id, agent_id, question, context, answer, status, created_at, answered_at`

func (r *SQLiteRepo) CreateQuestions(ctx context.Context, qs []models.Question) error {
	if len(qs) == 0 {
		return nil
	}

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	for idx := range qs {
		q := &qs[idx]
		q.Created = ts
		if q.Status == "" {
			q.Status = models.QuestionPending
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions (id, idea_id, agent_id, question, context, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.IdeaID, q.AgentID, q.Question, q.Context, q.Status, q.Created); err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepo) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return q, nil
}

func (r *SQLiteRepo) ListQuestions(ctx context.Context, ideaID string, status models.QuestionStatus) ([]models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE 1=1`
	args := []any{}
	if ideaID != "" {
		query += ` AND idea_id = ?`
		args = append(args, ideaID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.conn.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) ListAnsweredQuestions(ctx context.Context, ideaID string) ([]models.AnsweredQuestion, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT question, answer, context FROM questions WHERE idea_id = ? AND status = 'answered' ORDER BY created_at ASC, id ASC`, ideaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AnsweredQuestion
	for rows.Next() {
		var aq models.AnsweredQuestion
		var answer, qctx sql.NullString
		if err := rows.Scan(&aq.Question, &answer, &qctx); err != nil {
			return nil, err
		}
		if answer.Valid {
			aq.Answer = answer.String
		}
		if qctx.Valid {
			aq.Context = qctx.String
		}
		out = append(out, aq)
	}
	return out, rows.Err()
}

// ResolveQuestion answers or skips a pending question. The "last sibling
// resolved" guard and the idea flip questions -> refining run in the same
// transaction as the answer write, so two concurrent answers cannot both see
// a non-empty pending set and leave the idea stuck.
func (r *SQLiteRepo) ResolveQuestion(ctx context.Context, id string, status models.QuestionStatus, answer string) (*models.Question, bool, error) {
	if status != models.QuestionAnswered && status != models.QuestionSkipped {
		return nil, false, fmt.Errorf("invalid resolution status %q", status)
	}

	tx, err := r.conn.BeginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, fmt.Errorf("question %s not found", id)
		}
		return nil, false, err
	}
	if q.Status != models.QuestionPending {
		return nil, false, fmt.Errorf("question %s already %s", id, q.Status)
	}

	ts := now()
	if status == models.QuestionAnswered {
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET answer = ?, status = 'answered', answered_at = ? WHERE id = ?`, answer, ts, id); err != nil {
			return nil, false, err
		}
		q.Answer = answer
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET status = 'skipped', answered_at = ? WHERE id = ?`, ts, id); err != nil {
			return nil, false, err
		}
	}
	q.Status = status
	q.AnsweredAt = &ts

	var pending int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM questions WHERE idea_id = ? AND status = 'pending'`, q.IdeaID).Scan(&pending); err != nil {
		return nil, false, err
	}

	ideaMoved := false
	if pending == 0 {
		res, err := tx.ExecContext(ctx, `UPDATE ideas SET status = 'refining', updated_at = ? WHERE id = ? AND status = 'questions'`, ts, q.IdeaID)
		if err != nil {
			return nil, false, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			ideaMoved = true
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return q, ideaMoved, nil
}

func scanQuestion(s rowScanner) (*models.Question, error) {
	var q models.Question
	var qctx, answer sql.NullString
	var answeredAt sql.NullInt64
	if err := s.Scan(&q.ID, &q.IdeaID, &q.AgentID, &q.Question, &qctx, &answer, &q.Status, &q.Created, &answeredAt); err != nil {
		return nil, err
	}
	if qctx.Valid {
		q.Context = qctx.String
	}
	if answer.Valid {
		q.Answer = answer.String
	}
	if answeredAt.Valid {
		q.AnsweredAt = &answeredAt.Int64
	}
	return &q, nil
}
