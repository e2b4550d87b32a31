package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/orchestrator/internal/models"
)

func (r *SQLiteRepo) CreateProject(ctx context.Context, p *models.Project) error {
	if p == nil {
		return fmt.Errorf("project is nil")
	}

	ts := now()
	p.Created, p.Updated = ts, ts
	var cfg any
	if len(p.Config) > 0 {
		cfg = string(p.Config)
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO projects (id, name, description, path, config, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Path, cfg, p.Created, p.Updated)
	return err
}

func (r *SQLiteRepo) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, name, description, path, config, created_at, updated_at FROM projects WHERE id = ?`, id)
	var p models.Project
	var desc, cfg sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &desc, &p.Path, &cfg, &p.Created, &p.Updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	if cfg.Valid {
		p.Config = []byte(cfg.String)
	}
	return &p, nil
}

func (r *SQLiteRepo) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, name, description, path, config, created_at, updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		var p models.Project
		var desc, cfg sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.Path, &cfg, &p.Created, &p.Updated); err != nil {
			return nil, err
		}
		if desc.Valid {
			p.Description = desc.String
		}
		if cfg.Valid {
			p.Config = []byte(cfg.String)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) DeleteProject(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}
