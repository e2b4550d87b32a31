package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSchema returns the JSON schema document stored for version.
func (r *SQLiteRepo) GetSchema(ctx context.Context, version string) (string, error) {
	row := r.conn.QueryRow(ctx, `SELECT schema_json FROM agent_schemas WHERE version = ?`, version)
	var schemaJSON string
	if err := row.Scan(&schemaJSON); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("schema %s not found", version)
		}
		return "", err
	}
	return schemaJSON, nil
}
