package authlogs

import (
	"context"
	"fmt"

	"github.com/keyfold/keyfold/internal/dbx"
	"github.com/keyfold/keyfold/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, log *models.AuthLog) error {
	query := `INSERT INTO auth_logs (username, event_type, success, failure_reason, ip_address, user_agent, client)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		log.UserName, log.EventType, log.Success, log.FailureReason,
		log.IPAddress, log.UserAgent, log.Client)
	if err != nil {
		return fmt.Errorf("error saving auth log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUserName(ctx context.Context, userName string, limit int) ([]models.AuthLog, error) {
	query := `SELECT id, username, event_type, success, failure_reason, ip_address, user_agent, client, created_at
		FROM auth_logs WHERE username = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userName, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing auth logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AuthLog
	for rows.Next() {
		var l models.AuthLog
		err := rows.Scan(&l.ID, &l.UserName, &l.EventType, &l.Success, &l.FailureReason,
			&l.IPAddress, &l.UserAgent, &l.Client, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning auth log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing auth logs: %w", err)
	}
	return logs, nil
}
