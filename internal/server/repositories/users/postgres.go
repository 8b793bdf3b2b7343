// Package users provides a PostgreSQL-backed repository for user accounts
// and their SRP auth records.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/dbx"
	"github.com/keyfold/keyfold/internal/server/models"
)

// PostgresRepository implements user storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user with its auth record. A duplicate username
// yields common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, salt, verifier, encryption_type, encryption_settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		user.UserName, user.Salt, user.Verifier, user.EncryptionType, user.EncryptionSettings).Scan(&user.ID)
	if err != nil {
		// 23505 = unique_violation; matched on message to stay driver-agnostic.
		if strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key") {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// GetByUserName returns the user row for the given username or
// common.ErrorNotFound.
func (r *PostgresRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	query := `
		SELECT id, username, salt, verifier, encryption_type, encryption_settings,
		       two_factor_enabled, two_factor_secret, blocked, created_at
		FROM users
		WHERE username = $1
	`
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, userName).Scan(
		&user.ID, &user.UserName, &user.Salt, &user.Verifier,
		&user.EncryptionType, &user.EncryptionSettings,
		&user.TwoFactorEnabled, &user.TwoFactorSecret, &user.Blocked, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// GetByID returns the user row for the given id or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, username, salt, verifier, encryption_type, encryption_settings,
		       two_factor_enabled, two_factor_secret, blocked, created_at
		FROM users
		WHERE id = $1
	`
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.UserName, &user.Salt, &user.Verifier,
		&user.EncryptionType, &user.EncryptionSettings,
		&user.TwoFactorEnabled, &user.TwoFactorSecret, &user.Blocked, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// UpdateAuthRecord replaces the SRP auth record, used on password change.
func (r *PostgresRepository) UpdateAuthRecord(ctx context.Context, userID, salt, verifier, encryptionType, encryptionSettings string) error {
	query := `
		UPDATE users
		SET salt = $2, verifier = $3, encryption_type = $4, encryption_settings = $5
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, salt, verifier, encryptionType, encryptionSettings)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

// UpdateTwoFactor sets the TOTP enrollment state for a user.
func (r *PostgresRepository) UpdateTwoFactor(ctx context.Context, userID string, enabled bool, secret string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = $2, two_factor_secret = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, enabled, secret)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
