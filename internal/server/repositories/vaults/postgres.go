// Package vaults provides a PostgreSQL-backed repository for encrypted vault
// snapshots, including the revision queries the sync service relies on and
// the per-user advisory lock that serializes concurrent uploads.
package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/dbx"
	"github.com/keyfold/keyfold/internal/server/models"
)

// PostgresRepository implements vault storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const vaultColumns = `id, user_id, blob, version, revision_number, created_at, updated_at`

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]models.Vault, error) {
	query := `
		SELECT ` + vaultColumns + ` FROM vaults
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	return r.queryVaults(ctx, query, userID)
}

func (r *PostgresRepository) ListByUserMinRevision(ctx context.Context, userID string, minRevision int64) ([]models.Vault, error) {
	query := `
		SELECT ` + vaultColumns + ` FROM vaults
		WHERE user_id = $1 AND revision_number > $2
		ORDER BY revision_number ASC, updated_at ASC
	`
	return r.queryVaults(ctx, query, userID, minRevision)
}

func (r *PostgresRepository) GetLatest(ctx context.Context, userID string) (*models.Vault, error) {
	query := `
		SELECT ` + vaultColumns + ` FROM vaults
		WHERE user_id = $1
		ORDER BY revision_number DESC, updated_at DESC
		LIMIT 1
	`
	v := &models.Vault{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&v.ID, &v.UserID, &v.Blob, &v.Version, &v.RevisionNumber, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) MaxRevision(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COALESCE(MAX(revision_number), 0) FROM vaults WHERE user_id = $1`

	var max int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&max); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return max, nil
}

func (r *PostgresRepository) CountAtRevision(ctx context.Context, userID string, revision int64) (int, error) {
	query := `SELECT COUNT(*) FROM vaults WHERE user_id = $1 AND revision_number = $2`

	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, revision).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, vault *models.Vault) (*models.Vault, error) {
	query := `
		INSERT INTO vaults (user_id, blob, version, revision_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		vault.UserID, vault.Blob, vault.Version, vault.RevisionNumber,
		vault.CreatedAt, vault.UpdatedAt).Scan(&vault.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return vault, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	// pgx binds a []string directly to a text[] parameter.
	query := `DELETE FROM vaults WHERE id = ANY($1)`

	if _, err := r.db.ExecContext(ctx, query, ids); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// LockUser takes a transaction-scoped advisory lock on the user's history so
// two concurrent uploads cannot both observe the same max revision. Released
// automatically at commit/rollback.
func (r *PostgresRepository) LockUser(ctx context.Context, userID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) queryVaults(ctx context.Context, query string, args ...any) ([]models.Vault, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select vaults: %w", err)
	}
	defer rows.Close()

	var result []models.Vault
	for rows.Next() {
		var v models.Vault
		if err := rows.Scan(&v.ID, &v.UserID, &v.Blob, &v.Version, &v.RevisionNumber, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
