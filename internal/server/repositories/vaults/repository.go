package vaults

import (
	"context"

	"github.com/keyfold/keyfold/internal/server/models"
)

type Repository interface {
	// ListByUser returns the full vault history, newest first by UpdatedAt.
	ListByUser(ctx context.Context, userID string) ([]models.Vault, error)

	// ListByUserMinRevision returns vaults with RevisionNumber > minRevision,
	// revision ascending. Used for merge downloads.
	ListByUserMinRevision(ctx context.Context, userID string, minRevision int64) ([]models.Vault, error)

	// GetLatest returns the vault with the highest revision number, or
	// common.ErrorNotFound for an empty history.
	GetLatest(ctx context.Context, userID string) (*models.Vault, error)

	// MaxRevision returns the user's current maximum revision number, with 0
	// meaning no vault exists yet.
	MaxRevision(ctx context.Context, userID string) (int64, error)

	// CountAtRevision reports how many vaults share the given revision.
	CountAtRevision(ctx context.Context, userID string, revision int64) (int, error)

	Insert(ctx context.Context, vault *models.Vault) (*models.Vault, error)
	Delete(ctx context.Context, ids []string) error

	// LockUser serializes mutating access to one user's vault history for the
	// duration of the enclosing transaction. Must be called on a
	// transactional handle.
	LockUser(ctx context.Context, userID string) error
}
