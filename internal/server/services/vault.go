package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/dbx"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/retention"
	"github.com/keyfold/keyfold/internal/server/config"
	"github.com/keyfold/keyfold/internal/server/models"
	"github.com/keyfold/keyfold/internal/server/repositories/repomanager"
	"github.com/keyfold/keyfold/internal/server/repositories/vaults"
)

// SyncStatus is the outcome of a vault read or write. MergeRequired is not an
// error: it tells the client to reconcile locally before retrying.
type SyncStatus string

const (
	StatusOk            SyncStatus = "Ok"
	StatusMergeRequired SyncStatus = "MergeRequired"
)

// UploadResult reports whether the write was accepted and, if so, the
// server-assigned revision. On MergeRequired, Vaults carries the full current
// history the client must merge against.
type UploadResult struct {
	Status            SyncStatus
	NewRevisionNumber int64
	Vaults            []models.Vault
}

// GetResult carries the single current vault, or on MergeRequired the full
// set of vaults tied at the maximum revision.
type GetResult struct {
	Status SyncStatus
	Vault  *models.Vault
	Vaults []models.Vault
}

// VaultService orchestrates vault synchronization: revision assignment,
// stale-write detection, and retention pruning. All mutating work for one
// user runs under a per-user lock inside a single transaction.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	policy      retention.Policy
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *VaultService {
	return &VaultService{
		db:          db,
		repomanager: m,
		logger:      logger,
		policy:      defaultPolicy(cfg),
	}
}

// defaultPolicy builds the pruning policy from configured bucket counts. The
// conflict rule comes first so vaults tied at the current max revision always
// survive, whatever the other rules decide.
func defaultPolicy(cfg *config.Config) retention.Policy {
	return retention.Policy{Rules: []retention.Rule{
		retention.RevisionConflictRule{},
		retention.DailyRule{DaysToKeep: cfg.RetentionDaily},
		retention.WeeklyRule{WeeksToKeep: cfg.RetentionWeekly},
		retention.MonthlyRule{MonthsToKeep: cfg.RetentionMonthly},
		retention.VersionRule{VersionsToKeep: cfg.RetentionVersions},
		retention.RevisionRule{RevisionsToKeep: cfg.RetentionRevisions},
	}}
}

// Upload validates a client-submitted vault against the user's current
// revision and persists it.
//
// If clientRevisionNumber is behind the current maximum the write is refused
// with MergeRequired and the full history is returned instead; nothing is
// persisted. Otherwise the vault is stored at currentMax+1 (or 0 for the very
// first vault), then retention pruning runs and the delete-set is removed.
// All of it happens inside one transaction holding the per-user lock, so a
// concurrent reader never observes a half-applied upload.
func (s *VaultService) Upload(ctx context.Context, userID string, blob []byte, version string, clientRevisionNumber int64) (*UploadResult, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty vault blob: %w", common.ErrorInternal)
	}

	var result *UploadResult

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Vaults(tx)

		if err := repo.LockUser(ctx, userID); err != nil {
			return err
		}

		existing, err := repo.ListByUser(ctx, userID)
		if err != nil {
			return err
		}

		var currentMax int64
		for _, v := range existing {
			if v.RevisionNumber > currentMax {
				currentMax = v.RevisionNumber
			}
		}

		if len(existing) > 0 && clientRevisionNumber < currentMax {
			result = &UploadResult{Status: StatusMergeRequired, Vaults: existing}
			return nil
		}

		newRevision := currentMax
		if len(existing) > 0 {
			newRevision = currentMax + 1
		}

		now := time.Now().UTC()
		vault := &models.Vault{
			UserID:         userID,
			Blob:           blob,
			Version:        version,
			RevisionNumber: newRevision,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		vault, err = repo.Insert(ctx, vault)
		if err != nil {
			return err
		}

		toDelete := retention.ApplyRetention(s.policy, existing, now, vault)
		if len(toDelete) > 0 {
			ids := make([]string, 0, len(toDelete))
			for _, v := range toDelete {
				ids = append(ids, v.ID)
			}
			if err := repo.Delete(ctx, ids); err != nil {
				return err
			}
			s.logger.Debug(ctx, "pruned vault history", "user_id", userID, "deleted", len(ids))
		}

		result = &UploadResult{Status: StatusOk, NewRevisionNumber: newRevision}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("vault upload failed: %w", err)
	}

	return result, nil
}

// Get returns the vault with the highest revision. A user with no vaults yet
// gets an empty vault at revision 0. If several vaults are tied at the
// maximum revision the user is in a conflict state: the full tied set is
// returned with MergeRequired so the client reconciles instead of picking
// one arbitrarily.
func (s *VaultService) Get(ctx context.Context, userID string) (*GetResult, error) {
	repo := s.repomanager.Vaults(s.db)

	latest, err := repo.GetLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return &GetResult{Status: StatusOk, Vault: &models.Vault{
				UserID:         userID,
				Blob:           []byte{},
				RevisionNumber: 0,
			}}, nil
		}
		return nil, err
	}

	count, err := repo.CountAtRevision(ctx, userID, latest.RevisionNumber)
	if err != nil {
		return nil, err
	}
	if count > 1 {
		tied, err := s.vaultsAtMaxRevision(ctx, repo, userID, latest.RevisionNumber)
		if err != nil {
			return nil, err
		}
		return &GetResult{Status: StatusMergeRequired, Vaults: tied}, nil
	}

	return &GetResult{Status: StatusOk, Vault: latest}, nil
}

// VaultsToMerge returns every vault at the user's current maximum revision,
// newest first. Clients call this after a MergeRequired outcome.
func (s *VaultService) VaultsToMerge(ctx context.Context, userID string) ([]models.Vault, error) {
	repo := s.repomanager.Vaults(s.db)

	max, err := repo.MaxRevision(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.vaultsAtMaxRevision(ctx, repo, userID, max)
}

// VaultsSince returns every vault with a revision above sinceRevision, oldest
// first, so a reconciling client can replay what it missed.
func (s *VaultService) VaultsSince(ctx context.Context, userID string, sinceRevision int64) ([]models.Vault, error) {
	return s.repomanager.Vaults(s.db).ListByUserMinRevision(ctx, userID, sinceRevision)
}

// StatusResult is a cheap sync check: the current revision plus the SRP salt,
// so a client can detect both a remote change and a password change without
// downloading the blob.
type StatusResult struct {
	UserName       string
	Salt           string
	RevisionNumber int64
}

func (s *VaultService) Status(ctx context.Context, userID string) (*StatusResult, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	max, err := s.repomanager.Vaults(s.db).MaxRevision(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &StatusResult{UserName: user.UserName, Salt: user.Salt, RevisionNumber: max}, nil
}

// UserName resolves the owning user's name, stamped into wire payloads.
func (s *VaultService) UserName(ctx context.Context, userID string) (string, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.UserName, nil
}

// History returns the user's full retained vault history, newest first.
func (s *VaultService) History(ctx context.Context, userID string) ([]models.Vault, error) {
	return s.repomanager.Vaults(s.db).ListByUser(ctx, userID)
}

func (s *VaultService) vaultsAtMaxRevision(ctx context.Context, repo vaults.Repository, userID string, max int64) ([]models.Vault, error) {
	vaults, err := repo.ListByUserMinRevision(ctx, userID, max-1)
	if err != nil {
		return nil, err
	}
	// Newest first, matching the conflict rule's presentation order.
	for i, j := 0, len(vaults)-1; i < j; i, j = i+1, j-1 {
		vaults[i], vaults[j] = vaults[j], vaults[i]
	}
	return vaults, nil
}
