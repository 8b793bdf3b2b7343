package users

import (
	"context"

	"github.com/keyfold/keyfold/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateAuthRecord(ctx context.Context, userID, salt, verifier, encryptionType, encryptionSettings string) error
	UpdateTwoFactor(ctx context.Context, userID string, enabled bool, secret string) error
}
