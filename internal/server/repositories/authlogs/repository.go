package authlogs

import (
	"context"

	"github.com/keyfold/keyfold/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, log *models.AuthLog) error
	ListByUserName(ctx context.Context, userName string, limit int) ([]models.AuthLog, error)
}
