package repomanager

import (
	"context"
	"database/sql"

	"github.com/keyfold/keyfold/internal/dbx"
	"github.com/keyfold/keyfold/internal/server/repositories/authlogs"
	"github.com/keyfold/keyfold/internal/server/repositories/refreshtokens"
	"github.com/keyfold/keyfold/internal/server/repositories/users"
	"github.com/keyfold/keyfold/internal/server/repositories/vaults"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Vaults(db dbx.DBTX) vaults.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	AuthLogs(db dbx.DBTX) authlogs.Repository
}
