package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/dbx"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/server/models"
	authlogsrepo "github.com/keyfold/keyfold/internal/server/repositories/authlogs"
	refreshtokensrepo "github.com/keyfold/keyfold/internal/server/repositories/refreshtokens"
	usersrepo "github.com/keyfold/keyfold/internal/server/repositories/users"
	vaultsrepo "github.com/keyfold/keyfold/internal/server/repositories/vaults"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// --- in-memory repositories ---

type fakeUsersRepo struct {
	users     map[string]*models.User
	createErr error
	getErr    error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{users: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.users[u.UserName]; ok {
		return nil, common.ErrorAlreadyExists
	}
	u.ID = "user-" + u.UserName
	f.users[u.UserName] = u
	return u, nil
}

func (f *fakeUsersRepo) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[userName]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) UpdateAuthRecord(ctx context.Context, userID, salt, verifier, encryptionType, encryptionSettings string) error {
	for _, u := range f.users {
		if u.ID == userID {
			u.Salt, u.Verifier = salt, verifier
			u.EncryptionType, u.EncryptionSettings = encryptionType, encryptionSettings
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeUsersRepo) UpdateTwoFactor(ctx context.Context, userID string, enabled bool, secret string) error {
	for _, u := range f.users {
		if u.ID == userID {
			u.TwoFactorEnabled, u.TwoFactorSecret = enabled, secret
			return nil
		}
	}
	return common.ErrorNotFound
}

type fakeVaultsRepo struct {
	vaults    []models.Vault
	nextID    int
	deleted   []string
	insertErr error
	listErr   error
}

func (f *fakeVaultsRepo) ListByUser(ctx context.Context, userID string) ([]models.Vault, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Vault
	for _, v := range f.vaults {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeVaultsRepo) ListByUserMinRevision(ctx context.Context, userID string, minRevision int64) ([]models.Vault, error) {
	var out []models.Vault
	for _, v := range f.vaults {
		if v.UserID == userID && v.RevisionNumber > minRevision {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RevisionNumber != out[j].RevisionNumber {
			return out[i].RevisionNumber < out[j].RevisionNumber
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (f *fakeVaultsRepo) GetLatest(ctx context.Context, userID string) (*models.Vault, error) {
	var best *models.Vault
	for i := range f.vaults {
		v := &f.vaults[i]
		if v.UserID != userID {
			continue
		}
		if best == nil || v.RevisionNumber > best.RevisionNumber ||
			(v.RevisionNumber == best.RevisionNumber && v.UpdatedAt.After(best.UpdatedAt)) {
			best = v
		}
	}
	if best == nil {
		return nil, common.ErrorNotFound
	}
	out := *best
	return &out, nil
}

func (f *fakeVaultsRepo) MaxRevision(ctx context.Context, userID string) (int64, error) {
	var max int64
	for _, v := range f.vaults {
		if v.UserID == userID && v.RevisionNumber > max {
			max = v.RevisionNumber
		}
	}
	return max, nil
}

func (f *fakeVaultsRepo) CountAtRevision(ctx context.Context, userID string, revision int64) (int, error) {
	n := 0
	for _, v := range f.vaults {
		if v.UserID == userID && v.RevisionNumber == revision {
			n++
		}
	}
	return n, nil
}

func (f *fakeVaultsRepo) Insert(ctx context.Context, vault *models.Vault) (*models.Vault, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	vault.ID = "v-" + strconv.Itoa(f.nextID)
	f.vaults = append(f.vaults, *vault)
	return vault, nil
}

func (f *fakeVaultsRepo) Delete(ctx context.Context, ids []string) error {
	drop := map[string]struct{}{}
	for _, id := range ids {
		drop[id] = struct{}{}
		f.deleted = append(f.deleted, id)
	}
	var kept []models.Vault
	for _, v := range f.vaults {
		if _, ok := drop[v.ID]; !ok {
			kept = append(kept, v)
		}
	}
	f.vaults = kept
	return nil
}

func (f *fakeVaultsRepo) LockUser(ctx context.Context, userID string) error { return nil }

type fakeRefreshRepo struct {
	tokens    map[string]*models.RefreshToken
	createErr error
	findErr   error
	delErr    error
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(ctx context.Context, userID string, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefreshRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var deleted int64
	now := time.Now()
	for token, t := range f.tokens {
		if t.Expires.Before(now) {
			delete(f.tokens, token)
			deleted++
		}
	}
	return deleted, nil
}

type fakeAuthLogsRepo struct {
	logs []models.AuthLog
}

func (f *fakeAuthLogsRepo) Create(ctx context.Context, log *models.AuthLog) error {
	f.logs = append(f.logs, *log)
	return nil
}

func (f *fakeAuthLogsRepo) ListByUserName(ctx context.Context, userName string, limit int) ([]models.AuthLog, error) {
	var out []models.AuthLog
	for i := len(f.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if f.logs[i].UserName == userName {
			out = append(out, f.logs[i])
		}
	}
	return out, nil
}

type fakeRepoManager struct {
	u  *fakeUsersRepo
	v  *fakeVaultsRepo
	r  *fakeRefreshRepo
	al *fakeAuthLogsRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		u:  newFakeUsersRepo(),
		v:  &fakeVaultsRepo{},
		r:  newFakeRefreshRepo(),
		al: &fakeAuthLogsRepo{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) Vaults(db dbx.DBTX) vaultsrepo.Repository               { return m.v }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }
func (m *fakeRepoManager) AuthLogs(db dbx.DBTX) authlogsrepo.Repository           { return m.al }
