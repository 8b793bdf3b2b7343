package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const createQ = `(?s)^\s*INSERT\s+INTO\s+users\s*\(username,\s*salt,\s*verifier,\s*encryption_type,\s*encryption_settings\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*RETURNING\s+id\s*$`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id"}).AddRow("u-1")
	mock.ExpectQuery(createQ).
		WithArgs("alice", "aa11", "bb22", "Argon2id", `{"iterations":2}`).
		WillReturnRows(rows)

	u := &models.User{
		UserName:           "alice",
		Salt:               "aa11",
		Verifier:           "bb22",
		EncryptionType:     "Argon2id",
		EncryptionSettings: `{"iterations":2}`,
	}
	got, err := repo.Create(context.Background(), u)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != "u-1" || got.UserName != "alice" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(createQ).
		WithArgs("alice", "aa11", "bb22", "Argon2id", "{}").
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "users_username_key" (SQLSTATE 23505)`))

	_, err := repo.Create(context.Background(), &models.User{
		UserName: "alice", Salt: "aa11", Verifier: "bb22",
		EncryptionType: "Argon2id", EncryptionSettings: "{}",
	})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("expected ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(createQ).
		WithArgs("alice", "aa11", "bb22", "Argon2id", "{}").
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.User{
		UserName: "alice", Salt: "aa11", Verifier: "bb22",
		EncryptionType: "Argon2id", EncryptionSettings: "{}",
	})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

const getQ = `(?s)^\s*SELECT\s+id,\s*username,\s*salt,\s*verifier,\s*encryption_type,\s*encryption_settings,\s*two_factor_enabled,\s*two_factor_secret,\s*blocked,\s*created_at\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s*$`

func TestGetByUserName_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "username", "salt", "verifier", "encryption_type", "encryption_settings",
		"two_factor_enabled", "two_factor_secret", "blocked", "created_at",
	}).AddRow("u-1", "alice", "aa11", "bb22", "Argon2id", "{}", true, "SECRET", false, created)

	mock.ExpectQuery(getQ).WithArgs("alice").WillReturnRows(rows)

	got, err := repo.GetByUserName(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUserName error: %v", err)
	}
	if got.ID != "u-1" || got.Verifier != "bb22" || !got.TwoFactorEnabled {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByUserName_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(getQ).WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUserName(context.Background(), "nobody")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestUpdateAuthRecord_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*UPDATE\s+users\s+SET\s+salt\s*=\s*\$2,\s*verifier\s*=\s*\$3,\s*encryption_type\s*=\s*\$4,\s*encryption_settings\s*=\s*\$5\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).
		WithArgs("u-1", "s2", "v2", "Argon2id", "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateAuthRecord(context.Background(), "u-1", "s2", "v2", "Argon2id", "{}"); err != nil {
		t.Fatalf("UpdateAuthRecord error: %v", err)
	}
}

func TestUpdateTwoFactor_MissingUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*UPDATE\s+users\s+SET\s+two_factor_enabled\s*=\s*\$2,\s*two_factor_secret\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).
		WithArgs("u-404", true, "SECRET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateTwoFactor(context.Background(), "u-404", true, "SECRET")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}
