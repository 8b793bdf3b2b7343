// Package services contains the server orchestration layer: the SRP
// authentication flow and encrypted vault synchronization, composed from the
// repositories and the crypto packages.
package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/dbx"
	"github.com/keyfold/keyfold/internal/kdf"
	"github.com/keyfold/keyfold/internal/logging"
	"github.com/keyfold/keyfold/internal/server/auth"
	"github.com/keyfold/keyfold/internal/server/config"
	"github.com/keyfold/keyfold/internal/server/models"
	"github.com/keyfold/keyfold/internal/server/repositories/repomanager"
	"github.com/keyfold/keyfold/internal/srp"
	"github.com/keyfold/keyfold/internal/totp"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginChallenge is the server's answer to a login initiation: everything the
// client needs to derive its session proof. Unknown usernames get a
// deterministic fake challenge so the response does not reveal whether the
// account exists.
type LoginChallenge struct {
	Salt               string
	ServerPublic       string
	EncryptionType     string
	EncryptionSettings string
}

// LoginResult is the outcome of proof validation. When TwoFactorRequired is
// set the tokens are withheld until the TOTP code is verified.
type LoginResult struct {
	ServerProof       string
	TwoFactorRequired bool
	Tokens            *TokenPair
}

// AuthService implements the server half of the SRP exchange plus token
// management. Ephemeral handshake state lives in an in-memory TTL cache and
// is discarded as soon as the exchange completes.
type AuthService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	logger                       logging.Logger
	sessions                     *loginSessionCache
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, cfg *config.Config) *AuthService {
	return &AuthService{
		db:                           db,
		repomanager:                  m,
		logger:                       logger,
		sessions:                     newLoginSessionCache(cfg.LoginSessionTTL),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

// Register creates a user with its SRP auth record. The server never sees the
// master password: the client derives salt and verifier locally and submits
// only those.
func (s *AuthService) Register(ctx context.Context, username, salt, verifier, encryptionType, encryptionSettings string, meta models.RequestMetadata) (*models.User, error) {
	if _, err := kdf.ParseSettings(encryptionSettings); err != nil {
		return nil, fmt.Errorf("invalid encryption settings: %w", err)
	}
	if encryptionType != kdf.AlgorithmArgon2id && encryptionType != kdf.AlgorithmPBKDF2 {
		return nil, kdf.ErrUnsupportedAlgorithm
	}

	user := &models.User{
		UserName:           username,
		Salt:               salt,
		Verifier:           verifier,
		EncryptionType:     encryptionType,
		EncryptionSettings: encryptionSettings,
	}

	repo := s.repomanager.Users(s.db)

	user, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.audit(ctx, username, models.AuthEventRegister, true, "", meta)
	return user, nil
}

// LoginInitiate starts an SRP exchange: it returns the user's salt, KDF
// parameters, and a fresh server ephemeral. For unknown or blocked accounts a
// deterministic fake challenge is returned instead, and proof validation is
// guaranteed to fail later.
func (s *AuthService) LoginInitiate(ctx context.Context, username string) (*LoginChallenge, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByUserName(ctx, username)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorInternal
	}

	if err != nil || user.Blocked {
		return s.fakeChallenge(username)
	}

	ephemeral, err := srp.GenerateServerEphemeral(user.Verifier)
	if err != nil {
		return nil, common.ErrorInternal
	}

	s.sessions.put(username, &loginSession{
		userID:       user.ID,
		salt:         user.Salt,
		verifier:     user.Verifier,
		serverSecret: ephemeral.Secret,
		serverPublic: ephemeral.Public,
	})

	return &LoginChallenge{
		Salt:               user.Salt,
		ServerPublic:       ephemeral.Public,
		EncryptionType:     user.EncryptionType,
		EncryptionSettings: user.EncryptionSettings,
	}, nil
}

// fakeChallenge builds a stable decoy for a username that must not be
// revealed as unknown. The salt and verifier are derived from an HMAC over
// the username, so a probing client sees the same salt on every attempt,
// just like a real account.
func (s *AuthService) fakeChallenge(username string) (*LoginChallenge, error) {
	mac := hmac.New(sha256.New, s.jwtSecret)
	mac.Write([]byte("login-salt:" + username))
	salt := hex.EncodeToString(mac.Sum(nil)[:16])

	mac.Reset()
	mac.Write([]byte("login-verifier:" + username))
	fakePrivate := hex.EncodeToString(mac.Sum(nil))

	verifier, err := srp.DeriveVerifier(fakePrivate)
	if err != nil {
		return nil, common.ErrorInternal
	}

	ephemeral, err := srp.GenerateServerEphemeral(verifier)
	if err != nil {
		return nil, common.ErrorInternal
	}

	s.sessions.put(username, &loginSession{
		salt:         salt,
		verifier:     verifier,
		serverSecret: ephemeral.Secret,
		serverPublic: ephemeral.Public,
		fake:         true,
	})

	return &LoginChallenge{
		Salt:               salt,
		ServerPublic:       ephemeral.Public,
		EncryptionType:     kdf.AlgorithmArgon2id,
		EncryptionSettings: kdf.DefaultSettings().Encode(),
	}, nil
}

// Refresh tokens issued without rememberMe expire within a day regardless of
// the configured validity.
const shortSessionRefreshValidity = 24 * time.Hour

// LoginValidate checks the client's session proof against the cached
// exchange. On success it either returns tokens, or signals that a TOTP code
// is still required.
func (s *AuthService) LoginValidate(ctx context.Context, username, clientPublic, clientProof string, rememberMe bool, meta models.RequestMetadata) (*LoginResult, error) {
	session, ok := s.sessions.get(username)
	if !ok {
		s.audit(ctx, username, models.AuthEventLogin, false, models.AuthFailureUnknownUser, meta)
		return nil, common.ErrorUnauthorized
	}

	srpSession, err := srp.DeriveServerSession(session.serverSecret, clientPublic, session.salt, username, session.verifier, clientProof)
	if err != nil || session.fake {
		s.sessions.remove(username)
		reason := models.AuthFailureProofMismatch
		if session.fake {
			reason = models.AuthFailureUnknownUser
		}
		s.audit(ctx, username, models.AuthEventLogin, false, reason, meta)
		return nil, common.ErrorUnauthorized
	}

	user, err := s.repomanager.Users(s.db).GetByUserName(ctx, username)
	if err != nil {
		s.sessions.remove(username)
		return nil, common.ErrorInternal
	}

	if user.TwoFactorEnabled {
		// Keep the exchange alive: the TOTP step finishes it.
		session.sessionProof = srpSession.Proof
		session.rememberMe = rememberMe
		s.sessions.put(username, session)
		return &LoginResult{ServerProof: srpSession.Proof, TwoFactorRequired: true}, nil
	}

	s.sessions.remove(username)

	tokens, err := s.generateTokenPair(ctx, user.ID, rememberMe)
	if err != nil {
		return nil, common.ErrorInternal
	}

	s.audit(ctx, username, models.AuthEventLogin, true, "", meta)
	return &LoginResult{ServerProof: srpSession.Proof, Tokens: tokens}, nil
}

// LoginValidateTwoFactor finishes an exchange that passed proof validation
// but still owes a TOTP code.
func (s *AuthService) LoginValidateTwoFactor(ctx context.Context, username, code string, meta models.RequestMetadata) (*LoginResult, error) {
	session, ok := s.sessions.get(username)
	if !ok || session.sessionProof == "" {
		s.audit(ctx, username, models.AuthEventTwoFactor, false, models.AuthFailureInvalidTwoFactor, meta)
		return nil, common.ErrorUnauthorized
	}

	user, err := s.repomanager.Users(s.db).GetByUserName(ctx, username)
	if err != nil {
		s.sessions.remove(username)
		return nil, common.ErrorInternal
	}

	if !totp.Verify(code, user.TwoFactorSecret, time.Now()) {
		s.audit(ctx, username, models.AuthEventTwoFactor, false, models.AuthFailureInvalidTwoFactor, meta)
		return nil, common.ErrTwoFactorCodeInvalid
	}

	proof := session.sessionProof
	rememberMe := session.rememberMe
	s.sessions.remove(username)

	tokens, err := s.generateTokenPair(ctx, user.ID, rememberMe)
	if err != nil {
		return nil, common.ErrorInternal
	}

	s.audit(ctx, username, models.AuthEventTwoFactor, true, "", meta)
	return &LoginResult{ServerProof: proof, Tokens: tokens}, nil
}

// RefreshToken rotates a refresh token: the old one is deleted and a new pair
// is issued in the same transaction.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}

	if token.Expires.Before(time.Now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	var tokenPair *TokenPair

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := s.repomanager.RefreshTokens(tx)

		if err := txRepo.Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}

		tokenPair, err = s.generateTokenPairTx(ctx, tx, token.UserID, true)
		if err != nil {
			return fmt.Errorf("error generating token pair: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return tokenPair, nil
}

// EnableTwoFactor generates and stores a TOTP secret for the user and returns
// the provisioning URI for the authenticator app.
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID string) (string, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return "", common.ErrorInternal
	}

	if err := repo.UpdateTwoFactor(ctx, userID, true, secret); err != nil {
		return "", err
	}

	return totp.ProvisionURI(user.UserName, "keyfold", secret), nil
}

// DisableTwoFactor clears the user's TOTP enrollment.
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID string) error {
	return s.repomanager.Users(s.db).UpdateTwoFactor(ctx, userID, false, "")
}

// ChangeAuthRecord replaces the user's SRP auth record after a password
// change. As with registration the client derives the new salt and verifier
// locally; only those and the KDF parameters reach the server.
func (s *AuthService) ChangeAuthRecord(ctx context.Context, userID, salt, verifier, encryptionType, encryptionSettings string, meta models.RequestMetadata) error {
	if _, err := kdf.ParseSettings(encryptionSettings); err != nil {
		return fmt.Errorf("invalid encryption settings: %w", err)
	}
	if encryptionType != kdf.AlgorithmArgon2id && encryptionType != kdf.AlgorithmPBKDF2 {
		return kdf.ErrUnsupportedAlgorithm
	}

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := repo.UpdateAuthRecord(ctx, userID, salt, verifier, encryptionType, encryptionSettings); err != nil {
		return err
	}

	// Old access tokens keep working until they expire; the SRP exchange
	// itself only ever sees the new verifier from here on.
	s.sessions.remove(user.UserName)
	s.audit(ctx, user.UserName, models.AuthEventAuthChange, true, "", meta)
	return nil
}

// Activity returns the user's recent authentication audit records, newest
// first.
func (s *AuthService) Activity(ctx context.Context, userID string, limit int) ([]models.AuthLog, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repomanager.AuthLogs(s.db).ListByUserName(ctx, user.UserName, limit)
}

// UserIDFromToken parses and validates an access token.
func (s *AuthService) UserIDFromToken(tokenString string) (string, error) {
	return auth.GetUserIDFromToken(tokenString, s.jwtSecret)
}

func (s *AuthService) generateTokenPair(ctx context.Context, userID string, rememberMe bool) (*TokenPair, error) {
	return s.generateTokenPairTx(ctx, s.db, userID, rememberMe)
}

func (s *AuthService) generateTokenPairTx(ctx context.Context, db dbx.DBTX, userID string, rememberMe bool) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}

	validity := s.refreshTokenValidityDuration
	if !rememberMe && validity > shortSessionRefreshValidity {
		validity = shortSessionRefreshValidity
	}

	refreshTokenRepo := s.repomanager.RefreshTokens(db)
	if err := refreshTokenRepo.Create(ctx, userID, refreshToken, validity); err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// audit records an authentication event; failures to write the log are
// reported but never fail the request.
func (s *AuthService) audit(ctx context.Context, username, event string, success bool, reason string, meta models.RequestMetadata) {
	log := &models.AuthLog{
		UserName:      username,
		EventType:     event,
		Success:       success,
		FailureReason: reason,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		Client:        meta.Client,
	}
	if err := s.repomanager.AuthLogs(s.db).Create(ctx, log); err != nil {
		s.logger.Error(ctx, "failed to write auth log", "error", err, "username", username, "event", event)
	}
}
