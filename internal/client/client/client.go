// Package client implements the HTTP API client for the keyfold server. It
// runs the client side of the SRP exchange during login, keeps the issued
// token pair in memory, and exposes typed wrappers around the vault sync
// endpoints. The master password never leaves this package unhashed.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keyfold/keyfold/internal/client/config"
	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/kdf"
	"github.com/keyfold/keyfold/internal/srp"
)

// ErrUnavailable means the server could not be reached at all, as opposed to
// the server reaching a decision the caller will not like.
var ErrUnavailable = errors.New("server unavailable")

// Vault is a single encrypted vault revision as it travels over the wire.
// Blob is opaque to the server; only this package's caller can decrypt it.
type Vault struct {
	Username              string    `json:"username,omitempty"`
	Blob                  []byte    `json:"blob"`
	Version               string    `json:"version"`
	CurrentRevisionNumber int64     `json:"currentRevisionNumber"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// GetResult is the outcome of fetching the current vault. Status "Ok" means
// Vault holds the single latest revision; "MergeRequired" means ties exist
// and Vaults holds the full candidate set, newest first.
type GetResult struct {
	Status string  `json:"status"`
	Vault  *Vault  `json:"vault"`
	Vaults []Vault `json:"vaults,omitempty"`
}

// UploadResult is the outcome of uploading a new vault revision. On
// "MergeRequired" nothing was stored and Vaults holds the server's history.
type UploadResult struct {
	Status            string  `json:"status"`
	NewRevisionNumber int64   `json:"newRevisionNumber"`
	Vaults            []Vault `json:"vaults,omitempty"`
}

// Status describes the authenticated account as the server sees it.
type Status struct {
	Username       string `json:"username"`
	Salt           string `json:"salt"`
	RevisionNumber int64  `json:"revisionNumber"`
}

// LoginResult is returned by Login once the server's session proof has been
// verified. Key is the vault encryption key derived from the master password
// and must be wiped by the caller when the session ends. When
// TwoFactorRequired is set, tokens have not been issued yet and the caller
// must follow up with ValidateTwoFactor.
type LoginResult struct {
	TwoFactorRequired bool
	Key               []byte
}

// TokenPair holds the bearer tokens issued after a completed login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Client is a keyfold API client. It is safe for concurrent use; the token
// pair it holds is guarded internally.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	tokens TokenPair
}

// NewClient builds a Client from CLI configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.ServerURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Tokens returns a copy of the currently held token pair.
func (c *Client) Tokens() TokenPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// SetTokens replaces the held token pair, e.g. when restoring a session.
func (c *Client) SetTokens(tokens TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
}

type registerRequest struct {
	Username           string `json:"username"`
	Salt               string `json:"salt"`
	Verifier           string `json:"verifier"`
	EncryptionType     string `json:"encryptionType"`
	EncryptionSettings string `json:"encryptionSettings"`
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Salt               string `json:"salt"`
	ServerEphemeral    string `json:"serverEphemeral"`
	EncryptionType     string `json:"encryptionType"`
	EncryptionSettings string `json:"encryptionSettings"`
}

type validateRequest struct {
	Username              string `json:"username"`
	RememberMe            bool   `json:"rememberMe"`
	ClientPublicEphemeral string `json:"clientPublicEphemeral"`
	ClientSessionProof    string `json:"clientSessionProof"`
}

type validate2faRequest struct {
	Username   string `json:"username"`
	RememberMe bool   `json:"rememberMe"`
	Code2Fa    string `json:"code2Fa"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type validateResponse struct {
	RequiresTwoFactor  bool           `json:"requiresTwoFactor"`
	ServerSessionProof string         `json:"serverSessionProof"`
	Token              *tokenResponse `json:"token,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Register creates a new account. The password is run through the default
// KDF locally and only the SRP verifier is sent; the server never learns
// enough to authenticate as the user.
func (c *Client) Register(ctx context.Context, username string, password []byte) error {
	salt := srp.GenerateSalt()
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return err
	}

	settings := kdf.DefaultSettings()
	key, err := kdf.DeriveKey(kdf.AlgorithmArgon2id, password, saltBytes, settings)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	privateKey, err := srp.DerivePrivateKey(salt, username, hex.EncodeToString(key))
	if err != nil {
		return err
	}
	verifier, err := srp.DeriveVerifier(privateKey)
	if err != nil {
		return err
	}

	req := registerRequest{
		Username:           username,
		Salt:               salt,
		Verifier:           verifier,
		EncryptionType:     kdf.AlgorithmArgon2id,
		EncryptionSettings: settings.Encode(),
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/auth/register", req, nil, false)
}

// Login runs the two round-trip SRP exchange. It verifies the server's
// session proof before trusting anything else in the response, so a server
// that does not hold the real verifier is rejected even if it answers
// politely. On success the returned Key decrypts the vault.
func (c *Client) Login(ctx context.Context, username string, password []byte, rememberMe bool) (*LoginResult, error) {
	var challenge loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", loginRequest{Username: username}, &challenge, false); err != nil {
		return nil, err
	}

	saltBytes, err := hex.DecodeString(challenge.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt from server: %w", err)
	}
	settings, err := kdf.ParseSettings(challenge.EncryptionSettings)
	if err != nil {
		return nil, err
	}
	key, err := kdf.DeriveKey(challenge.EncryptionType, password, saltBytes, settings)
	if err != nil {
		return nil, err
	}

	privateKey, err := srp.DerivePrivateKey(challenge.Salt, username, hex.EncodeToString(key))
	if err != nil {
		common.WipeByteArray(key)
		return nil, err
	}
	ephemeral := srp.GenerateClientEphemeral()
	session, err := srp.DeriveClientSession(ephemeral.Secret, challenge.ServerEphemeral, challenge.Salt, username, privateKey)
	if err != nil {
		common.WipeByteArray(key)
		return nil, err
	}

	req := validateRequest{
		Username:              username,
		RememberMe:            rememberMe,
		ClientPublicEphemeral: ephemeral.Public,
		ClientSessionProof:    session.Proof,
	}
	var resp validateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/validate", req, &resp, false); err != nil {
		common.WipeByteArray(key)
		return nil, err
	}

	if err := srp.VerifyServerSession(ephemeral.Public, session, resp.ServerSessionProof); err != nil {
		common.WipeByteArray(key)
		return nil, err
	}

	if resp.RequiresTwoFactor {
		return &LoginResult{TwoFactorRequired: true, Key: key}, nil
	}
	if resp.Token == nil {
		common.WipeByteArray(key)
		return nil, common.ErrorUnauthorized
	}
	c.SetTokens(TokenPair{AccessToken: resp.Token.Token, RefreshToken: resp.Token.RefreshToken})
	return &LoginResult{Key: key}, nil
}

// ValidateTwoFactor completes a login that Login reported as requiring a
// second factor. The SRP exchange was already verified; this step only
// trades the TOTP code for tokens.
func (c *Client) ValidateTwoFactor(ctx context.Context, username, code string, rememberMe bool) error {
	req := validate2faRequest{Username: username, RememberMe: rememberMe, Code2Fa: code}
	var resp validateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/validate-2fa", req, &resp, false); err != nil {
		return err
	}
	if resp.Token == nil {
		return common.ErrorUnauthorized
	}
	c.SetTokens(TokenPair{AccessToken: resp.Token.Token, RefreshToken: resp.Token.RefreshToken})
	return nil
}

// Enable2FA enrolls the logged-in account in TOTP and returns the otpauth
// provisioning URI for the authenticator app.
func (c *Client) Enable2FA(ctx context.Context) (string, error) {
	var resp struct {
		ProvisioningURI string `json:"provisioningUri"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/2fa/enable", nil, &resp, true); err != nil {
		return "", err
	}
	return resp.ProvisioningURI, nil
}

// Disable2FA clears the TOTP enrollment for the logged-in account.
func (c *Client) Disable2FA(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/auth/2fa/disable", nil, nil, true)
}

// Refresh rotates the token pair using the held refresh token.
func (c *Client) Refresh(ctx context.Context) error {
	tokens := c.Tokens()
	if tokens.RefreshToken == "" {
		return common.ErrorUnauthorized
	}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/token", refreshRequest{RefreshToken: tokens.RefreshToken}, &resp, false); err != nil {
		return err
	}
	c.SetTokens(TokenPair{AccessToken: resp.Token, RefreshToken: resp.RefreshToken})
	return nil
}

// GetVault fetches the current vault, or the candidate set when the server
// holds a revision conflict.
func (c *Client) GetVault(ctx context.Context) (*GetResult, error) {
	var resp GetResult
	if err := c.doJSON(ctx, http.MethodGet, "/v1/vault", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadVault sends a new encrypted vault revision. currentRevisionNumber is
// the revision the client last synced; the server rejects the upload with
// "MergeRequired" when it has moved past that.
func (c *Client) UploadVault(ctx context.Context, blob []byte, version string, currentRevisionNumber int64) (*UploadResult, error) {
	req := Vault{Blob: blob, Version: version, CurrentRevisionNumber: currentRevisionNumber}
	var resp UploadResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/vault", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VaultsToMerge fetches the vault revisions a client needs to resolve a
// conflict. With since >= 0 it returns everything newer than that revision;
// with a negative since it returns the set tied at the maximum revision.
func (c *Client) VaultsToMerge(ctx context.Context, since int64) ([]Vault, error) {
	path := "/v1/vault/merge"
	if since >= 0 {
		path += "?currentRevisionNumber=" + strconv.FormatInt(since, 10)
	}
	var resp struct {
		Vaults []Vault `json:"vaults"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Vaults, nil
}

// Status fetches account status for the authenticated user.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.doJSON(ctx, http.MethodGet, "/v1/status", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON performs one API request. Authenticated calls that bounce with 401
// are retried once after a token refresh, which gives the CLI a sliding
// session without callers handling expiry themselves.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, authed bool) error {
	err := c.doJSONOnce(ctx, method, path, body, out, authed)
	if authed && errors.Is(err, common.ErrorUnauthorized) && c.Tokens().RefreshToken != "" {
		if refreshErr := c.Refresh(ctx); refreshErr != nil {
			return err
		}
		return c.doJSONOnce(ctx, method, path, body, out, authed)
	}
	return err
}

func (c *Client) doJSONOnce(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Keyfold-Client", "keyfold-cli")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.Tokens().AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError maps an error response onto the shared error taxonomy, keeping
// the server-provided message for anything without a sentinel.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return common.ErrorUnauthorized
	case http.StatusConflict:
		return common.ErrorAlreadyExists
	case http.StatusNotFound:
		return common.ErrorNotFound
	}
	if body.Error == "" {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, body.Error)
}
