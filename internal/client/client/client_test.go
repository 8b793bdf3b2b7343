package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/client/config"
	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/kdf"
	"github.com/keyfold/keyfold/internal/srp"
)

func testConfig(url string) *config.Config {
	return &config.Config{ServerURL: url, RequestTimeout: 5 * time.Second}
}

// fakeServer implements the server side of the API for one registered user,
// including a real SRP exchange, so Login can be exercised end to end.
type fakeServer struct {
	t *testing.T

	username string
	salt     string
	verifier string
	settings kdf.Settings

	serverEphemeral srp.Ephemeral
	serverSession   srp.Session

	tamperProof bool
	accessToken string
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(s.t, s.username, req.Username)

		eph, err := srp.GenerateServerEphemeral(s.verifier)
		require.NoError(s.t, err)
		s.serverEphemeral = eph

		json.NewEncoder(w).Encode(map[string]string{
			"salt":               s.salt,
			"serverEphemeral":    eph.Public,
			"encryptionType":     kdf.AlgorithmArgon2id,
			"encryptionSettings": s.settings.Encode(),
		})
	})

	mux.HandleFunc("POST /v1/auth/validate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username              string `json:"username"`
			ClientPublicEphemeral string `json:"clientPublicEphemeral"`
			ClientSessionProof    string `json:"clientSessionProof"`
		}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))

		session, err := srp.DeriveServerSession(s.serverEphemeral.Secret, req.ClientPublicEphemeral,
			s.salt, s.username, s.verifier, req.ClientSessionProof)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		s.serverSession = session

		proof := session.Proof
		if s.tamperProof {
			proof = "deadbeef"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"requiresTwoFactor":  false,
			"serverSessionProof": proof,
			"token":              map[string]string{"token": s.accessToken, "refreshToken": "refresh-1"},
		})
	})

	mux.HandleFunc("POST /v1/auth/2fa/enable", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"provisioningUri": "otpauth://totp/keyfold:" + s.username + "?secret=abc",
		})
	})

	mux.HandleFunc("POST /v1/auth/2fa/disable", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/vault", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "Ok",
			"vault": map[string]any{
				"blob":                  []byte("ciphertext"),
				"version":               "1.0.0",
				"currentRevisionNumber": 3,
			},
		})
	})

	return mux
}

// registerFake seeds the fake server with real SRP material for the given
// password, the same way Register computes it.
func registerFake(t *testing.T, username string, password []byte) *fakeServer {
	salt := srp.GenerateSalt()
	saltBytes, err := hex.DecodeString(salt)
	require.NoError(t, err)

	settings := kdf.Settings{Iterations: 1, MemoryKiB: 8 * 1024, Parallelism: 1}
	key, err := kdf.DeriveKey(kdf.AlgorithmArgon2id, password, saltBytes, settings)
	require.NoError(t, err)

	privateKey, err := srp.DerivePrivateKey(salt, username, hex.EncodeToString(key))
	require.NoError(t, err)
	verifier, err := srp.DeriveVerifier(privateKey)
	require.NoError(t, err)

	return &fakeServer{
		t:           t,
		username:    username,
		salt:        salt,
		verifier:    verifier,
		settings:    settings,
		accessToken: "access-1",
	}
}

func TestLogin_FullExchange(t *testing.T) {
	password := []byte("correct horse battery staple")
	fake := registerFake(t, "alice", password)
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	result, err := c.Login(context.Background(), "alice", password, false)
	require.NoError(t, err)

	assert.False(t, result.TwoFactorRequired)
	assert.Len(t, result.Key, kdf.KeySize)
	assert.Equal(t, TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, c.Tokens())
}

func TestLogin_WrongPassword(t *testing.T) {
	fake := registerFake(t, "alice", []byte("right"))
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Login(context.Background(), "alice", []byte("wrong"), false)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Empty(t, c.Tokens().AccessToken)
}

func TestLogin_RejectsForgedServerProof(t *testing.T) {
	password := []byte("secret")
	fake := registerFake(t, "alice", password)
	fake.tamperProof = true
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Login(context.Background(), "alice", password, false)
	assert.ErrorIs(t, err, srp.ErrProofMismatch)
	assert.Empty(t, c.Tokens().AccessToken)
}

func TestLogin_RejectsMalformedServerSettings(t *testing.T) {
	password := []byte("secret")
	fake := registerFake(t, "alice", password)
	fake.settings = kdf.Settings{} // a hostile server could hand these out
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Login(context.Background(), "alice", password, false)
	assert.ErrorIs(t, err, kdf.ErrInvalidSettings)
	assert.Empty(t, c.Tokens().AccessToken)
}

func TestRegister_SendsVerifierNotPassword(t *testing.T) {
	var captured map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "u1", "username": "alice"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	err := c.Register(context.Background(), "alice", []byte("master password"))
	require.NoError(t, err)

	assert.Equal(t, "alice", captured["username"])
	assert.NotEmpty(t, captured["salt"])
	assert.NotEmpty(t, captured["verifier"])
	assert.Equal(t, kdf.AlgorithmArgon2id, captured["encryptionType"])
	assert.NotContains(t, captured["verifier"], "master password")
}

func TestRegister_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "username already taken"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	err := c.Register(context.Background(), "alice", []byte("pw"))
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestGetVault_BearerAuth(t *testing.T) {
	fake := registerFake(t, "alice", []byte("pw"))
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	c.SetTokens(TokenPair{AccessToken: "access-1"})

	result, err := c.GetVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ok", result.Status)
	require.NotNil(t, result.Vault)
	assert.Equal(t, []byte("ciphertext"), result.Vault.Blob)
	assert.Equal(t, int64(3), result.Vault.CurrentRevisionNumber)
}

func TestTwoFactorEnrollment_BearerAuth(t *testing.T) {
	fake := registerFake(t, "alice", []byte("pw"))
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))

	_, err := c.Enable2FA(context.Background())
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	c.SetTokens(TokenPair{AccessToken: "access-1"})

	uri, err := c.Enable2FA(context.Background())
	require.NoError(t, err)
	assert.Contains(t, uri, "otpauth://totp/")
	require.NoError(t, c.Disable2FA(context.Background()))
}

func TestGetVault_RefreshesExpiredToken(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/vault":
			calls++
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"status": "Ok", "vault": map[string]any{"blob": []byte("x")}})
		case "/v1/auth/token":
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "refresh-1", req["refreshToken"])
			json.NewEncoder(w).Encode(map[string]string{"token": "access-2", "refreshToken": "refresh-2"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	c.SetTokens(TokenPair{AccessToken: "stale", RefreshToken: "refresh-1"})

	result, err := c.GetVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ok", result.Status)
	assert.Equal(t, 2, calls)
	assert.Equal(t, TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, c.Tokens())
}

func TestUploadVault_MergeRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Vault
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(4), req.CurrentRevisionNumber)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "MergeRequired",
			"vaults": []map[string]any{{"blob": []byte("newer"), "currentRevisionNumber": 6}},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	c.SetTokens(TokenPair{AccessToken: "access-1"})

	result, err := c.UploadVault(context.Background(), []byte("blob"), "1.0.0", 4)
	require.NoError(t, err)
	assert.Equal(t, "MergeRequired", result.Status)
	require.Len(t, result.Vaults, 1)
	assert.Equal(t, int64(6), result.Vaults[0].CurrentRevisionNumber)
}

func TestVaultsToMerge_SinceParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("currentRevisionNumber"))
		json.NewEncoder(w).Encode(map[string]any{"vaults": []map[string]any{}})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	c.SetTokens(TokenPair{AccessToken: "access-1"})

	vaults, err := c.VaultsToMerge(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, vaults)
}

func TestDoJSON_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
