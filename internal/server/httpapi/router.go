package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/keyfold/keyfold/internal/server/config"
	"github.com/keyfold/keyfold/internal/server/services"
)

// NewRouter wires the handlers into the public route tree. Auth endpoints are
// rate limited per client address; vault endpoints require a bearer token.
func NewRouter(authService *services.AuthService, vaultService *services.VaultService, cfg *config.Config) *chi.Mux {
	authHandler := NewAuthHandler(authService)
	vaultHandler := NewVaultHandler(vaultService)

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(cfg.LoginRateLimit, cfg.LoginRateBurst))
		r.Post("/v1/auth/register", authHandler.HandleRegister)
		r.Post("/v1/auth/login", authHandler.HandleLogin)
		r.Post("/v1/auth/validate", authHandler.HandleValidate)
		r.Post("/v1/auth/validate-2fa", authHandler.HandleValidate2FA)
		r.Post("/v1/auth/token", authHandler.HandleRefreshToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(authService.UserIDFromToken))
		r.Post("/v1/auth/2fa/enable", authHandler.HandleEnable2FA)
		r.Post("/v1/auth/2fa/disable", authHandler.HandleDisable2FA)
		r.Post("/v1/auth/password", authHandler.HandleChangeAuth)
		r.Get("/v1/auth/activity", authHandler.HandleActivity)
		r.Get("/v1/vault", vaultHandler.HandleGet)
		r.Post("/v1/vault", vaultHandler.HandleUpload)
		r.Get("/v1/vault/merge", vaultHandler.HandleMerge)
		r.Get("/v1/vault/history", vaultHandler.HandleHistory)
		r.Get("/v1/status", vaultHandler.HandleStatus)
	})

	return r
}
