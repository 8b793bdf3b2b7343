package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/keyfold/keyfold/internal/common"
	"github.com/keyfold/keyfold/internal/server/services"
)

// AuthHandler handles the SRP login endpoints and token refresh.
type AuthHandler struct {
	service *services.AuthService
}

func NewAuthHandler(svc *services.AuthService) *AuthHandler {
	return &AuthHandler{service: svc}
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

type changeAuthRequest struct {
	Salt               string `json:"salt"`
	Verifier           string `json:"verifier"`
	EncryptionType     string `json:"encryptionType"`
	EncryptionSettings string `json:"encryptionSettings"`
}

type authLogPayload struct {
	EventType     string    `json:"eventType"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failureReason,omitempty"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
	Client        string    `json:"client,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type activityResponse struct {
	Events []authLogPayload `json:"events"`
}

// HandleRegister handles POST /v1/auth/register requests.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Salt == "" || req.Verifier == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("username, salt and verifier are required"))
		return
	}

	user, err := h.service.Register(r.Context(), req.Username, req.Salt, req.Verifier,
		req.EncryptionType, req.EncryptionSettings, requestMetadata(r))
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorResponse("username already taken"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": user.ID, "username": user.UserName})
}

// HandleLogin handles POST /v1/auth/login requests: the first SRP round-trip.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("username is required"))
		return
	}

	challenge, err := h.service.LoginInitiate(r.Context(), req.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Salt:               challenge.Salt,
		ServerEphemeral:    challenge.ServerPublic,
		EncryptionType:     challenge.EncryptionType,
		EncryptionSettings: challenge.EncryptionSettings,
	})
}

// HandleValidate handles POST /v1/auth/validate requests: proof verification.
func (h *AuthHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.LoginValidate(r.Context(), req.Username,
		req.ClientPublicEphemeral, req.ClientSessionProof, req.RememberMe, requestMetadata(r))
	if err != nil {
		// One generic outcome for every failure mode: the specific stage is
		// audit-logged server-side but never leaked to the caller.
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalid credentials"))
		return
	}

	writeJSON(w, http.StatusOK, toValidateResponse(result))
}

// HandleValidate2FA handles POST /v1/auth/validate-2fa requests.
func (h *AuthHandler) HandleValidate2FA(w http.ResponseWriter, r *http.Request) {
	var req validate2faRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.LoginValidateTwoFactor(r.Context(), req.Username, req.Code2Fa, requestMetadata(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse("invalid credentials"))
		return
	}

	writeJSON(w, http.StatusOK, toValidateResponse(result))
}

// HandleRefreshToken handles POST /v1/auth/token requests.
func (h *AuthHandler) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) || errors.Is(err, common.ErrRefreshTokenExpired) {
			writeJSON(w, http.StatusUnauthorized, errorResponse("invalid refresh token"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// HandleEnable2FA handles POST /v1/auth/2fa/enable requests. The response
// carries the otpauth provisioning URI for the authenticator app.
func (h *AuthHandler) HandleEnable2FA(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	uri, err := h.service.EnableTwoFactor(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"provisioningUri": uri})
}

// HandleDisable2FA handles POST /v1/auth/2fa/disable requests.
func (h *AuthHandler) HandleDisable2FA(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	if err := h.service.DisableTwoFactor(r.Context(), userID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleChangeAuth handles POST /v1/auth/password requests: the client
// submits a freshly derived salt and verifier after a password change.
func (h *AuthHandler) HandleChangeAuth(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var req changeAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Salt == "" || req.Verifier == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("salt and verifier are required"))
		return
	}

	err := h.service.ChangeAuthRecord(r.Context(), userID, req.Salt, req.Verifier,
		req.EncryptionType, req.EncryptionSettings, requestMetadata(r))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleActivity handles GET /v1/auth/activity requests.
func (h *AuthHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid limit"))
			return
		}
		limit = n
	}

	logs, err := h.service.Activity(r.Context(), userID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	resp := activityResponse{Events: []authLogPayload{}}
	for _, l := range logs {
		resp.Events = append(resp.Events, authLogPayload{
			EventType:     l.EventType,
			Success:       l.Success,
			FailureReason: l.FailureReason,
			IPAddress:     l.IPAddress,
			UserAgent:     l.UserAgent,
			Client:        l.Client,
			CreatedAt:     l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toValidateResponse(result *services.LoginResult) validateResponse {
	resp := validateResponse{
		RequiresTwoFactor:  result.TwoFactorRequired,
		ServerSessionProof: result.ServerProof,
	}
	if result.Tokens != nil {
		resp.Token = &tokenResponse{Token: result.Tokens.AccessToken, RefreshToken: result.Tokens.RefreshToken}
	}
	return resp
}
