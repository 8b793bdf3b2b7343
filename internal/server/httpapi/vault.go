package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keyfold/keyfold/internal/server/models"
	"github.com/keyfold/keyfold/internal/server/services"
)

// VaultHandler handles the vault sync endpoints.
type VaultHandler struct {
	service *services.VaultService
}

func NewVaultHandler(svc *services.VaultService) *VaultHandler {
	return &VaultHandler{service: svc}
}

// vaultPayload is the wire form of a vault snapshot. Blob marshals as base64.
// Username is response-only; uploads derive the owner from the bearer token.
type vaultPayload struct {
	Username              string    `json:"username,omitempty"`
	Blob                  []byte    `json:"blob"`
	Version               string    `json:"version"`
	CurrentRevisionNumber int64     `json:"currentRevisionNumber"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

type vaultGetResponse struct {
	Status string         `json:"status"`
	Vault  *vaultPayload  `json:"vault"`
	Vaults []vaultPayload `json:"vaults,omitempty"`
}

type vaultUpdateResponse struct {
	Status            string         `json:"status"`
	NewRevisionNumber int64          `json:"newRevisionNumber"`
	Vaults            []vaultPayload `json:"vaults,omitempty"`
}

type vaultListResponse struct {
	Vaults []vaultPayload `json:"vaults"`
}

type statusResponse struct {
	Username       string `json:"username"`
	Salt           string `json:"salt"`
	RevisionNumber int64  `json:"revisionNumber"`
}

// HandleGet handles GET /v1/vault requests.
func (h *VaultHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	result, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	username, err := h.service.UserName(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	resp := vaultGetResponse{Status: string(result.Status)}
	if result.Vault != nil {
		v := toVaultPayload(*result.Vault, username)
		resp.Vault = &v
	}
	for _, v := range result.Vaults {
		resp.Vaults = append(resp.Vaults, toVaultPayload(v, username))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUpload handles POST /v1/vault requests.
func (h *VaultHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var req vaultPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Blob) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("vault blob is required"))
		return
	}

	result, err := h.service.Upload(r.Context(), userID, req.Blob, req.Version, req.CurrentRevisionNumber)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	resp := vaultUpdateResponse{
		Status:            string(result.Status),
		NewRevisionNumber: result.NewRevisionNumber,
	}
	if len(result.Vaults) > 0 {
		username, err := h.service.UserName(r.Context(), userID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
			return
		}
		for _, v := range result.Vaults {
			resp.Vaults = append(resp.Vaults, toVaultPayload(v, username))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMerge handles GET /v1/vault/merge requests. With a
// currentRevisionNumber query parameter it returns everything newer; without
// one it returns the set tied at the maximum revision.
func (h *VaultHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var (
		vaults []models.Vault
		err    error
	)
	if raw := r.URL.Query().Get("currentRevisionNumber"); raw != "" {
		since, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid currentRevisionNumber"))
			return
		}
		vaults, err = h.service.VaultsSince(r.Context(), userID, since)
	} else {
		vaults, err = h.service.VaultsToMerge(r.Context(), userID)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	h.writeVaultList(w, r, userID, vaults)
}

// HandleHistory handles GET /v1/vault/history requests: the full retained
// snapshot history, newest first.
func (h *VaultHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	vaults, err := h.service.History(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	h.writeVaultList(w, r, userID, vaults)
}

func (h *VaultHandler) writeVaultList(w http.ResponseWriter, r *http.Request, userID string, vaults []models.Vault) {
	username, err := h.service.UserName(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	resp := vaultListResponse{Vaults: []vaultPayload{}}
	for _, v := range vaults {
		resp.Vaults = append(resp.Vaults, toVaultPayload(v, username))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /v1/status requests.
func (h *VaultHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Username:       status.UserName,
		Salt:           status.Salt,
		RevisionNumber: status.RevisionNumber,
	})
}

func toVaultPayload(v models.Vault, username string) vaultPayload {
	return vaultPayload{
		Username:              username,
		Blob:                  v.Blob,
		Version:               v.Version,
		CurrentRevisionNumber: v.RevisionNumber,
		CreatedAt:             v.CreatedAt,
		UpdatedAt:             v.UpdatedAt,
	}
}
