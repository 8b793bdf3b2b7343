// Package httpapi exposes the authentication and vault sync services over a
// JSON/HTTP API.
package httpapi

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/keyfold/keyfold/internal/server/models"
)

const maxBodyBytes = 10 << 20 // vault blobs dominate request size

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorResponse(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// requestMetadata collects audit context from the request.
func requestMetadata(r *http.Request) models.RequestMetadata {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return models.RequestMetadata{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
		Client:    r.Header.Get("X-Keyfold-Client"),
	}
}
