package models

import "time"

// Auth event types recorded for audit.
const (
	AuthEventLogin        = "login"
	AuthEventTwoFactor    = "two_factor"
	AuthEventRegister     = "register"
	AuthEventTokenRefresh = "token_refresh"
	AuthEventAuthChange   = "auth_change"
)

// Auth failure reasons. Stored server-side only; clients always see a generic
// unauthorized outcome so the failing stage is not leaked.
const (
	AuthFailureUnknownUser      = "unknown_user"
	AuthFailureProofMismatch    = "proof_mismatch"
	AuthFailureInvalidTwoFactor = "invalid_two_factor"
	AuthFailureAccountBlocked   = "account_blocked"
)

// AuthLog is one audit record of an authentication attempt.
type AuthLog struct {
	ID            string
	UserName      string
	EventType     string
	Success       bool
	FailureReason string
	IPAddress     string
	UserAgent     string
	Client        string
	CreatedAt     time.Time
}

// RequestMetadata carries request-scoped audit context (caller address,
// user agent, client app identifier) passed explicitly rather than read from
// ambient state.
type RequestMetadata struct {
	IPAddress string
	UserAgent string
	Client    string
}
