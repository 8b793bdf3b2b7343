// Package common defines shared constants and sentinel errors used across
// client and server layers of Keyfold. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth protocol errors. ErrorUnauthorized is what crosses the wire for
	// both an unknown user and a failed proof; these exist so the server can
	// log the specific reason for audit.
	ErrProofMismatch        = errors.New("session proof mismatch")
	ErrTwoFactorCodeInvalid = errors.New("invalid two-factor code")

	// Token lifecycle errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
