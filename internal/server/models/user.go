// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account row. The SRP auth record (salt, verifier, KDF settings)
// lives here: the verifier is a password-derived public value that cannot be
// replayed as a credential, and the KDF settings let the server tell clients
// which parameters to derive with, without ever deriving the key itself.
type User struct {
	ID       string
	UserName string

	// SRP auth record, fixed at registration and replaced on password change.
	Salt               string
	Verifier           string
	EncryptionType     string
	EncryptionSettings string

	// Two-factor state. Secret is the base32 TOTP shared secret, present only
	// when TwoFactorEnabled.
	TwoFactorEnabled bool
	TwoFactorSecret  string

	Blocked   bool
	CreatedAt time.Time
}
