package models

import "time"

// Vault is one immutable snapshot of a user's encrypted data. The server
// never sees inside Blob. Updates insert a new row; rows are removed only by
// retention pruning.
type Vault struct {
	ID     string
	UserID string

	// Blob is the opaque ciphertext (nonce-prefixed AEAD output).
	Blob []byte

	// Version is the client-side vault schema version that produced Blob,
	// e.g. "1.5.0".
	Version string

	// RevisionNumber is the server-assigned monotonic counter scoped to the
	// user. It is the authoritative ordering key for conflict detection;
	// device clocks are untrusted.
	RevisionNumber int64

	// UpdatedAt orders snapshots for humans and retention bucketing only,
	// never for concurrency decisions.
	CreatedAt time.Time
	UpdatedAt time.Time
}
