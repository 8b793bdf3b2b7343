// Package kdf derives symmetric encryption keys from master passwords.
//
// The derivation is deterministic: the same password, salt, and settings
// always produce the same key, so clients can re-derive the vault key on
// every login without persisting it. Derivation is intentionally slow and
// memory-hard; callers must keep it off latency-sensitive paths.
package kdf

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Supported algorithm identifiers. These travel over the wire as the
// encryptionType field so the server can tell clients which KDF to use
// without ever running it itself.
const (
	AlgorithmArgon2id = "Argon2id"
	AlgorithmPBKDF2   = "PBKDF2-SHA256"
)

// KeySize is the derived key length in bytes (AES-256).
const KeySize = 32

// ErrUnsupportedAlgorithm is returned when the algorithm identifier is not
// recognized. There is no silent fallback to a weaker KDF.
var ErrUnsupportedAlgorithm = errors.New("unsupported key derivation algorithm")

// ErrInvalidSettings is returned when cost parameters are out of range for
// the chosen algorithm. Settings arrive from the network on both sides of
// the protocol, so they are never trusted to be well-formed.
var ErrInvalidSettings = errors.New("invalid key derivation settings")

// Settings carries the tunable cost parameters of a KDF instance.
// MemoryKiB and Parallelism are ignored by PBKDF2.
type Settings struct {
	Iterations  uint32 `json:"iterations"`
	MemoryKiB   uint32 `json:"memoryKiB"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultSettings returns the Argon2id parameters new registrations use.
func DefaultSettings() Settings {
	return Settings{Iterations: 2, MemoryKiB: 64 * 1024, Parallelism: 4}
}

// ParseSettings decodes the JSON encryptionSettings document.
func ParseSettings(data string) (Settings, error) {
	var s Settings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Settings{}, fmt.Errorf("invalid encryption settings: %w", err)
	}
	if s.Iterations < 1 {
		return Settings{}, fmt.Errorf("%w: iterations must be at least 1", ErrInvalidSettings)
	}
	return s, nil
}

// Encode serializes settings to the JSON form stored server-side and sent to
// clients during login.
func (s Settings) Encode() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// DeriveKey derives a KeySize-byte key from password and salt using the named
// algorithm. Salt should be at least 16 random bytes fixed at registration.
func DeriveKey(algorithm string, password, salt []byte, settings Settings) ([]byte, error) {
	if settings.Iterations < 1 {
		return nil, fmt.Errorf("%w: iterations must be at least 1", ErrInvalidSettings)
	}
	switch algorithm {
	case AlgorithmArgon2id:
		// argon2.IDKey panics outside these bounds instead of erroring.
		if settings.Parallelism < 1 {
			return nil, fmt.Errorf("%w: parallelism must be at least 1", ErrInvalidSettings)
		}
		if settings.MemoryKiB < 8*uint32(settings.Parallelism) {
			return nil, fmt.Errorf("%w: memory must be at least 8 KiB per thread", ErrInvalidSettings)
		}
		return argon2.IDKey(password, salt, settings.Iterations, settings.MemoryKiB, settings.Parallelism, KeySize), nil
	case AlgorithmPBKDF2:
		return pbkdf2.Key(password, salt, int(settings.Iterations), KeySize, sha256.New), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}
