// Package vaultcipher encrypts and decrypts opaque vault blobs with
// AES-256-GCM. The random nonce is prepended to the ciphertext so a blob is
// self-contained: ciphertext = nonce || sealed(plaintext).
//
// Encryption is deliberately non-deterministic: re-encrypting the same
// plaintext with the same key produces a different blob every call because a
// fresh nonce is drawn each time.
package vaultcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrAuthenticationFailure is returned when decryption fails its tag check:
// the key is wrong or the blob was tampered with. Decryption never returns
// partially decoded plaintext.
var ErrAuthenticationFailure = errors.New("vault blob authentication failure")

// Encrypt seals plaintext under key. Key must be 32 bytes (AES-256).
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. A wrong key, a truncated blob, or
// any flipped byte yields ErrAuthenticationFailure.
func Decrypt(blob, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < aesgcm.NonceSize() {
		return nil, ErrAuthenticationFailure
	}
	nonce, ciphertext := blob[:aesgcm.NonceSize()], blob[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	return cipher.NewGCM(block)
}
