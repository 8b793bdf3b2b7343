// Package totp implements RFC 6238 time-based one-time passwords for the
// two-factor login variant. Secrets are established out-of-band at enrollment
// and verified alongside the SRP session proof at login.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/common"
)

const (
	Step   = 30 * time.Second
	Digits = 6

	secretSize = 20 // 160-bit secret per RFC 4226
)

// GenerateSecret returns a fresh base32-encoded shared secret.
func GenerateSecret() (string, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret), nil
}

// Verify reports whether code is valid for secret at the given time,
// accepting one step of clock skew in either direction.
func Verify(code, secret string, when time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false
	}
	secretBytes, err := decodeSecret(secret)
	if err != nil {
		return false
	}
	defer common.WipeByteArray(secretBytes)

	counter := when.Unix() / int64(Step/time.Second)
	for i := int64(-1); i <= 1; i++ {
		cur := counter + i
		if cur < 0 {
			continue
		}
		if hmac.Equal([]byte(computeCode(secretBytes, uint64(cur))), []byte(code)) {
			return true
		}
	}
	return false
}

// CodeAt computes the code for secret at the given time. Used by enrollment
// flows to confirm the user captured the secret correctly.
func CodeAt(secret string, when time.Time) (string, error) {
	secretBytes, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(secretBytes)

	counter := when.Unix() / int64(Step/time.Second)
	return computeCode(secretBytes, uint64(counter)), nil
}

// ProvisionURI builds the otpauth:// URI that authenticator apps consume.
func ProvisionURI(account, issuer, secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		url.PathEscape(issuer), url.PathEscape(account), secret, url.QueryEscape(issuer),
		Digits, int(Step/time.Second))
}

func computeCode(secret []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	trunc := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%0*d", Digits, trunc%1000000)
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
}
