// Package srp implements the Secure Remote Password protocol (SRP-6a,
// RFC 5054 group, SHA-256) used for zero-knowledge authentication.
//
// The password never crosses the network in either direction. At
// registration the client derives a verifier from (salt, username, private
// key) and the server stores only that. At login both sides derive a shared
// session key from short-lived ephemeral key pairs and prove knowledge of it
// to each other.
//
// All public values (salts, verifiers, ephemerals, proofs) are lowercase hex
// strings, which is also how they travel over the wire and sit in the
// database. Ephemeral secrets must live for a single login attempt only.
package srp

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/keyfold/keyfold/internal/common"
)

var (
	// ErrProofMismatch means the counterparty's session proof did not match:
	// on the server side a wrong password, on the client side a server that
	// does not actually hold the verifier.
	ErrProofMismatch = errors.New("srp: session proof mismatch")

	// ErrInvalidPublicValue means a received public ephemeral was zero
	// modulo N, which would collapse the key exchange. RFC 5054 requires
	// aborting.
	ErrInvalidPublicValue = errors.New("srp: invalid public ephemeral value")
)

// 1024-bit group from RFC 5054 appendix A, generator 2.
const hexN = "EEAF0AB9ADB38DD69C33F80AFA8FC5E86072618775FF3C0B9EA2314C9C256576" +
	"D674DF7496EA81D3383B4813D692C6E0E0D5D8E250B98BE48E495C1D6089DAD1" +
	"5DC7D7B46154D6B6CE8EF4AD69B15D4982559B297BCF1885C529F566660E57EC" +
	"68EDBC3C05726CC02FD4CBF4976EAA9AFD5138FE8376435B9FC61D2FC0EB06E3"

var (
	bigN, bigG *big.Int
	multiplier *big.Int // k = H(N, pad(g))
	padLen     int
)

func init() {
	bigN = mustHexInt(hexN)
	bigG = big.NewInt(2)
	padLen = len(bigN.Bytes())
	multiplier = hashInt(intBytes(bigN), padBytes(bigG))
}

// Ephemeral is a single-use key pair generated per authentication attempt.
// Secret must never be persisted, logged, or reused.
type Ephemeral struct {
	Secret string
	Public string
}

// Session is the outcome of a key exchange on one side: the shared session
// key and the proof of it to present to the other side.
type Session struct {
	Key   string
	Proof string
}

// DerivePrivateKey computes x = H(salt, H(username ":" secret)). The secret
// is the KDF-derived key (hex form), never the raw password.
func DerivePrivateKey(salt, username, secret string) (string, error) {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("srp: invalid salt: %w", err)
	}
	inner := sha256.Sum256([]byte(username + ":" + secret))
	return hashHex(saltBytes, inner[:]), nil
}

// DeriveVerifier computes the password verifier v = g^x the server stores at
// registration in place of anything password-derived it could replay.
func DeriveVerifier(privateKey string) (string, error) {
	x, err := parseHexInt(privateKey)
	if err != nil {
		return "", err
	}
	v := new(big.Int).Exp(bigG, x, bigN)
	return intHex(v), nil
}

// GenerateSalt returns a fresh random salt in hex form.
func GenerateSalt() string {
	return hex.EncodeToString(common.GenerateRandByteArray(32))
}

// GenerateClientEphemeral draws a random client key pair: secret a and
// public A = g^a.
func GenerateClientEphemeral() Ephemeral {
	a := randomInt()
	A := new(big.Int).Exp(bigG, a, bigN)
	return Ephemeral{Secret: intHex(a), Public: intHex(A)}
}

// GenerateServerEphemeral draws a random server key pair bound to the user's
// verifier: secret b and public B = k*v + g^b.
func GenerateServerEphemeral(verifier string) (Ephemeral, error) {
	v, err := parseHexInt(verifier)
	if err != nil {
		return Ephemeral{}, err
	}
	b := randomInt()
	gb := new(big.Int).Exp(bigG, b, bigN)
	kv := new(big.Int).Mul(multiplier, v)
	B := new(big.Int).Mod(new(big.Int).Add(kv, gb), bigN)
	return Ephemeral{Secret: intHex(b), Public: intHex(B)}, nil
}

// DeriveClientSession computes the shared session key and client proof M1
// from the server's public ephemeral. It fails with ErrInvalidPublicValue if
// the server ephemeral is degenerate.
func DeriveClientSession(clientSecret, serverPublic, salt, username, privateKey string) (Session, error) {
	a, err := parseHexInt(clientSecret)
	if err != nil {
		return Session{}, err
	}
	B, err := parseHexInt(serverPublic)
	if err != nil {
		return Session{}, err
	}
	x, err := parseHexInt(privateKey)
	if err != nil {
		return Session{}, err
	}
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return Session{}, fmt.Errorf("srp: invalid salt: %w", err)
	}

	if new(big.Int).Mod(B, bigN).Sign() == 0 {
		return Session{}, ErrInvalidPublicValue
	}

	A := new(big.Int).Exp(bigG, a, bigN)
	u := hashInt(padBytes(A), padBytes(B))
	if u.Sign() == 0 {
		return Session{}, ErrInvalidPublicValue
	}

	// S = (B - k*g^x) ^ (a + u*x)
	gx := new(big.Int).Exp(bigG, x, bigN)
	kgx := new(big.Int).Mul(multiplier, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, bigN)
	if base.Sign() < 0 {
		base.Add(base, bigN)
	}
	exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, bigN)

	key := hashBytes(intBytes(S))
	proof := clientProof(username, saltBytes, A, B, key)
	return Session{Key: hex.EncodeToString(key), Proof: hex.EncodeToString(proof)}, nil
}

// DeriveServerSession computes the shared session key from the stored
// verifier and the client's public ephemeral, verifies the client's proof,
// and returns the server proof M2 for mutual authentication. A wrong
// password surfaces as ErrProofMismatch.
func DeriveServerSession(serverSecret, clientPublic, salt, username, verifier, clientSessionProof string) (Session, error) {
	b, err := parseHexInt(serverSecret)
	if err != nil {
		return Session{}, err
	}
	A, err := parseHexInt(clientPublic)
	if err != nil {
		return Session{}, err
	}
	v, err := parseHexInt(verifier)
	if err != nil {
		return Session{}, err
	}
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return Session{}, fmt.Errorf("srp: invalid salt: %w", err)
	}

	if new(big.Int).Mod(A, bigN).Sign() == 0 {
		return Session{}, ErrInvalidPublicValue
	}

	gb := new(big.Int).Exp(bigG, b, bigN)
	kv := new(big.Int).Mul(multiplier, v)
	B := new(big.Int).Mod(new(big.Int).Add(kv, gb), bigN)

	u := hashInt(padBytes(A), padBytes(B))

	// S = (A * v^u) ^ b
	vu := new(big.Int).Exp(v, u, bigN)
	base := new(big.Int).Mod(new(big.Int).Mul(A, vu), bigN)
	S := new(big.Int).Exp(base, b, bigN)

	key := hashBytes(intBytes(S))
	expected := clientProof(username, saltBytes, A, B, key)

	got, err := hex.DecodeString(strings.ToLower(clientSessionProof))
	if err != nil || subtle.ConstantTimeCompare(expected, got) != 1 {
		return Session{}, ErrProofMismatch
	}

	proof := hashBytes(intBytes(A), expected, key)
	return Session{Key: hex.EncodeToString(key), Proof: hex.EncodeToString(proof)}, nil
}

// VerifyServerSession checks the server's proof on the client side,
// authenticating the server back to the client.
func VerifyServerSession(clientPublic string, clientSession Session, serverSessionProof string) error {
	A, err := parseHexInt(clientPublic)
	if err != nil {
		return err
	}
	key, err := hex.DecodeString(clientSession.Key)
	if err != nil {
		return fmt.Errorf("srp: invalid session key: %w", err)
	}
	m1, err := hex.DecodeString(clientSession.Proof)
	if err != nil {
		return fmt.Errorf("srp: invalid session proof: %w", err)
	}

	expected := hashBytes(intBytes(A), m1, key)
	got, err := hex.DecodeString(strings.ToLower(serverSessionProof))
	if err != nil || subtle.ConstantTimeCompare(expected, got) != 1 {
		return ErrProofMismatch
	}
	return nil
}

// clientProof computes M1 = H(H(N) xor H(g), H(I), s, A, B, K).
func clientProof(username string, salt []byte, A, B *big.Int, key []byte) []byte {
	hN := sha256.Sum256(intBytes(bigN))
	hG := sha256.Sum256(intBytes(bigG))
	for i := range hN {
		hN[i] ^= hG[i]
	}
	hI := sha256.Sum256([]byte(username))
	return hashBytes(hN[:], hI[:], salt, intBytes(A), intBytes(B), key)
}

// --- big.Int and hashing helpers ---

func randomInt() *big.Int {
	return new(big.Int).SetBytes(common.GenerateRandByteArray(32))
}

func hashBytes(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func hashHex(parts ...[]byte) string {
	return hex.EncodeToString(hashBytes(parts...))
}

func hashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(hashBytes(parts...))
}

func intBytes(i *big.Int) []byte {
	return i.Bytes()
}

// padBytes left-pads a value to the byte length of N, as RFC 5054 requires
// for the u and k hashes.
func padBytes(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) >= padLen {
		return b
	}
	out := make([]byte, padLen)
	copy(out[padLen-len(b):], b)
	return out
}

func intHex(i *big.Int) string {
	return hex.EncodeToString(i.Bytes())
}

func parseHexInt(s string) (*big.Int, error) {
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("srp: invalid hex value: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}

func mustHexInt(s string) *big.Int {
	i, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: bad group constant")
	}
	return i
}
