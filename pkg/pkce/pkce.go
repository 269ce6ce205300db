// Package pkce contrives PKCE proof keys (RFC 7636) for exercising the
// authorization flow by hand.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/oauth2"
)

// Challenge methods.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// Verifier length bounds.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// ErrVerifierLength is returned for a requested length outside 43..128.
var ErrVerifierLength = errors.New("code_verifier length must be between 43 and 128")

// ProofKey is a code_verifier and its derived code_challenge.
type ProofKey struct {
	Verifier  string `json:"code_verifier"`
	Challenge string `json:"code_challenge"`
	Method    string `json:"code_challenge_method"`
}

// NewProofKey returns a fresh S256 proof key. A zero length uses the
// oauth2 package's default verifier.
func NewProofKey(length int) (ProofKey, error) {
	var verifier string
	if length == 0 {
		verifier = oauth2.GenerateVerifier()
	} else {
		if length < MinVerifierLength || length > MaxVerifierLength {
			return ProofKey{}, ErrVerifierLength
		}
		v, err := randomVerifier(length)
		if err != nil {
			return ProofKey{}, err
		}
		verifier = v
	}
	return ProofKey{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    MethodS256,
	}, nil
}

func randomVerifier(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(unreserved)))
	for range length {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate verifier: %w", err)
		}
		b.WriteByte(unreserved[n.Int64()])
	}
	return b.String(), nil
}

// ValidVerifier reports whether v is a syntactically valid code_verifier.
func ValidVerifier(v string) bool {
	if len(v) < MinVerifierLength || len(v) > MaxVerifierLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !strings.ContainsRune(unreserved, rune(v[i])) {
			return false
		}
	}
	return true
}

// ComputeChallenge derives the code_challenge for verifier.
func ComputeChallenge(verifier, method string) (string, error) {
	switch method {
	case MethodS256, "":
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("unsupported code_challenge_method %q", method)
	}
}

// Base64ToBase64URL converts standard base64 text to the unpadded URL-safe
// alphabet used for code challenges.
func Base64ToBase64URL(s string) string {
	s = strings.TrimRight(s, "=")
	return strings.NewReplacer("+", "-", "/", "_").Replace(s)
}
