// Package artifact seals an authenticated profile into the opaque consent
// token that travels through the browser between the login and consent
// steps, and opens it again on the way back.
package artifact

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-training/login-consent/pkg/core"

	"github.com/go-jose/go-jose/v4"
)

// KeySize is the length of the symmetric sealing key in bytes.
const KeySize = 32

// MaxTokenSize bounds the token accepted by Open.
const MaxTokenSize = 16 * 1024

// DefaultTTL is how long a consent token stays valid.
const DefaultTTL = 10 * time.Minute

var (
	// ErrInvalidKey is returned when the sealing key is not KeySize bytes.
	ErrInvalidKey = errors.New("artifact key must be 32 bytes")
	// ErrMalformed is returned for tokens that cannot be decrypted or parsed.
	ErrMalformed = errors.New("malformed consent artifact")
	// ErrExpired is returned when the token is older than its TTL.
	ErrExpired = errors.New("consent artifact expired")
	// ErrSessionMismatch is returned when the token was sealed for another session.
	ErrSessionMismatch = errors.New("consent artifact bound to another session")
)

var (
	keyAlgorithms     = []jose.KeyAlgorithm{jose.DIRECT}
	contentEncryption = []jose.ContentEncryption{jose.A256GCM}
)

// payload is the sealed document.
type payload struct {
	SessionID string       `json:"sid"`
	IssuedAt  int64        `json:"iat"`
	ExpiresAt int64        `json:"exp"`
	Profile   core.Profile `json:"profile"`
}

// Sealer encrypts and authenticates consent artifacts with a symmetric key.
type Sealer struct {
	key []byte
	enc jose.Encrypter
	ttl time.Duration
	now func() time.Time
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Sealer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sealer) {
		s.now = now
	}
}

// NewSealer creates a Sealer for the given 32 byte key.
func NewSealer(key []byte, opts ...Option) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: key}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypter: %w", err)
	}

	s := &Sealer{
		key: bytes.Clone(key),
		enc: enc,
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewRandomKey returns a fresh sealing key.
func NewRandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// DecodeKey parses a base64 (standard or URL alphabet) encoded key.
func DecodeKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(s); err == nil {
			if len(key) != KeySize {
				return nil, ErrInvalidKey
			}
			return key, nil
		}
	}
	return nil, fmt.Errorf("artifact key is not valid base64")
}

// Seal returns the compact JWE for profile, bound to sessionID. Credential
// attributes are stripped before sealing.
func (s *Sealer) Seal(sessionID string, profile core.Profile) (string, error) {
	if profile.Email() == "" {
		return "", errors.New("profile has no email")
	}
	now := s.now()
	body, err := json.Marshal(payload{
		SessionID: sessionID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
		Profile:   profile.Public(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}

	obj, err := s.enc.Encrypt(body)
	if err != nil {
		return "", fmt.Errorf("failed to seal profile: %w", err)
	}
	return obj.CompactSerialize()
}

// Open decrypts token and returns the profile it carries. The token is
// untrusted input: it must decrypt under the key, belong to sessionID, be
// unexpired and hold a well-formed profile.
func (s *Sealer) Open(sessionID, token string) (core.Profile, error) {
	if token == "" || len(token) > MaxTokenSize {
		return nil, ErrMalformed
	}

	obj, err := jose.ParseEncryptedCompact(token, keyAlgorithms, contentEncryption)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	body, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if p.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}
	if s.now().Unix() > p.ExpiresAt {
		return nil, ErrExpired
	}
	if p.Profile.Email() == "" {
		return nil, fmt.Errorf("%w: profile has no email", ErrMalformed)
	}
	for k := range p.Profile {
		if core.IsSecretAttr(k) {
			return nil, fmt.Errorf("%w: unexpected attribute %q", ErrMalformed, k)
		}
	}
	return p.Profile, nil
}
