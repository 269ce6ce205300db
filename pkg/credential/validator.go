// Package credential checks a username/password pair against a
// core.CredentialStore.
package credential

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/store"

	"golang.org/x/crypto/bcrypt"
)

// Validator authenticates credentials. Every attempt that reaches the store
// costs exactly one bcrypt comparison, whether the user exists, has a
// plaintext password or has a hashed one, so response time does not reveal
// which usernames are registered.
type Validator struct {
	store     core.CredentialStore
	dummyHash []byte
}

// Option configures a Validator.
type Option func(*options)

type options struct {
	cost int
}

// WithHashCost sets the bcrypt cost of the comparison used to equalise
// timing. It should match the cost of the stored hashes.
func WithHashCost(cost int) Option {
	return func(o *options) {
		o.cost = cost
	}
}

// NewValidator creates a Validator over the given store.
func NewValidator(s core.CredentialStore, opts ...Option) (*Validator, error) {
	o := options{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&o)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("login-consent-timing"), o.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare timing hash: %w", err)
	}
	return &Validator{store: s, dummyHash: dummy}, nil
}

// Authenticate checks creds and reports the outcome. The returned error is
// only set when the store itself failed; a missing user or a wrong password
// is an outcome, not an error.
func (v *Validator) Authenticate(ctx context.Context, creds core.Credentials) (core.AuthOutcome, error) {
	logger := core.LoggerFromCtx(ctx)

	if creds.Username == "" || creds.Password == "" {
		return core.AuthOutcome{Kind: core.Unauthenticated}, nil
	}

	rec, err := v.store.LookupUser(ctx, creds.Username)
	if errors.Is(err, store.ErrUserNotFound) || (err == nil && !rec.HasSecret()) {
		v.burn(creds.Password)
		logger.Debug("Authentication failed", "reason", core.UserNotFound, "creds", creds)
		return core.AuthOutcome{Kind: core.UserNotFound}, nil
	}
	if err != nil {
		return core.AuthOutcome{}, fmt.Errorf("credential lookup failed: %w", err)
	}

	if !v.matches(rec, creds.Password) {
		logger.Debug("Authentication failed", "reason", core.Unauthenticated, "creds", creds)
		return core.AuthOutcome{Kind: core.Unauthenticated}, nil
	}

	logger.Debug("Authentication succeeded", "creds", creds)
	return core.AuthOutcome{Kind: core.Authenticated, Profile: rec.Profile()}, nil
}

func (v *Validator) matches(rec *core.UserRecord, password string) bool {
	if rec.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) == nil
	}
	v.burn(password)
	return subtle.ConstantTimeCompare([]byte(rec.Password), []byte(password)) == 1
}

// burn spends one bcrypt comparison against a hash that never matches.
func (v *Validator) burn(password string) {
	_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
}

// HashPassword returns a bcrypt hash suitable for a password_hash entry.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
