package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// countingStore records lookups and can be told to fail.
type countingStore struct {
	core.CredentialStore
	lookups int
	err     error
}

func (s *countingStore) LookupUser(ctx context.Context, username string) (*core.UserRecord, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	return s.CredentialStore.LookupUser(ctx, username)
}

func newValidator(t *testing.T, records ...*core.UserRecord) (*Validator, *countingStore) {
	t.Helper()
	var base core.CredentialStore = store.NewDefaultMemoryStore()
	if len(records) > 0 {
		m, err := store.NewMemoryStore(records...)
		require.NoError(t, err)
		base = m
	}
	cs := &countingStore{CredentialStore: base}
	v, err := NewValidator(cs, WithHashCost(bcrypt.MinCost))
	require.NoError(t, err)
	return v, cs
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name        string
		creds       core.Credentials
		wantKind    core.OutcomeKind
		wantLookups int
	}{
		{
			name:        "correct password",
			creds:       core.Credentials{Username: "dino@apigee.com", Password: "IloveAPIs"},
			wantKind:    core.Authenticated,
			wantLookups: 1,
		},
		{
			name:        "wrong password",
			creds:       core.Credentials{Username: "dino@apigee.com", Password: "iloveapis"},
			wantKind:    core.Unauthenticated,
			wantLookups: 1,
		},
		{
			name:        "unknown user",
			creds:       core.Credentials{Username: "nobody@example.com", Password: "IloveAPIs"},
			wantKind:    core.UserNotFound,
			wantLookups: 1,
		},
		{
			name:        "empty username skips the store",
			creds:       core.Credentials{Password: "IloveAPIs"},
			wantKind:    core.Unauthenticated,
			wantLookups: 0,
		},
		{
			name:        "empty password skips the store",
			creds:       core.Credentials{Username: "dino@apigee.com"},
			wantKind:    core.Unauthenticated,
			wantLookups: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, cs := newValidator(t)

			out, err := v.Authenticate(context.Background(), tt.creds)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantLookups, cs.lookups)
			if tt.wantKind != core.Authenticated {
				assert.Nil(t, out.Profile)
			}
		})
	}
}

func TestAuthenticate_Profile(t *testing.T) {
	v, _ := newValidator(t)

	out, err := v.Authenticate(context.Background(), core.Credentials{
		Username: "dino@apigee.com",
		Password: "IloveAPIs",
	})
	require.NoError(t, err)
	require.Equal(t, core.Authenticated, out.Kind)

	assert.Equal(t, "dino@apigee.com", out.Profile.Email())
	assert.Equal(t, "Dino", out.Profile.GivenName())
	assert.Equal(t, "Chiesa", out.Profile.FamilyName())
	assert.Equal(t, []string{"read", "edit", "delete"}, out.Profile.Roles())
	assert.NotContains(t, out.Profile, core.AttrPassword)
}

func TestAuthenticate_HashedRecord(t *testing.T) {
	hash, err := HashPassword("s3cret!", bcrypt.MinCost)
	require.NoError(t, err)

	v, _ := newValidator(t, &core.UserRecord{
		Username:     "alice@example.com",
		PasswordHash: hash,
		Attributes:   map[string]any{"given_name": "Alice"},
	})

	out, err := v.Authenticate(context.Background(), core.Credentials{Username: "alice@example.com", Password: "s3cret!"})
	require.NoError(t, err)
	assert.Equal(t, core.Authenticated, out.Kind)
	assert.NotContains(t, out.Profile, core.AttrPasswordHash)

	out, err = v.Authenticate(context.Background(), core.Credentials{Username: "alice@example.com", Password: "S3cret!"})
	require.NoError(t, err)
	assert.Equal(t, core.Unauthenticated, out.Kind)
}

func TestAuthenticate_RecordWithoutSecret(t *testing.T) {
	v, _ := newValidator(t, &core.UserRecord{Username: "locked@example.com"})

	out, err := v.Authenticate(context.Background(), core.Credentials{Username: "locked@example.com", Password: "anything"})
	require.NoError(t, err)
	assert.Equal(t, core.UserNotFound, out.Kind)
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	v, cs := newValidator(t)
	cs.err = errors.New("connection refused")

	_, err := v.Authenticate(context.Background(), core.Credentials{Username: "dino@apigee.com", Password: "IloveAPIs"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cs.err)
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("", bcrypt.MinCost)
	assert.Error(t, err)

	h, err := HashPassword("pw", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")))
}
