package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/go-training/login-consent/pkg/core"
)

var (
	// ErrUserNotFound is returned when no record exists for a username.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmptyUsername is returned when the username string is empty.
	ErrEmptyUsername = errors.New("username cannot be empty")
	// ErrNilRecord is returned when attempting to store a nil record.
	ErrNilRecord = errors.New("user record cannot be nil")
	// ErrDuplicateUser is returned when a username appears twice in a user DB.
	ErrDuplicateUser = errors.New("duplicate user")
)

// MemoryStore implements core.CredentialStore over a fixed table. The table
// is built once by NewMemoryStore and never mutated afterwards, so lookups
// need no locking.
type MemoryStore struct {
	users map[string]*core.UserRecord
}

// NewMemoryStore creates a MemoryStore holding the given records.
func NewMemoryStore(records ...*core.UserRecord) (*MemoryStore, error) {
	users := make(map[string]*core.UserRecord, len(records))
	for _, rec := range records {
		if rec == nil {
			return nil, ErrNilRecord
		}
		if rec.Username == "" {
			return nil, ErrEmptyUsername
		}
		if _, exists := users[rec.Username]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUser, rec.Username)
		}
		users[rec.Username] = copyRecord(rec)
	}
	return &MemoryStore{users: users}, nil
}

// NewDefaultMemoryStore returns a MemoryStore seeded with DefaultUsers.
func NewDefaultMemoryStore() *MemoryStore {
	m, err := NewMemoryStore(DefaultUsers()...)
	if err != nil {
		panic(fmt.Sprintf("default user table is invalid: %v", err))
	}
	return m
}

// LookupUser returns a copy of the record stored for username.
// It returns ErrUserNotFound if the user does not exist.
func (m *MemoryStore) LookupUser(ctx context.Context, username string) (*core.UserRecord, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	rec, exists := m.users[username]
	if !exists {
		return nil, ErrUserNotFound
	}
	return copyRecord(rec), nil
}

// Ping always succeeds for the in-memory table.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Records returns copies of every stored record, ordered by username.
func (m *MemoryStore) Records() []*core.UserRecord {
	names := slices.Sorted(maps.Keys(m.users))
	out := make([]*core.UserRecord, 0, len(names))
	for _, n := range names {
		out = append(out, copyRecord(m.users[n]))
	}
	return out
}

func copyRecord(rec *core.UserRecord) *core.UserRecord {
	cp := *rec
	cp.Attributes = maps.Clone(rec.Attributes)
	if cp.Attributes == nil {
		cp.Attributes = map[string]any{}
	}
	return &cp
}
