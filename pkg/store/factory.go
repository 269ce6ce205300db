package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-training/login-consent/pkg/core"
)

// StoreType represents the type of store backend.
type StoreType string

const (
	// StoreTypeMemory represents the in-memory user table.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeRedis represents Redis storage.
	StoreTypeRedis StoreType = "redis"
)

// ErrUnknownStoreType is returned for store types other than memory and redis.
var ErrUnknownStoreType = errors.New("unknown store type")

// Config contains configuration for creating a store.
type Config struct {
	// Type specifies the store type (memory or redis).
	Type StoreType
	// UserDB is an optional user DB file replacing the built-in table of
	// the memory store.
	UserDB string
	// Redis contains Redis-specific configuration.
	Redis RedisOptions
}

// Factory creates store instances based on configuration.
type Factory struct {
	config Config
}

// NewFactory creates a new store factory with the provided configuration.
func NewFactory(config Config) *Factory {
	return &Factory{
		config: config,
	}
}

// Create creates and returns a new store instance based on the factory configuration.
// Returns an error if the store type is invalid or if store creation fails.
func (f *Factory) Create() (core.CredentialStore, error) {
	switch f.config.Type {
	case StoreTypeMemory:
		if f.config.UserDB == "" {
			return NewDefaultMemoryStore(), nil
		}
		records, err := LoadUserDB(f.config.UserDB)
		if err != nil {
			return nil, err
		}
		return NewMemoryStore(records...)
	case StoreTypeRedis:
		return NewRedisStoreFromOptions(f.config.Redis)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStoreType, f.config.Type)
	}
}

// NewStore is a convenience function that creates a store directly from configuration.
// It's equivalent to NewFactory(config).Create().
func NewStore(config Config) (core.CredentialStore, error) {
	return NewFactory(config).Create()
}

// ParseStoreType parses a case-insensitive store type name.
func ParseStoreType(s string) (StoreType, error) {
	t := StoreType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w %q", ErrUnknownStoreType, s)
	}
	return t, nil
}

// String returns the string representation of a StoreType.
func (t StoreType) String() string {
	return string(t)
}

// IsValid returns true if the StoreType is valid.
func (t StoreType) IsValid() bool {
	switch t {
	case StoreTypeMemory, StoreTypeRedis:
		return true
	default:
		return false
	}
}

// LogValue describes the store for logs without the Redis password.
func (c Config) LogValue() slog.Value {
	switch c.Type {
	case StoreTypeRedis:
		return slog.GroupValue(
			slog.String("type", c.Type.String()),
			slog.String("addr", c.Redis.Addr),
			slog.Int("db", c.Redis.DB),
			slog.Bool("cache", !c.Redis.DisableCache),
		)
	case StoreTypeMemory:
		src := "built-in"
		if c.UserDB != "" {
			src = c.UserDB
		}
		return slog.GroupValue(
			slog.String("type", c.Type.String()),
			slog.String("users", src),
		)
	default:
		return slog.GroupValue(slog.String("type", c.Type.String()))
	}
}

// DefaultConfig returns the default store configuration (built-in memory table).
func DefaultConfig() Config {
	return MemoryConfig("")
}

// RedisConfig creates a Redis store configuration with the provided options.
func RedisConfig(redisOpts RedisOptions) Config {
	return Config{
		Type:  StoreTypeRedis,
		Redis: redisOpts,
	}
}

// MemoryConfig creates a memory store configuration, optionally loading the
// table from a user DB file.
func MemoryConfig(userDB string) Config {
	return Config{
		Type:   StoreTypeMemory,
		UserDB: userDB,
	}
}
