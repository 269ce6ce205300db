package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-training/login-consent/pkg/core"

	"github.com/redis/rueidis"
)

// Key prefix for Redis storage
const userPrefix = "user:"

// RedisStore implements core.CredentialStore using Redis via rueidis.
// Each user is a hash at user:<username>; roles are kept comma separated.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// DisableCache turns off client side caching, needed for servers
	// without RESP3 client tracking.
	DisableCache bool
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	return NewRedisStoreFromClientOption(rueidis.ClientOption{
		InitAddress:  []string{opts.Addr},
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: opts.DisableCache,
	})
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

// LookupUser reads the user hash for username.
// It returns ErrUserNotFound if the hash does not exist.
func (r *RedisStore) LookupUser(ctx context.Context, username string) (*core.UserRecord, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	cmd := r.client.B().Hgetall().Key(userPrefix + username).Build()
	fields, err := r.client.Do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get user from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrUserNotFound
	}

	rec := &core.UserRecord{Username: username, Attributes: map[string]any{}}
	for k, v := range fields {
		switch k {
		case core.AttrPassword:
			rec.Password = v
		case core.AttrPasswordHash:
			rec.PasswordHash = v
		case core.AttrHash:
		case core.AttrRoles:
			rec.Attributes[k] = core.SplitRoles(v)
		default:
			rec.Attributes[k] = v
		}
	}
	return rec, nil
}

// PutUser replaces the stored hash for rec.Username.
func (r *RedisStore) PutUser(ctx context.Context, rec *core.UserRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	if rec.Username == "" {
		return ErrEmptyUsername
	}
	if !rec.HasSecret() {
		return fmt.Errorf("user %s has no password or password_hash", rec.Username)
	}

	values, err := encodeAttributes(rec)
	if err != nil {
		return err
	}

	key := userPrefix + rec.Username
	hset := r.client.B().Hset().Key(key).FieldValue()
	for _, f := range slices.Sorted(maps.Keys(values)) {
		hset = hset.FieldValue(f, values[f])
	}

	cmds := rueidis.Commands{
		r.client.B().Del().Key(key).Build(),
		hset.Build(),
	}
	for _, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to save user to redis: %w", err)
		}
	}
	return nil
}

// DeleteUser removes a user hash.
// It returns ErrUserNotFound if the user does not exist.
func (r *RedisStore) DeleteUser(ctx context.Context, username string) error {
	if username == "" {
		return ErrEmptyUsername
	}

	n, err := r.client.Do(ctx, r.client.B().Del().Key(userPrefix+username).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete user from redis: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func encodeAttributes(rec *core.UserRecord) (map[string]string, error) {
	values := make(map[string]string, len(rec.Attributes)+1)
	for k, v := range rec.Attributes {
		if core.IsSecretAttr(k) {
			continue
		}
		s, err := flattenValue(v)
		if err != nil {
			return nil, fmt.Errorf("user %s attribute %s: %w", rec.Username, k, err)
		}
		values[k] = s
	}
	if rec.PasswordHash != "" {
		values[core.AttrPasswordHash] = rec.PasswordHash
	}
	if rec.Password != "" {
		values[core.AttrPassword] = rec.Password
	}
	return values, nil
}

// flattenValue renders an attribute as a single hash field value.
func flattenValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []string:
		return strings.Join(t, ","), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ","), nil
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(t), nil
	}
}
