// Package config loads the login-and-consent settings from flags, the
// environment and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-training/login-consent/pkg/artifact"
	"github.com/go-training/login-consent/pkg/store"
	"github.com/go-training/login-consent/pkg/upstream"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LAC_SESSION_API_KEY.
const EnvPrefix = "LAC"

// DefaultAddr is the listen address when neither --addr nor PORT is set.
const DefaultAddr = ":5150"

// Setting keys, shared by flags, environment and config file.
const (
	KeyAddr           = "addr"
	KeyLogLevel       = "log-level"
	KeySessionAPIKey  = "session-api-key"
	KeyOwnSegment     = "own-segment"
	KeySessionSegment = "session-segment"
	KeyIssuerSegment  = "issuer-segment"
	KeyAllowedHosts   = "allowed-hosts"
	KeyTimeout        = "upstream-timeout"
	KeyStore          = "store"
	KeyUserDB         = "user-db"
	KeyRedisAddr      = "redis-addr"
	KeyRedisPassword  = "redis-password"
	KeyRedisDB        = "redis-db"
	KeyRedisNoCache   = "redis-disable-cache"
	KeyArtifactKey    = "artifact-key"
	KeyArtifactTTL    = "artifact-ttl"
	KeyStaticDir      = "static-dir"
	KeyPostLogout     = "post-logout-path"
	KeyDefaultLogo    = "default-logo"
	KeyAdminKey       = "admin-key"
	KeyMCPOrigins     = "mcp-allowed-origins"
)

// Config is the resolved process configuration. It is loaded once at start.
type Config struct {
	Addr     string
	LogLevel string

	SessionAPIKey   string
	Locator         upstream.Locator
	UpstreamTimeout time.Duration

	Store store.Config

	// ArtifactKey is the 32 byte consent sealing key; nil means a random
	// key per process.
	ArtifactKey []byte
	ArtifactTTL time.Duration

	StaticDir      string
	PostLogoutPath string
	DefaultLogo    string

	// AdminKey enables the /mcp operator endpoint when set.
	AdminKey   string
	MCPOrigins []string
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAddr, DefaultAddr)
	v.SetDefault(KeyOwnSegment, upstream.DefaultOwnSegment)
	v.SetDefault(KeySessionSegment, upstream.DefaultSessionSegment)
	v.SetDefault(KeyIssuerSegment, upstream.DefaultIssuerSegment)
	v.SetDefault(KeyTimeout, upstream.DefaultTimeout)
	v.SetDefault(KeyStore, string(store.StoreTypeMemory))
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyArtifactTTL, artifact.DefaultTTL)
	v.SetDefault(KeyStaticDir, "public")
	v.SetDefault(KeyPostLogout, "cancel")
}

// NewViper returns a viper instance reading LAC_* environment variables,
// with dashes in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load resolves the configuration from v. A config file, when named, is
// read first; flags and environment override it.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	addr := v.GetString(KeyAddr)
	if !v.IsSet(KeyAddr) || addr == DefaultAddr {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		}
	}

	cfg := &Config{
		Addr:          addr,
		LogLevel:      v.GetString(KeyLogLevel),
		SessionAPIKey: v.GetString(KeySessionAPIKey),
		Locator: upstream.Locator{
			OwnSegment:     v.GetString(KeyOwnSegment),
			SessionSegment: v.GetString(KeySessionSegment),
			IssuerSegment:  v.GetString(KeyIssuerSegment),
			AllowedHosts:   v.GetStringSlice(KeyAllowedHosts),
		},
		UpstreamTimeout: v.GetDuration(KeyTimeout),
		Store: store.Config{
			Type:   store.StoreType(strings.ToLower(v.GetString(KeyStore))),
			UserDB: v.GetString(KeyUserDB),
			Redis: store.RedisOptions{
				Addr:         v.GetString(KeyRedisAddr),
				Password:     v.GetString(KeyRedisPassword),
				DB:           v.GetInt(KeyRedisDB),
				DisableCache: v.GetBool(KeyRedisNoCache),
			},
		},
		ArtifactTTL:    v.GetDuration(KeyArtifactTTL),
		StaticDir:      v.GetString(KeyStaticDir),
		PostLogoutPath: v.GetString(KeyPostLogout),
		DefaultLogo:    v.GetString(KeyDefaultLogo),
		AdminKey:       v.GetString(KeyAdminKey),
		MCPOrigins:     v.GetStringSlice(KeyMCPOrigins),
	}

	if raw := v.GetString(KeyArtifactKey); raw != "" {
		key, err := artifact.DecodeKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyArtifactKey, err)
		}
		cfg.ArtifactKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.Locator.SessionSegment == "" || c.Locator.IssuerSegment == "" {
		errs = append(errs, errors.New("session and issuer segments are required"))
	}
	if c.Locator.SessionSegment == c.Locator.IssuerSegment {
		errs = append(errs, errors.New("session and issuer segments must differ"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyTimeout))
	}
	if c.ArtifactTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyArtifactTTL))
	}
	if _, err := store.ParseStoreType(string(c.Store.Type)); err != nil {
		errs = append(errs, err)
	}
	if c.Store.Type == store.StoreTypeRedis && c.Store.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("%s is required for the redis store", KeyRedisAddr))
	}
	return errors.Join(errs...)
}
