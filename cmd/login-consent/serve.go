package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-training/login-consent/pkg/artifact"
	"github.com/go-training/login-consent/pkg/config"
	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/credential"
	"github.com/go-training/login-consent/pkg/flow"
	"github.com/go-training/login-consent/pkg/logger"
	"github.com/go-training/login-consent/pkg/metrics"
	"github.com/go-training/login-consent/pkg/operation"
	"github.com/go-training/login-consent/pkg/server"
	"github.com/go-training/login-consent/pkg/store"
	"github.com/go-training/login-consent/pkg/upstream"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the login and consent server",
		Long: `Start the login and consent server. It resolves pending sessions with the
session directory, authenticates users against the credential store and asks
the code issuer for an authorization code once consent is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	f := cmd.Flags()
	f.String(config.KeyAddr, config.DefaultAddr, "Address to listen on; PORT overrides the default")
	f.String(config.KeyArtifactKey, "", "Base64 32 byte key sealing the consent artifact; random per process when empty")
	f.Duration(config.KeyArtifactTTL, artifact.DefaultTTL, "Lifetime of the consent artifact")
	f.String(config.KeyStaticDir, "public", "Directory holding css, img and js assets")
	f.String(config.KeyPostLogout, "cancel", "Where /logout redirects")
	f.String(config.KeyDefaultLogo, "", "Logo shown when a client has none")
	f.String(config.KeyAdminKey, "", "Bearer key enabling the /mcp operator endpoint")
	f.StringSlice(config.KeyMCPOrigins, nil, "Browser origins allowed to call /mcp")
	addStoreFlags(cmd)
	addUpstreamFlags(cmd)
	return cmd
}

// openStore creates the configured credential store.
func openStore(cfg *config.Config) (core.CredentialStore, error) {
	credStore, err := store.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	slog.Info("Using credential store", "store", cfg.Store)
	return credStore, nil
}

// closeStore releases the Redis connection, if any.
func closeStore(s core.CredentialStore) {
	if redisStore, ok := s.(*store.RedisStore); ok {
		redisStore.Close()
	}
}

func newSealer(cfg *config.Config) (*artifact.Sealer, error) {
	key := cfg.ArtifactKey
	if key == nil {
		slog.Warn("No artifact key configured, consent artifacts will not survive a restart")
		var err error
		if key, err = artifact.NewRandomKey(); err != nil {
			return nil, err
		}
	}
	return artifact.NewSealer(key, artifact.WithTTL(cfg.ArtifactTTL))
}

func newUpstreamClient(cfg *config.Config, m *metrics.Metrics) *upstream.Client {
	return upstream.NewClient(
		upstream.WithAPIKey(cfg.SessionAPIKey),
		upstream.WithTimeout(cfg.UpstreamTimeout),
		upstream.WithLocator(cfg.Locator),
		upstream.WithMetrics(m),
	)
}

func runServe(cfg *config.Config) error {
	if logger.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	credStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	validator, err := credential.NewValidator(credStore)
	if err != nil {
		closeStore(credStore)
		return err
	}
	sealer, err := newSealer(cfg)
	if err != nil {
		closeStore(credStore)
		return err
	}

	mtr := metrics.New()
	client := newUpstreamClient(cfg, mtr)

	ctl := flow.NewController(client, validator, client, sealer,
		flow.WithMetrics(mtr),
		flow.WithDefaultLogo(cfg.DefaultLogo),
		flow.WithPostLogoutPath(cfg.PostLogoutPath),
	)

	opts := server.Options{
		Metrics:    mtr,
		Store:      credStore,
		StaticDir:  cfg.StaticDir,
		AdminKey:   cfg.AdminKey,
		MCPOrigins: cfg.MCPOrigins,
	}
	if cfg.AdminKey != "" {
		opts.MCP = operation.NewMCPServer(Version, credStore, client)
		slog.Info("Operator MCP endpoint enabled", "path", "/mcp")
	}

	engine, err := server.New(ctl, opts)
	if err != nil {
		closeStore(credStore)
		return err
	}
	srv := server.NewHTTPServer(cfg.Addr, engine)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		closeStore(credStore)
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	serveErr := make(chan error, 1)
	m := graceful.NewManager()
	m.AddRunningJob(func(context.Context) error {
		slog.Info("Login and consent server listening", "addr", ln.Addr().String(), "version", Version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			serveErr <- err
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	m.AddShutdownJob(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutdown signal received, shutting down server...")
		defer closeStore(credStore)
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server shutdown gracefully")
		return nil
	})

	<-m.Done()
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}
