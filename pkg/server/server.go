// Package server assembles the gin engine: middleware, the authorization
// flow routes and the operational endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/flow"
	"github.com/go-training/login-consent/pkg/metrics"
	"github.com/go-training/login-consent/pkg/observability"
	"github.com/go-training/login-consent/pkg/operation"

	ginslog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
)

// Timeouts applied by NewHTTPServer.
const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 30 * time.Second
	IdleTimeout  = 60 * time.Second
)

// staticDirs are served from the static directory when present.
var staticDirs = []string{"css", "img", "js"}

// Pinger reports whether the credential store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds the optional parts of the engine.
type Options struct {
	Metrics   *metrics.Metrics
	Store     Pinger
	StaticDir string
	MCP       *operation.MCPServer
	AdminKey  string
	// MCPOrigins are the browser origins allowed to call /mcp.
	MCPOrigins []string
}

// New builds the engine serving ctl and the operational endpoints.
func New(ctl *flow.Controller, opts Options) (*gin.Engine, error) {
	r := gin.New()
	r.Use(
		RequestID(),
		ginslog.SetLogger(ginslog.WithSkipPath([]string{"/healthz", "/metrics"})),
		observability.GinMiddleware(),
		gin.CustomRecovery(func(c *gin.Context, err any) {
			core.LoggerFromCtx(c.Request.Context()).Error("Panic while handling request",
				"path", c.Request.URL.Path, "error", err)
			ctl.RenderInternalError(c)
			c.Abort()
		}),
	)

	mountStatic(r, opts.StaticDir)

	r.GET("/healthz", healthz(opts.Store))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	if opts.MCP != nil && opts.AdminKey != "" {
		cors := CORS(opts.MCPOrigins)
		h := gin.WrapH(opts.MCP.ServeHTTP())
		r.OPTIONS("/mcp", cors)
		for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
			r.Handle(method, "/mcp", cors, AdminKey(opts.AdminKey), h)
		}
	}

	if err := ctl.Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

// NewHTTPServer wraps handler in an http.Server with the package timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}
}

func healthz(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				core.LoggerFromCtx(ctx).Warn("Credential store unhealthy", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func mountStatic(r *gin.Engine, dir string) {
	if dir == "" {
		return
	}
	for _, sub := range staticDirs {
		path := filepath.Join(dir, sub)
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			r.Static("/"+sub, path)
			slog.Debug("Serving static assets", "route", "/"+sub, "dir", path)
		}
	}
}
