// Package operation exposes operator tools for the login-and-consent app
// over MCP, on stdio or mounted on the HTTP server.
package operation

import (
	"context"
	"net/http"
	"time"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/observability"

	"github.com/mark3labs/mcp-go/server"
)

// MCPServer wraps the underlying MCP server instance together with the
// collaborators its tools read from context.
type MCPServer struct {
	server   *server.MCPServer
	store    core.CredentialStore
	resolver core.SessionResolver
}

// NewMCPServer creates and configures a new MCPServer instance with the
// operator tools registered.
func NewMCPServer(version string, store core.CredentialStore, resolver core.SessionResolver) *MCPServer {
	mcpServer := server.NewMCPServer(
		"login-consent-operator",
		version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(observability.MCPToolHandlerMiddleware()),
	)

	RegisterOperatorTools(mcpServer)

	return &MCPServer{
		server:   mcpServer,
		store:    store,
		resolver: resolver,
	}
}

// withCollaborators injects the store and resolver into ctx, keeping a
// request id set by the HTTP middleware.
func (s *MCPServer) withCollaborators(ctx context.Context) context.Context {
	ctx = core.WithStore(ctx, s.store)
	ctx = core.WithResolver(ctx, s.resolver)
	if core.RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return core.WithRequestID(ctx)
}

// ServeHTTP returns a streamable HTTP server that injects the collaborators
// into every tool call context.
func (s *MCPServer) ServeHTTP() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
		server.WithHTTPContextFunc(func(ctx context.Context, _ *http.Request) context.Context {
			return s.withCollaborators(ctx)
		}),
	)
}

// ServeStdio starts the MCP server using stdio transport.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server, server.WithStdioContextFunc(s.withCollaborators))
}
