// Package session provides the MCP tool for asking the session directory
// about a pending authorization.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/upstream"

	"github.com/mark3labs/mcp-go/mcp"
)

// InspectSessionTool defines the MCP tool for resolving a session id.
var InspectSessionTool = mcp.NewTool("inspect_session",
	mcp.WithDescription("Resolve a session id through the session directory, as GET /login would"),
	mcp.WithString("sessionid",
		mcp.Description("The opaque session id from the authorization request"),
		mcp.Required(),
	),
	mcp.WithString("base_url",
		mcp.Description("Externally visible base URL of the login app, e.g. https://org-test.example.net/login-and-consent"),
		mcp.Required(),
	),
)

// HandleInspectSessionTool is an MCP tool handler that resolves a session id
// with the resolver in context and returns the pending authorization.
func HandleInspectSessionTool(
	ctx context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Handling inspect_session tool")

	args := req.GetArguments()
	sessionID, _ := args["sessionid"].(string)
	baseURL, ok := args["base_url"].(string)
	if !ok || baseURL == "" {
		return nil, fmt.Errorf("invalid base_url argument")
	}

	resolver, err := core.ResolverFromContext(ctx)
	if err != nil {
		logger.Error("Missing resolver from context", "error", err)
		return nil, err
	}

	info, err := resolver.Resolve(ctx, sessionID, baseURL)
	if errors.Is(err, upstream.ErrSessionNotFound) {
		return mcp.NewToolResultError("the sessionid is not known"), nil
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
