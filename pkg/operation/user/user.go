// Package user provides the MCP tool for inspecting credential store records.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-training/login-consent/pkg/core"
	"github.com/go-training/login-consent/pkg/store"

	"github.com/mark3labs/mcp-go/mcp"
)

// LookupUserTool defines the MCP tool for showing a stored user's public profile.
var LookupUserTool = mcp.NewTool("lookup_user",
	mcp.WithDescription(`Lookup User Tool

Description:
  Returns the profile a successful login would hand to the code issuer for the
  given username. Credentials are never included.

Input Parameters:
  - username (string, required): The login name, usually an email address.

Output:
  - A JSON object with the user's attributes, or a "user not found" error result.`),
	mcp.WithString("username",
		mcp.Description("The username to look up"),
		mcp.Required(),
	),
)

// lookupResult is the tool's JSON answer.
type lookupResult struct {
	Username  string       `json:"username"`
	HasSecret bool         `json:"has_secret"`
	Hashed    bool         `json:"hashed"`
	Profile   core.Profile `json:"profile"`
}

// HandleLookupUserTool is an MCP tool handler that reads a record from the
// credential store in context and returns its public profile.
func HandleLookupUserTool(
	ctx context.Context,
	req mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Handling lookup_user tool")

	username, ok := req.GetArguments()["username"].(string)
	if !ok || username == "" {
		return nil, fmt.Errorf("invalid username argument")
	}

	s, err := core.StoreFromContext(ctx)
	if err != nil {
		logger.Error("Missing store from context", "error", err)
		return nil, err
	}

	rec, err := s.LookupUser(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return mcp.NewToolResultError("user not found: " + username), nil
	}
	if err != nil {
		logger.Error("Failed to look up user", "error", err)
		return nil, err
	}

	data, err := json.Marshal(lookupResult{
		Username:  rec.Username,
		HasSecret: rec.HasSecret(),
		Hashed:    rec.PasswordHash != "",
		Profile:   rec.Profile(),
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
