// Package proofkey provides the MCP tool for contriving PKCE proof keys.
package proofkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-training/login-consent/pkg/pkce"

	"github.com/mark3labs/mcp-go/mcp"
)

// ContriveProofKeyTool defines the MCP tool for generating a code_verifier
// and code_challenge pair.
var ContriveProofKeyTool = mcp.NewTool("contrive_proof_key",
	mcp.WithDescription(`Contrive Proof Key Tool

Description:
  Produces a PKCE code_verifier and its S256 code_challenge for driving the
  authorization flow by hand. When a verifier is given, only its challenge is
  computed.

Input Parameters:
  - length (number, optional): Verifier length, 43 to 128.
  - verifier (string, optional): An existing verifier to derive the challenge for.`),
	mcp.WithNumber("length",
		mcp.Description("Length of the generated code_verifier (43-128)"),
	),
	mcp.WithString("verifier",
		mcp.Description("Existing code_verifier to compute the challenge for"),
	),
)

// HandleContriveProofKeyTool is the handler function for the MCP tool "contrive_proof_key".
func HandleContriveProofKeyTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	var pk pkce.ProofKey
	if verifier, ok := args["verifier"].(string); ok && verifier != "" {
		if !pkce.ValidVerifier(verifier) {
			return mcp.NewToolResultError("verifier must be 43-128 unreserved characters"), nil
		}
		challenge, err := pkce.ComputeChallenge(verifier, pkce.MethodS256)
		if err != nil {
			return nil, err
		}
		pk = pkce.ProofKey{Verifier: verifier, Challenge: challenge, Method: pkce.MethodS256}
	} else {
		length := 0
		if v, ok := args["length"].(float64); ok {
			length = int(v)
		}
		var err error
		pk, err = pkce.NewProofKey(length)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	data, err := json.Marshal(pk)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof key: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
