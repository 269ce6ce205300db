package operation

import (
	"github.com/go-training/login-consent/pkg/operation/proofkey"
	"github.com/go-training/login-consent/pkg/operation/session"
	"github.com/go-training/login-consent/pkg/operation/user"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

/*
RegisterOperatorTools registers the operator tools to the specified MCPServer instance.

Parameters:
  - s: Pointer to the MCPServer instance where the tools will be registered.

lookup_user and contrive_proof_key stay inside the process; inspect_session
calls the session directory. lookup_user and inspect_session expect a
credential store and a session resolver in the tool call context.
*/
func RegisterOperatorTools(s *server.MCPServer) {
	tool := &Tool{}

	tool.RegisterLocal(server.ServerTool{
		Tool:    user.LookupUserTool,
		Handler: user.HandleLookupUserTool,
	})
	tool.RegisterLocal(server.ServerTool{
		Tool:    proofkey.ContriveProofKeyTool,
		Handler: proofkey.HandleContriveProofKeyTool,
	})
	tool.RegisterRemote(server.ServerTool{
		Tool:    session.InspectSessionTool,
		Handler: session.HandleInspectSessionTool,
	})

	s.AddTools(tool.Tools()...)
}

/*
Tool collects the operator tools and annotates them for clients. None of the
tools change state, so every tool is marked read-only.

Fields:
  - local: Tools answered from the process and its credential store.
  - remote: Tools that reach the sibling services.
*/
type Tool struct {
	local  []server.ServerTool
	remote []server.ServerTool
}

// RegisterLocal registers a tool that does not leave the process.
func (t *Tool) RegisterLocal(s server.ServerTool) {
	t.local = append(t.local, annotate(s, false))
}

// RegisterRemote registers a tool that calls a sibling service.
func (t *Tool) RegisterRemote(s server.ServerTool) {
	t.remote = append(t.remote, annotate(s, true))
}

// Tools returns all registered ServerTools, local tools first.
func (t *Tool) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(t.local)+len(t.remote))
	tools = append(tools, t.local...)
	tools = append(tools, t.remote...)
	return tools
}

func annotate(s server.ServerTool, openWorld bool) server.ServerTool {
	s.Tool.Annotations.ReadOnlyHint = mcp.ToBoolPtr(true)
	s.Tool.Annotations.DestructiveHint = mcp.ToBoolPtr(false)
	s.Tool.Annotations.OpenWorldHint = mcp.ToBoolPtr(openWorld)
	return s
}
