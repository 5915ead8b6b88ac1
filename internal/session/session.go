// Package session implements the Session Manager (C2): it turns a claim
// from the PTY Pool into a fully configured, running session, and
// mediates every subsequent interaction with it, grounded on the
// retrieval pack's hub orchestrator (SpawnAgent/CloseAgent/ordered
// navigation) but generalized to the fixed session/pane-index contract.
package session

import "github.com/synkhq/synk/internal/launch"

// AgentKind mirrors launch.Kind; re-exported here so callers of this
// package don't need to import launch directly for the common case.
type AgentKind = launch.Kind

const (
	ClaudeCode = launch.ClaudeCode
	GeminiCLI  = launch.GeminiCLI
	Codex      = launch.Codex
	OpenRouter = launch.OpenRouter
	Terminal   = launch.Terminal
)

// CreateArgs is the input to Manager.Create.
type CreateArgs struct {
	AgentKind      AgentKind
	ProjectPath    string
	BranchLabel    string
	WorkingDir     string // optional override; defaults to ProjectPath
	Model          string
	CodexProvider  string
	EnvOverrides   map[string]string
	Skills         []string
	MCPServers     []string
}

// CreateResult is the output of a successful Manager.Create.
type CreateResult struct {
	SessionID int64
	PaneIndex int
	Warning   string
}

// Session is the externally visible description of one live occupant of
// a pane, per spec §3 "Session".
type Session struct {
	SessionID   int64
	PaneIndex   int
	AgentKind   AgentKind
	ProjectPath string
	WorkingDir  string
	BranchLabel string
	Skills      []string
	MCPServers  []string
	Env         map[string]string
}
