// Package snapshot implements the Snapshot Engine (C4): it serializes the
// topology of active sessions to stable storage and can deterministically
// re-create that topology later, grounded on the retrieval pack's
// internal/config JSON-file persistence pattern but generalized from a
// single config file to a directory of named snapshots plus one autosave
// slot per project.
package snapshot

import (
	"time"

	"github.com/synkhq/synk/internal/session"
)

// SchemaVersion is bumped whenever the on-disk Snapshot shape changes in
// an incompatible way. Load rejects any file whose version it does not
// recognize.
const SchemaVersion = 1

// PaneEntry is one occupant of the saved topology.
type PaneEntry struct {
	PaneIndex        int               `json:"pane_index"`
	AgentKind        string            `json:"agent_kind"`
	BranchLabel      string            `json:"branch_label,omitempty"`
	WorkingDir       string            `json:"working_dir"`
	WorktreeIsolated bool              `json:"worktree_isolated"`
	Skills           []string          `json:"skills,omitempty"`
	MCPServers       []string          `json:"mcp_servers,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
}

// Snapshot is the serializable description of a session topology at a
// moment in time, per spec §3 "Session Snapshot". It never carries PTY
// identities, scrollback, or agent conversation state.
type Snapshot struct {
	SchemaVersion     int         `json:"schema_version"`
	Name              string      `json:"name"`
	Timestamp         time.Time   `json:"timestamp"`
	ProjectPath       string      `json:"project_path"`
	OrchestrationMode string      `json:"orchestration_mode"`
	GridLabel         string      `json:"grid_label"`
	Panes             []PaneEntry `json:"panes"`
}

func gridLabel(n int) string {
	switch {
	case n <= 1:
		return "1x1"
	case n <= 2:
		return "1x2"
	case n <= 4:
		return "2x2"
	case n <= 6:
		return "2x3"
	default:
		return "3x3"
	}
}

func fromTopology(name, projectPath, mode string, sessions []session.Session) Snapshot {
	panes := make([]PaneEntry, 0, len(sessions))
	for _, s := range sessions {
		panes = append(panes, PaneEntry{
			PaneIndex:   s.PaneIndex,
			AgentKind:   string(s.AgentKind),
			BranchLabel: s.BranchLabel,
			WorkingDir:  s.WorkingDir,
			Skills:      s.Skills,
			MCPServers:  s.MCPServers,
			Env:         s.Env,
		})
	}
	return Snapshot{
		SchemaVersion:     SchemaVersion,
		Name:              name,
		Timestamp:         time.Now(),
		ProjectPath:       projectPath,
		OrchestrationMode: mode,
		GridLabel:         gridLabel(len(panes)),
		Panes:             panes,
	}
}
