package snapshot

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/synkhq/synk/internal/coreerr"
	"github.com/synkhq/synk/internal/session"
)

// Engine drives session.Manager to save and restore session topologies,
// per spec §4.4.
type Engine struct {
	mgr    *session.Manager
	logger *slog.Logger

	autosaveMu sync.Mutex // in-flight flag; a concurrent save_autosave is skipped
}

// New constructs an Engine over an already-running session.Manager.
func New(mgr *session.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{mgr: mgr, logger: logger}
}

// SaveResult is the output of SaveNamed.
type SaveResult struct {
	ID     string
	Layout string
}

// SaveNamed writes the current topology to the named-snapshots directory.
func (e *Engine) SaveNamed(projectPath, name, mode string) (SaveResult, error) {
	snap := fromTopology(name, projectPath, mode, e.mgr.List())
	path, err := namedPath(name)
	if err != nil {
		return SaveResult{}, coreerr.Wrap(coreerr.IoError, "resolving snapshot path", err)
	}
	if err := writeSnapshot(path, snap); err != nil {
		return SaveResult{}, coreerr.Wrap(coreerr.IoError, "writing snapshot", err)
	}
	return SaveResult{ID: name, Layout: snap.GridLabel}, nil
}

// SaveAutosave writes to the project's autosave slot, overwriting any
// prior autosave. Best-effort: failures are logged, never returned, and
// a call made while another autosave is in flight returns without
// writing, so a slow write never overlaps another.
func (e *Engine) SaveAutosave(projectPath, mode string) {
	if !e.autosaveMu.TryLock() {
		e.logger.Debug("autosave already in flight, skipping")
		return
	}
	defer e.autosaveMu.Unlock()

	snap := fromTopology("autosave", projectPath, mode, e.mgr.List())
	path, err := autosavePath(projectPath)
	if err != nil {
		e.logger.Warn("autosave path resolution failed", "error", err)
		return
	}
	if err := writeSnapshot(path, snap); err != nil {
		e.logger.Warn("autosave write failed", "error", err)
	}
}

// Load reads and deserializes a snapshot. id is either a named-snapshot
// name, or "autosave:<projectPath>" to read that project's autosave slot.
func (e *Engine) Load(id string) (Snapshot, error) {
	if rest, ok := strings.CutPrefix(id, autosaveIDPrefix); ok {
		path, err := autosavePath(rest)
		if err != nil {
			return Snapshot{}, coreerr.Wrap(coreerr.IoError, "resolving autosave path", err)
		}
		return readSnapshot(path)
	}

	path, err := namedPath(id)
	if err != nil {
		return Snapshot{}, coreerr.Wrap(coreerr.IoError, "resolving snapshot path", err)
	}
	return readSnapshot(path)
}

// ApplyResult reports non-fatal warnings surfaced during Apply (e.g. a
// pane whose working directory no longer exists).
type ApplyResult struct {
	Warnings []string
}

// Apply drives the Session Manager: destroys every currently-live
// session, then creates sessions in ascending pane-index order from the
// snapshot. The snapshot's project path must match currentProjectPath or
// Apply fails before touching any session.
func (e *Engine) Apply(snap Snapshot, currentProjectPath string) (ApplyResult, error) {
	if snap.ProjectPath != currentProjectPath {
		return ApplyResult{}, coreerr.New(coreerr.InvalidArgument,
			"snapshot project path does not match current project")
	}

	for _, s := range e.mgr.List() {
		if err := e.mgr.Destroy(s.SessionID); err != nil {
			return ApplyResult{}, err
		}
	}

	panes := make([]PaneEntry, len(snap.Panes))
	copy(panes, snap.Panes)
	sortPanesByIndex(panes)

	var result ApplyResult
	for _, p := range panes {
		workingDir := p.WorkingDir
		if _, err := os.Stat(workingDir); err != nil {
			result.Warnings = append(result.Warnings,
				"working directory missing for pane "+p.WorkingDir+"; falling back to project path")
			workingDir = currentProjectPath
		}

		res, err := e.mgr.Create(session.CreateArgs{
			AgentKind:    session.AgentKind(p.AgentKind),
			ProjectPath:  currentProjectPath,
			BranchLabel:  p.BranchLabel,
			WorkingDir:   workingDir,
			Skills:       p.Skills,
			MCPServers:   p.MCPServers,
			EnvOverrides: p.Env,
		})
		if err != nil {
			return result, err
		}
		if res.Warning != "" {
			result.Warnings = append(result.Warnings, res.Warning)
		}
	}

	return result, nil
}

func sortPanesByIndex(panes []PaneEntry) {
	for i := 1; i < len(panes); i++ {
		for j := i; j > 0 && panes[j].PaneIndex < panes[j-1].PaneIndex; j-- {
			panes[j], panes[j-1] = panes[j-1], panes[j]
		}
	}
}
