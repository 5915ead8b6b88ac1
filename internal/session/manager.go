package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/synkhq/synk/internal/coreerr"
	"github.com/synkhq/synk/internal/ioplane"
	"github.com/synkhq/synk/internal/launch"
	"github.com/synkhq/synk/internal/ptypool"
)

// entry is the Manager's internal bookkeeping for one live session.
type entry struct {
	session Session
	handle  *ptypool.Handle
	reader  *ioplane.Reader
}

// Manager is the Session Manager (C2). All mutating methods serialize on
// a single coarse-grained lock guarding the session table; Create also
// holds it across its pool claim, while Destroy takes it only to remove
// the table entry and then detaches the reader and releases the PTY
// outside it. Write and Resize take the lock only to look up the
// session, and the per-session reader never takes it.
type Manager struct {
	pool              *ptypool.Pool
	bus               *ioplane.Bus
	logger            *slog.Logger
	maxActiveSessions int

	mu            sync.Mutex
	sessions      map[int64]*entry
	paneOccupied  map[int]bool
	nextSessionID int64
}

// New constructs a Manager over an already-initialized Pool and Bus.
func New(pool *ptypool.Pool, bus *ioplane.Bus, maxActiveSessions int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		pool:              pool,
		bus:               bus,
		logger:            logger,
		maxActiveSessions: maxActiveSessions,
		sessions:          make(map[int64]*entry),
		paneOccupied:      make(map[int]bool),
	}
}

// Create allocates a pane, claims a PTY, configures it, and records the
// session, per spec §4.2 create steps 1-7.
func (m *Manager) Create(args CreateArgs) (CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxActiveSessions {
		return CreateResult{}, coreerr.New(coreerr.MaxSessionsReached, "max active sessions reached")
	}

	if args.WorkingDir == "" {
		args.WorkingDir = args.ProjectPath
	}
	if args.WorkingDir == "" {
		return CreateResult{}, coreerr.New(coreerr.InvalidArgument, "working directory and project path both empty")
	}

	h, err := m.pool.Claim()
	if err != nil {
		if errors.Is(err, ptypool.ErrPoolExhausted) {
			return CreateResult{}, coreerr.Wrap(coreerr.PoolExhausted, "pty pool exhausted", err)
		}
		return CreateResult{}, coreerr.Wrap(coreerr.SpawnFailed, "pty claim failed", err)
	}

	paneIndex := m.lowestFreePaneIndex()
	kind := args.AgentKind
	warning := ""

	if err := m.configureHandle(h, args); err != nil {
		m.pool.Discard(h)
		return CreateResult{}, coreerr.Wrap(coreerr.SpawnFailed, "session configuration failed", err)
	}

	if kind != Terminal {
		cmd, err := launch.Resolve(kind, args.Model, args.CodexProvider)
		if err != nil {
			if errors.Is(err, launch.ErrAgentBinaryMissing) {
				kind = Terminal
				warning = fmt.Sprintf("agent binary for %q not found on PATH; started a plain shell instead", args.AgentKind)
			} else {
				m.pool.Discard(h)
				return CreateResult{}, coreerr.Wrap(coreerr.SpawnFailed, "launch command resolution failed", err)
			}
		} else {
			for _, e := range cmd.Env {
				if _, werr := h.Write([]byte(launch.EnvLine(e))); werr != nil {
					m.pool.Discard(h)
					return CreateResult{}, coreerr.Wrap(coreerr.SpawnFailed, "failed writing launch env", werr)
				}
			}
			if _, werr := h.Write([]byte(cmd.ShellLine())); werr != nil {
				m.pool.Discard(h)
				return CreateResult{}, coreerr.Wrap(coreerr.SpawnFailed, "failed writing launch command", werr)
			}
		}
	}

	m.nextSessionID++
	sessionID := m.nextSessionID
	reader := ioplane.Start(sessionID, h, m.bus, m.logger)

	sess := Session{
		SessionID:   sessionID,
		PaneIndex:   paneIndex,
		AgentKind:   kind,
		ProjectPath: args.ProjectPath,
		WorkingDir:  args.WorkingDir,
		BranchLabel: args.BranchLabel,
		Skills:      args.Skills,
		MCPServers:  args.MCPServers,
		Env:         args.EnvOverrides,
	}

	m.sessions[sessionID] = &entry{session: sess, handle: h, reader: reader}
	m.paneOccupied[paneIndex] = true

	m.logger.Info("session created", "session_id", sessionID, "pane_index", paneIndex, "agent_kind", kind)
	return CreateResult{SessionID: sessionID, PaneIndex: paneIndex, Warning: warning}, nil
}

// configureHandle writes the working-directory change and any per-session
// environment overrides into the freshly claimed PTY, per spec §4.2 step 4.
func (m *Manager) configureHandle(h *ptypool.Handle, args CreateArgs) error {
	if _, err := h.Write([]byte(fmt.Sprintf("cd %s\n", shellQuote(args.WorkingDir)))); err != nil {
		return err
	}
	for k, v := range args.EnvOverrides {
		if _, err := h.Write([]byte(launch.EnvLine(fmt.Sprintf("%s=%s", k, shellQuote(v))))); err != nil {
			return err
		}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Write delivers stdin bytes to the named session's PTY. Fire-and-forget:
// a write that fails because the child has already exited is swallowed.
func (m *Manager) Write(sessionID int64, data []byte) error {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.NoSuchSession, fmt.Sprintf("no such session: %d", sessionID))
	}
	_, _ = e.handle.Write(data)
	return nil
}

// Resize changes the PTY window size. Unknown sessions are silently
// ignored; non-positive dimensions are rejected.
func (m *Manager) Resize(sessionID int64, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return coreerr.New(coreerr.InvalidArgument, "cols and rows must be positive")
	}
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return e.handle.Setsize(rows, cols)
}

// Destroy detaches the I/O Plane, returns the PTY to the pool as Clean,
// and removes the session from the table. Idempotent.
func (m *Manager) Destroy(sessionID int64) error {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, sessionID)
	delete(m.paneOccupied, e.session.PaneIndex)
	m.mu.Unlock()

	e.reader.Detach()
	m.pool.Release(e.handle, ptypool.Clean)
	m.logger.Info("session destroyed", "session_id", sessionID)
	return nil
}

// List returns a snapshot of current sessions sorted by pane index.
func (m *Manager) List() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaneIndex < out[j].PaneIndex })
	return out
}

// lowestFreePaneIndex finds the smallest non-negative integer not
// currently occupied. Caller must hold m.mu.
func (m *Manager) lowestFreePaneIndex() int {
	for i := 0; ; i++ {
		if !m.paneOccupied[i] {
			return i
		}
	}
}
