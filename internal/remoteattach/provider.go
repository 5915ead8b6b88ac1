package remoteattach

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/synkhq/synk/internal/ioplane"
	"github.com/synkhq/synk/internal/session"
)

// SessionManagerProvider adapts the session manager into a
// SessionProvider, letting a mesh-network SSH client attach to any
// active Session without the manager knowing anything about SSH.
type SessionManagerProvider struct {
	mgr *session.Manager
	bus *ioplane.Bus
}

// NewSessionManagerProvider constructs a SessionProvider over the given
// session manager and I/O Plane bus.
func NewSessionManagerProvider(mgr *session.Manager, bus *ioplane.Bus) *SessionManagerProvider {
	return &SessionManagerProvider{mgr: mgr, bus: bus}
}

// GetSession returns an AgentSession bound to the named session, or
// false if no such session is currently active.
func (p *SessionManagerProvider) GetSession(sessionID string) (AgentSession, bool) {
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return nil, false
	}

	found := false
	for _, s := range p.mgr.List() {
		if s.SessionID == id {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	sub, unsubscribe := p.bus.Subscribe()
	return &attachedSession{
		mgr:         p.mgr,
		sessionID:   id,
		sub:         sub,
		unsubscribe: unsubscribe,
	}, true
}

// ListSessions returns the string identifiers of all active sessions.
func (p *SessionManagerProvider) ListSessions() []string {
	list := p.mgr.List()
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, strconv.FormatInt(s.SessionID, 10))
	}
	return out
}

// attachedSession is one mesh-network client's view of a Session's PTY
// stream. It subscribes to the shared I/O Plane bus and filters for its
// own sessionID; detaching (via Close, or simply letting the SSH
// connection drop) unsubscribes without touching the Session itself.
type attachedSession struct {
	mgr         *session.Manager
	sessionID   int64
	sub         <-chan ioplane.Event
	unsubscribe func()
	leftover    bytes.Buffer
	exited      bool
}

func (a *attachedSession) ID() string {
	return strconv.FormatInt(a.sessionID, 10)
}

// Read blocks until output or exit arrives for this session, filtering
// out events belonging to other sessions on the shared bus.
func (a *attachedSession) Read(p []byte) (int, error) {
	if a.leftover.Len() > 0 {
		return a.leftover.Read(p)
	}
	if a.exited {
		return 0, io.EOF
	}

	for ev := range a.sub {
		if ev.SessionID != a.sessionID {
			continue
		}
		switch ev.Kind {
		case ioplane.OutputEvent:
			n := copy(p, ev.Data)
			if n < len(ev.Data) {
				a.leftover.Write(ev.Data[n:])
			}
			return n, nil
		case ioplane.ExitEvent:
			a.exited = true
			return 0, io.EOF
		}
	}
	return 0, io.EOF
}

func (a *attachedSession) Write(p []byte) (int, error) {
	if err := a.mgr.Write(a.sessionID, p); err != nil {
		return 0, fmt.Errorf("remote attach write: %w", err)
	}
	return len(p), nil
}

func (a *attachedSession) Resize(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	return a.mgr.Resize(a.sessionID, uint16(cols), uint16(rows))
}

// Close unsubscribes from the I/O Plane bus. Safe to call more than
// once.
func (a *attachedSession) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}
