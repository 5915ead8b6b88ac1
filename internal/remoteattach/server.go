package remoteattach

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/gliderlabs/ssh"
)

// AgentSession is a single Session's PTY stream, as seen by the SSH
// bridge. It never destroys the underlying Session; detaching only ends
// the SSH side.
type AgentSession interface {
	ID() string
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Resize(rows, cols int) error
}

// SessionProvider is satisfied by SessionManagerProvider, which adapts the
// session manager and the I/O Plane bus.
type SessionProvider interface {
	GetSession(sessionID string) (AgentSession, bool)
	ListSessions() []string
}

// Server is the Remote Attach SSH bridge: one SSH connection binds to
// one Session's PTY stream for its lifetime.
type Server struct {
	listener net.Listener
	provider SessionProvider
	logger   *slog.Logger
}

// New creates a Remote Attach server over the given listener, typically
// one obtained from MeshClient.Listen so no public port is exposed.
func New(listener net.Listener, provider SessionProvider, logger *slog.Logger) *Server {
	return &Server{
		listener: listener,
		provider: provider,
		logger:   logger,
	}
}

// Serve accepts SSH connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	server := &ssh.Server{
		Handler: s.handleSession,
		PtyCallback: func(ctx ssh.Context, pty ssh.Pty) bool {
			return true
		},
		SubsystemHandlers: map[string]ssh.SubsystemHandler{
			"sftp": nil,
		},
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("remote attach server starting", "addr", s.listener.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.Error("accept error", "error", err)
				continue
			}
		}

		go server.HandleConn(conn)
	}
}

// handleSession parses the requested session id from the SSH username
// ("session-<id>") and bridges the PTY stream bidirectionally. A bare
// connection with no session prefix lists available sessions instead.
func (s *Server) handleSession(session ssh.Session) {
	user := session.User()
	s.logger.Info("remote attach session started", "user", user)
	defer s.logger.Info("remote attach session ended", "user", user)

	sessionID := ""
	if strings.HasPrefix(user, "session-") {
		sessionID = strings.TrimPrefix(user, "session-")
	}

	if sessionID == "" {
		sessions := s.provider.ListSessions()
		if len(sessions) == 0 {
			fmt.Fprintln(session, "no active sessions")
			session.Exit(0)
			return
		}
		fmt.Fprintln(session, "available sessions:")
		for _, id := range sessions {
			fmt.Fprintf(session, "  ssh session-%s@<mesh-host>\n", id)
		}
		session.Exit(0)
		return
	}

	agent, found := s.provider.GetSession(sessionID)
	if !found {
		fmt.Fprintf(session, "session %s not found\n", sessionID)
		session.Exit(1)
		return
	}
	if closer, ok := agent.(interface{ Close() }); ok {
		defer closer.Close()
	}

	_, winCh, _ := session.Pty()
	go func() {
		for win := range winCh {
			if err := agent.Resize(win.Height, win.Width); err != nil {
				s.logger.Warn("resize failed", "error", err)
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		io.Copy(session, agent)
	}()

	go func() {
		defer wg.Done()
		io.Copy(agent, session)
	}()

	wg.Wait()
}

// Close shuts down the Remote Attach server.
func (s *Server) Close() error {
	return s.listener.Close()
}
