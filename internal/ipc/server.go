package ipc

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/synkhq/synk/internal/ioplane"
	"github.com/synkhq/synk/internal/pairing"
	"github.com/synkhq/synk/internal/ptypool"
	"github.com/synkhq/synk/internal/session"
	"github.com/synkhq/synk/internal/snapshot"
)

// PoolStatusPollInterval is the recommended polling period for
// WatchPoolStatus.
const PoolStatusPollInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	// A localhost Unix-socket (or loopback TCP) listener has no
	// cross-origin browsers to defend against; the pairing credential is
	// the actual access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server hosts the §6 protocol over a single WebSocket listener. Exactly
// one connection at a time is "the client" for event-push purposes; a
// newer connection supersedes an older one per spec §4.6.
type Server struct {
	mgr    *session.Manager
	pool   *ptypool.Pool
	bus    *ioplane.Bus
	engine *snapshot.Engine
	pair   *pairing.Session
	hubID  string
	logger *slog.Logger

	projectMu   sync.Mutex
	projectPath string

	connMu sync.Mutex
	active *connection

	listener net.Listener
	httpSrv  *http.Server
}

// New constructs an IPC Server. listener is typically a Unix domain
// socket opened by the caller (e.g. at $XDG_RUNTIME_DIR/synk.sock).
func New(listener net.Listener, mgr *session.Manager, pool *ptypool.Pool, bus *ioplane.Bus, engine *snapshot.Engine, pair *pairing.Session, hubID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mgr:      mgr,
		pool:     pool,
		bus:      bus,
		engine:   engine,
		pair:     pair,
		hubID:    hubID,
		logger:   logger,
		listener: listener,
	}
}

// SetProjectPath records the project path snapshot.save_named and
// snapshot.save_autosave operate against, for this daemon instance.
func (s *Server) SetProjectPath(path string) {
	s.projectMu.Lock()
	s.projectPath = path
	s.projectMu.Unlock()
}

func (s *Server) currentProjectPath() string {
	s.projectMu.Lock()
	defer s.projectMu.Unlock()
	return s.projectPath
}

// connection is one accepted WebSocket, plus its pairing state and a
// write mutex since gorilla's Conn forbids concurrent writers.
type connection struct {
	ws         *websocket.Conn
	writeMu    sync.Mutex
	authorized bool
	credential string
	cancelSub  func()
}

func (c *connection) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Serve starts accepting connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		s.httpSrv.Close()
	}()

	s.logger.Info("ipc transport starting", "addr", s.listener.Addr())
	err := s.httpSrv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ipc upgrade failed", "error", err)
		return
	}
	s.handleConn(ws)
}

func (s *Server) handleConn(ws *websocket.Conn) {
	conn := &connection{ws: ws}
	defer ws.Close()

	s.promote(conn)
	defer s.demote(conn)

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		resp := s.dispatch(conn, req)
		if err := conn.writeJSON(resp); err != nil {
			return
		}
	}
}

// promote makes conn the active event subscriber, displacing whichever
// connection previously held that role.
func (s *Server) promote(conn *connection) {
	s.connMu.Lock()
	previous := s.active
	sub, cancel := s.bus.Subscribe()
	conn.cancelSub = cancel
	s.active = conn
	s.connMu.Unlock()

	if previous != nil && previous.cancelSub != nil {
		previous.cancelSub()
	}

	go s.pumpEvents(conn, sub)
}

func (s *Server) demote(conn *connection) {
	s.connMu.Lock()
	if s.active == conn {
		s.active = nil
	}
	s.connMu.Unlock()
	if conn.cancelSub != nil {
		conn.cancelSub()
	}
}

func (s *Server) pumpEvents(conn *connection, sub <-chan ioplane.Event) {
	for ev := range sub {
		var frame EventFrame
		switch ev.Kind {
		case ioplane.OutputEvent:
			frame = EventFrame{Event: "session.output", Payload: OutputPayload{
				SessionID: ev.SessionID,
				DataB64:   base64.StdEncoding.EncodeToString(ev.Data),
			}}
		case ioplane.ExitEvent:
			frame = EventFrame{Event: "session.exit", Payload: ExitPayload{
				SessionID: ev.SessionID,
				ExitCode:  ev.ExitCode,
			}}
		default:
			continue
		}
		if err := conn.writeJSON(frame); err != nil {
			return
		}
	}
}

// PushPoolStatus sends a pool.status event to the active connection, if
// any. Intended to be called by the daemon's background pool-watcher on
// material state change.
func (s *Server) PushPoolStatus() {
	s.connMu.Lock()
	conn := s.active
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	stats := s.pool.Stats()
	frame := EventFrame{Event: "pool.status", Payload: PoolStatusPayload{
		Idle:   stats.Idle,
		Active: stats.Active,
		Total:  stats.Total,
	}}
	if err := conn.writeJSON(frame); err != nil {
		s.logger.Debug("pool.status push failed", "error", err)
	}
}

// WatchPoolStatus polls pool stats every interval and pushes a
// pool.status event whenever the counts change, until ctx is cancelled.
func (s *Server) WatchPoolStatus(ctx context.Context, interval time.Duration) {
	var last ptypool.Stats
	first := true

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.pool.Stats()
			if first || stats != last {
				s.PushPoolStatus()
				last = stats
				first = false
			}
		}
	}
}

// Close shuts down the listener.
func (s *Server) Close() error {
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return s.listener.Close()
}
