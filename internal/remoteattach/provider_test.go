package remoteattach

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/synkhq/synk/internal/ioplane"
	"github.com/synkhq/synk/internal/ptypool"
	"github.com/synkhq/synk/internal/session"
)

func newTestProvider(t *testing.T) (*SessionManagerProvider, *session.Manager, func()) {
	t.Helper()
	cfg := ptypool.DefaultConfig()
	cfg.Shell = "/bin/sh"
	cfg.InitialWarmCount = 0
	cfg.MaxActiveSessions = 4
	cfg.WarmupTimeout = 3 * time.Second
	cfg.RecycleTimeout = 2 * time.Second

	pool := ptypool.New(cfg, slog.Default())
	if err := pool.Initialize(); err != nil {
		t.Fatalf("pool Initialize: %v", err)
	}
	bus := ioplane.NewBus(64)
	mgr := session.New(pool, bus, 4, slog.Default())
	provider := NewSessionManagerProvider(mgr, bus)
	return provider, mgr, func() { pool.Shutdown() }
}

func TestGetSessionUnknownReturnsFalse(t *testing.T) {
	provider, _, cleanup := newTestProvider(t)
	defer cleanup()

	_, ok := provider.GetSession("9999")
	if ok {
		t.Fatal("expected GetSession to fail for unknown id")
	}
}

func TestListSessionsReflectsManager(t *testing.T) {
	provider, mgr, cleanup := newTestProvider(t)
	defer cleanup()

	res, err := mgr.Create(session.CreateArgs{AgentKind: session.Terminal, ProjectPath: "/tmp/x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ids := provider.ListSessions()
	if len(ids) != 1 {
		t.Fatalf("len(ids) = %d, want 1", len(ids))
	}

	agent, ok := provider.GetSession(ids[0])
	if !ok {
		t.Fatal("GetSession returned false for a listed id")
	}
	defer agent.(*attachedSession).Close()

	if agent.ID() != ids[0] {
		t.Fatalf("ID() = %q, want %q", agent.ID(), ids[0])
	}
	_ = res
}

func TestAttachedSessionReadEmitsSessionOutput(t *testing.T) {
	provider, mgr, cleanup := newTestProvider(t)
	defer cleanup()

	_, err := mgr.Create(session.CreateArgs{AgentKind: session.Terminal, ProjectPath: "/tmp/x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ids := provider.ListSessions()
	agent, ok := provider.GetSession(ids[0])
	if !ok {
		t.Fatal("GetSession returned false")
	}
	defer agent.(*attachedSession).Close()

	if err := mgr.Write(mustParseID(t, ids[0]), []byte("echo REMOTE\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var buf bytes.Buffer
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p := make([]byte, 4096)
		n, rerr := agent.Read(p)
		buf.Write(p[:n])
		if bytes.Contains(buf.Bytes(), []byte("REMOTE")) {
			return
		}
		if rerr != nil {
			break
		}
	}
	t.Fatalf("did not observe REMOTE in output: %q", buf.String())
}

func mustParseID(t *testing.T, s string) int64 {
	t.Helper()
	var id int64
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("non-numeric id: %q", s)
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
