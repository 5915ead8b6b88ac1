package ipc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/synkhq/synk/internal/ioplane"
	"github.com/synkhq/synk/internal/pairing"
	"github.com/synkhq/synk/internal/ptypool"
	"github.com/synkhq/synk/internal/session"
	"github.com/synkhq/synk/internal/snapshot"
)

func newTestServer(t *testing.T) (*Server, string, func()) {
	t.Helper()

	cfg := ptypool.DefaultConfig()
	cfg.Shell = "/bin/sh"
	cfg.InitialWarmCount = 0
	cfg.MaxActiveSessions = 8
	cfg.WarmupTimeout = 3 * time.Second
	cfg.RecycleTimeout = 2 * time.Second

	pool := ptypool.New(cfg, slog.Default())
	if err := pool.Initialize(); err != nil {
		t.Fatalf("pool Initialize: %v", err)
	}
	bus := ioplane.NewBus(64)
	mgr := session.New(pool, bus, 8, slog.Default())
	engine := snapshot.New(mgr, slog.Default())
	pair := pairing.NewSession(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	srv := New(ln, mgr, pool, bus, engine, pair, "test-hub", slog.Default())
	srv.SetProjectPath("/tmp/proj")

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	addr := ln.Addr().String()
	cleanup := func() {
		cancel()
		srv.Close()
		pool.Shutdown()
	}
	return srv, addr, cleanup
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
		if err == nil {
			return conn
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("dial failed: %v", err)
	return nil
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params interface{}) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := Request{ID: id, Method: method, Params: raw}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var resp Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp
}

func pairConn(t *testing.T, conn *websocket.Conn, pair *pairing.Session) {
	t.Helper()
	code, err := pair.IssuePairingCode()
	if err != nil {
		t.Fatalf("IssuePairingCode: %v", err)
	}
	resp := call(t, conn, "p1", "pairing.verify", map[string]string{"code": code.UserCode})
	if resp.Error != nil {
		t.Fatalf("pairing.verify failed: %+v", resp.Error)
	}
}

func TestUnpairedConnectionRejectsGatedMethods(t *testing.T) {
	srv, addr, cleanup := newTestServer(t)
	defer cleanup()
	_ = srv

	conn := dial(t, addr)
	defer conn.Close()

	resp := call(t, conn, "1", "session.list", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("expected error for unpaired session.list call")
	}
}

func TestPairingIssueAndVerifyRoundTrip(t *testing.T) {
	srv, addr, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()

	issueResp := call(t, conn, "1", "pairing.issue", map[string]interface{}{})
	if issueResp.Error != nil {
		t.Fatalf("pairing.issue failed: %+v", issueResp.Error)
	}
	result, ok := issueResp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %#v", issueResp.Result)
	}
	code, _ := result["code"].(string)
	if code == "" {
		t.Fatal("issued code is empty")
	}

	verifyResp := call(t, conn, "2", "pairing.verify", map[string]string{"code": code})
	if verifyResp.Error != nil {
		t.Fatalf("pairing.verify failed: %+v", verifyResp.Error)
	}

	_ = srv
}

func TestSessionLifecycleOverIPC(t *testing.T) {
	srv, addr, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()
	pairConn(t, conn, srv.pair)

	createResp := call(t, conn, "1", "session.create", map[string]interface{}{
		"agentKind":   "terminal",
		"projectPath": "/tmp/proj",
	})
	if createResp.Error != nil {
		t.Fatalf("session.create failed: %+v", createResp.Error)
	}
	result := createResp.Result.(map[string]interface{})
	sessionID := result["sessionId"].(float64)

	listResp := call(t, conn, "2", "session.list", map[string]interface{}{})
	if listResp.Error != nil {
		t.Fatalf("session.list failed: %+v", listResp.Error)
	}

	writeResp := call(t, conn, "3", "session.write", map[string]interface{}{
		"sessionId": sessionID,
		"dataB64":   base64.StdEncoding.EncodeToString([]byte("echo HELLO\n")),
	})
	if writeResp.Error != nil {
		t.Fatalf("session.write failed: %+v", writeResp.Error)
	}

	destroyResp := call(t, conn, "4", "session.destroy", map[string]interface{}{
		"sessionId": sessionID,
	})
	if destroyResp.Error != nil {
		t.Fatalf("session.destroy failed: %+v", destroyResp.Error)
	}
}

func TestSessionResizeRejectsZeroDimensions(t *testing.T) {
	srv, addr, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()
	pairConn(t, conn, srv.pair)

	createResp := call(t, conn, "1", "session.create", map[string]interface{}{
		"agentKind":   "terminal",
		"projectPath": "/tmp/proj",
	})
	result := createResp.Result.(map[string]interface{})
	sessionID := result["sessionId"].(float64)

	resizeResp := call(t, conn, "2", "session.resize", map[string]interface{}{
		"sessionId": sessionID,
		"cols":      0,
		"rows":      0,
	})
	if resizeResp.Error == nil {
		t.Fatal("expected InvalidArgument for zero-dimension resize")
	}
	if resizeResp.Error.Kind != "InvalidArgument" {
		t.Fatalf("Kind = %q, want InvalidArgument", resizeResp.Error.Kind)
	}
}

func TestUnrecognizedMethodReturnsError(t *testing.T) {
	srv, addr, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()
	pairConn(t, conn, srv.pair)

	resp := call(t, conn, "1", "bogus.method", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("expected error for unrecognized method")
	}
}
