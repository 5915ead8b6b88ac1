package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"

	"github.com/synkhq/synk/internal/config"
	"github.com/synkhq/synk/internal/ipc"
)

// client is a thin IPC (L2) client: it dials the daemon's Unix socket,
// authenticates with a stored credential when one exists, and issues
// request/response calls per the §6 protocol.
type client struct {
	conn   *websocket.Conn
	nextID int
}

// dialDaemonRaw connects to the daemon's IPC socket without presenting
// any credential.
func dialDaemonRaw() (*client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	dialer := &websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.Dial("unix", cfg.IPCSocketPath)
		},
	}

	conn, _, err := dialer.Dial("ws://synkd/", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s: %w", cfg.IPCSocketPath, err)
	}
	return &client{conn: conn}, nil
}

// dialDaemon connects and, if a credential was saved by a prior
// "synkctl pair", authenticates the connection so gated methods succeed.
func dialDaemon() (*client, error) {
	c, err := dialDaemonRaw()
	if err != nil {
		return nil, err
	}

	if cred, err := loadCredential(); err == nil && cred != "" {
		if _, callErr := c.call("pairing.authenticate", map[string]string{"credential": cred}); callErr != nil {
			return nil, fmt.Errorf("stored credential rejected, run 'synkctl pair': %w", callErr)
		}
	}

	return c, nil
}

func (c *client) close() {
	c.conn.Close()
}

func (c *client) call(method string, params interface{}) (ipc.Response, error) {
	c.nextID++
	raw, err := json.Marshal(params)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("marshaling params: %w", err)
	}

	req := ipc.Request{ID: fmt.Sprintf("%d", c.nextID), Method: method, Params: raw}
	if err := c.conn.WriteJSON(req); err != nil {
		return ipc.Response{}, fmt.Errorf("writing request: %w", err)
	}

	for {
		var resp ipc.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return ipc.Response{}, fmt.Errorf("reading response: %w", err)
		}
		if resp.ID != req.ID {
			// An event frame or a reply to a different in-flight call;
			// synkctl issues one call at a time so this should not
			// normally happen, but skip rather than misreport.
			continue
		}
		if resp.Error != nil {
			return resp, fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
		}
		return resp, nil
	}
}

func credentialPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cli_credential"), nil
}

func loadCredential() (string, error) {
	path, err := credentialPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func saveCredential(cred string) error {
	path, err := credentialPath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(cred), 0o600)
}
