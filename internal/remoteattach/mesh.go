// Package remoteattach implements the Remote Attach (L4) layer: an
// optional SSH-based secondary surface that exposes one Session's PTY
// stream to a companion device over a private Tailscale mesh network,
// reusing the retrieval pack's tsnet-backed browser-terminal bridge with
// SessionProvider re-pointed at the session manager.
package remoteattach

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

// MeshClient wraps a tsnet.Server providing userspace Tailscale
// connectivity for the daemon's remote-attach listener.
type MeshClient struct {
	server *tsnet.Server
	nodeID string
	logger *slog.Logger
}

// MeshConfig holds configuration for the mesh client.
type MeshConfig struct {
	// NodeID is the unique identifier for this daemon instance on the
	// mesh network.
	NodeID string

	// ControlURL is the control-plane URL (Tailscale's or a self-hosted
	// Headscale instance).
	ControlURL string

	// AuthKey is the pre-auth key for joining the mesh.
	AuthKey string

	// StateDir is the directory for storing mesh client state. Defaults
	// to ~/.synk/tsnet/<nodeID>.
	StateDir string

	// Ephemeral indicates whether this node should be ephemeral.
	Ephemeral bool
}

// NewMeshClient creates a new mesh client.
func NewMeshClient(cfg *MeshConfig, logger *slog.Logger) (*MeshClient, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("NodeID is required")
	}
	if cfg.ControlURL == "" {
		return nil, fmt.Errorf("ControlURL is required")
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine home directory: %w", err)
		}
		stateDir = filepath.Join(homeDir, ".synk", "tsnet", cfg.NodeID)
	}

	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}

	idLen := len(cfg.NodeID)
	if idLen > 8 {
		idLen = 8
	}
	hostname := fmt.Sprintf("synk-%s", cfg.NodeID[:idLen])

	server := &tsnet.Server{
		Hostname:   hostname,
		Dir:        stateDir,
		ControlURL: cfg.ControlURL,
		AuthKey:    cfg.AuthKey,
		Ephemeral:  cfg.Ephemeral,
		Logf:       func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
	}

	return &MeshClient{server: server, nodeID: cfg.NodeID, logger: logger}, nil
}

// Start connects to the mesh network.
func (c *MeshClient) Start(ctx context.Context) error {
	c.logger.Info("connecting to mesh network", "hostname", c.server.Hostname, "control_url", c.server.ControlURL)

	status, err := c.server.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to mesh network: %w", err)
	}

	c.logger.Info("connected to mesh network", "ips", status.TailscaleIPs, "backend_state", status.BackendState)
	return nil
}

// Close shuts down the mesh connection.
func (c *MeshClient) Close() error {
	c.logger.Info("disconnecting from mesh network")
	return c.server.Close()
}

// Listen creates a network listener on the mesh network.
func (c *MeshClient) Listen(network, addr string) (net.Listener, error) {
	return c.server.Listen(network, addr)
}

// Dial connects to an address on the mesh network.
func (c *MeshClient) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return c.server.Dial(ctx, network, addr)
}

// IPs returns the mesh IP addresses assigned to this node.
func (c *MeshClient) IPs() []string {
	ip4, ip6 := c.server.TailscaleIPs()
	var result []string
	if ip4.IsValid() {
		result = append(result, ip4.String())
	}
	if ip6.IsValid() {
		result = append(result, ip6.String())
	}
	return result
}

// Hostname returns the mesh hostname for this node.
func (c *MeshClient) Hostname() string {
	return c.server.Hostname
}
