// synkd is the session-substrate daemon: it hosts the PTY pool, session
// manager, I/O plane, and snapshot engine behind a localhost IPC
// listener, optionally exposing individual sessions over a private mesh
// network for remote attach.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/synkhq/synk/internal/config"
	"github.com/synkhq/synk/internal/ioplane"
	"github.com/synkhq/synk/internal/ipc"
	"github.com/synkhq/synk/internal/pairing"
	"github.com/synkhq/synk/internal/ptypool"
	"github.com/synkhq/synk/internal/remoteattach"
	"github.com/synkhq/synk/internal/session"
	"github.com/synkhq/synk/internal/snapshot"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:     "synkd",
		Short:   "Session substrate daemon for the synk command center",
		Version: Version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon: PTY pool, session manager, and IPC transport",
		RunE:  runServe,
	}
	serveCmd.Flags().String("project", "", "project path this daemon instance serves")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	projectPath, _ := cmd.Flags().GetString("project")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting synkd", "version", Version, "socket", cfg.IPCSocketPath, "project", projectPath)

	poolCfg := ptypool.DefaultConfig()
	poolCfg.InitialWarmCount = cfg.InitialWarmCount
	poolCfg.MaxIdleHandles = cfg.MaxIdleHandles
	poolCfg.MaxActiveSessions = cfg.MaxActiveSessions
	poolCfg.RecycleEnabled = cfg.RecycleEnabled
	poolCfg.MaxPTYAge = cfg.MaxPTYAge()
	poolCfg.Shell = cfg.Shell

	pool := ptypool.New(poolCfg, slog.Default())
	if err := pool.Initialize(); err != nil {
		return fmt.Errorf("pool initialization failed: %w", err)
	}
	defer pool.Shutdown()

	bus := ioplane.NewBus(0)
	mgr := session.New(pool, bus, cfg.MaxActiveSessions, slog.Default())
	engine := snapshot.New(mgr, slog.Default())

	identity, err := pairing.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("identity generation failed: %w", err)
	}
	pairSession := pairing.NewSession(identity)

	os.Remove(cfg.IPCSocketPath)
	listener, err := net.Listen("unix", cfg.IPCSocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.IPCSocketPath, err)
	}

	srv := ipc.New(listener, mgr, pool, bus, engine, pairSession, identity.Fingerprint, slog.Default())
	srv.SetProjectPath(projectPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runAutosaveLoop(ctx, engine, projectPath, cfg.AutosaveIntervalSeconds)
	go srv.WatchPoolStatus(ctx, ipc.PoolStatusPollInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	var mesh *remoteattach.MeshClient
	var remoteSrv *remoteattach.Server
	if cfg.MeshEnabled() {
		mesh, remoteSrv, err = startRemoteAttach(ctx, cfg, identity.Fingerprint, mgr, bus, errCh)
		if err != nil {
			return fmt.Errorf("remote attach startup failed: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down synkd")
		srv.Close()
		if remoteSrv != nil {
			remoteSrv.Close()
		}
		if mesh != nil {
			mesh.Close()
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// startRemoteAttach joins the configured mesh network and starts the
// Remote Attach (L4) SSH bridge on a mesh-only listener, re-pointed at
// the running session manager. It is only called when mesh config is
// present (spec §4.9).
func startRemoteAttach(ctx context.Context, cfg *config.Config, defaultNodeID string, mgr *session.Manager, bus *ioplane.Bus, errCh chan<- error) (*remoteattach.MeshClient, *remoteattach.Server, error) {
	nodeID := cfg.MeshNodeID
	if nodeID == "" {
		nodeID = defaultNodeID
	}

	mesh, err := remoteattach.NewMeshClient(&remoteattach.MeshConfig{
		NodeID:     nodeID,
		ControlURL: cfg.MeshControlURL,
		AuthKey:    cfg.MeshAuthKey,
		StateDir:   cfg.MeshStateDir,
	}, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("mesh client init failed: %w", err)
	}

	if err := mesh.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("mesh connect failed: %w", err)
	}

	meshListener, err := mesh.Listen("tcp", ":22")
	if err != nil {
		mesh.Close()
		return nil, nil, fmt.Errorf("mesh listen failed: %w", err)
	}

	provider := remoteattach.NewSessionManagerProvider(mgr, bus)
	remoteSrv := remoteattach.New(meshListener, provider, slog.Default())

	go func() {
		if err := remoteSrv.Serve(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("remote attach server: %w", err)
		}
	}()

	slog.Info("remote attach listening on mesh network", "hostname", mesh.Hostname(), "ips", mesh.IPs())
	return mesh, remoteSrv, nil
}

func runAutosaveLoop(ctx context.Context, engine *snapshot.Engine, projectPath string, intervalSeconds int) {
	if projectPath == "" {
		return
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.SaveAutosave(projectPath, "manual")
		}
	}
}
