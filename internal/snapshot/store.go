package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synkhq/synk/internal/coreerr"
)

// ConfigDir returns the snapshot engine's configuration root, respecting
// SYNK_CONFIG_DIR for tests, mirroring the teacher's BOTSTER_CONFIG_DIR
// override.
func ConfigDir() (string, error) {
	if dir := os.Getenv("SYNK_CONFIG_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("could not create config directory: %w", err)
		}
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".synk")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create config directory: %w", err)
	}
	return dir, nil
}

func namedSnapshotsDir() (string, error) {
	root, err := ConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create snapshots directory: %w", err)
	}
	return dir, nil
}

func autosaveDir() (string, error) {
	root, err := ConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "autosave")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create autosave directory: %w", err)
	}
	return dir, nil
}

// projectSlug derives a filesystem-safe, collision-resistant key for a
// project path, since autosave has exactly one slot per project.
func projectSlug(projectPath string) string {
	sum := sha256.Sum256([]byte(projectPath))
	return hex.EncodeToString(sum[:])[:16]
}

const autosaveIDPrefix = "autosave:"

// namedPath returns the on-disk path for a named snapshot.
func namedPath(name string) (string, error) {
	dir, err := namedSnapshotsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".json"), nil
}

func autosavePath(projectPath string) (string, error) {
	dir, err := autosaveDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, projectSlug(projectPath)+".json"), nil
}

func writeSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, coreerr.Wrap(coreerr.NotFound, "snapshot not found", err)
		}
		return Snapshot{}, coreerr.Wrap(coreerr.IoError, "reading snapshot", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, coreerr.Wrap(coreerr.InvalidArgument, "malformed snapshot", err)
	}
	if snap.SchemaVersion != SchemaVersion {
		return Snapshot{}, coreerr.New(coreerr.SchemaMismatch, fmt.Sprintf("unrecognized schema version %d", snap.SchemaVersion))
	}
	return snap, nil
}
