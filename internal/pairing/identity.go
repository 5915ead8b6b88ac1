// Package pairing implements the Pairing (L3) layer: a persistent Ed25519
// device identity plus a short-lived local pairing-code exchange that
// gates the IPC transport, grounded on the retrieval pack's device
// identity (Ed25519 keypair + zalando/go-keyring) and its device-flow
// polling shape, generalized from remote OAuth device authorization to a
// purely local code issue/verify exchange between the daemon and one
// companion client.
package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService       = "synk"
	keyringSigningSuffix = "signing"
)

// StoredIdentity is the on-disk, public half of the device identity.
// The private signing key never touches this file; it lives in the OS
// keyring (or, in test mode, a sibling file).
type StoredIdentity struct {
	VerifyingKey string `json:"verifying_key"`
	Fingerprint  string `json:"fingerprint"`
	Name         string `json:"name"`
}

// Identity is the runtime device identity with parsed keys.
type Identity struct {
	SigningKey   ed25519.PrivateKey
	VerifyingKey ed25519.PublicKey
	Fingerprint  string
	Name         string

	configPath string
	mu         sync.RWMutex
}

func shouldSkipKeyring() bool {
	if v := os.Getenv("SYNK_SKIP_KEYRING"); v == "1" || strings.ToLower(v) == "true" {
		return true
	}
	_, hasConfigDir := os.LookupEnv("SYNK_CONFIG_DIR")
	return hasConfigDir
}

// GenerateIdentity loads the existing device identity, or creates and
// persists a fresh one if none exists yet.
func GenerateIdentity() (*Identity, error) {
	return generateIdentityAt("")
}

func generateIdentityAt(configDir string) (*Identity, error) {
	configPath, err := identityConfigPath(configDir)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); err == nil {
		return loadFromFile(configPath)
	}
	return createNew(configPath)
}

func identityConfigPath(configDir string) (string, error) {
	if configDir == "" {
		configDir = os.Getenv("SYNK_CONFIG_DIR")
	}
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine home directory: %w", err)
		}
		configDir = filepath.Join(home, ".synk")
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(configDir, "identity.json"), nil
}

func signingKeyFilePath(configPath string) string {
	return strings.TrimSuffix(configPath, ".json") + ".signing_key"
}

func storeSigningKey(configPath, fingerprint string, signingKey ed25519.PrivateKey) error {
	secretB64 := base64.StdEncoding.EncodeToString(signingKey.Seed())

	if shouldSkipKeyring() {
		keyPath := signingKeyFilePath(configPath)
		if err := os.WriteFile(keyPath, []byte(secretB64), 0o600); err != nil {
			return fmt.Errorf("failed to write signing key file: %w", err)
		}
		return nil
	}

	entryName := fmt.Sprintf("%s-%s", fingerprint, keyringSigningSuffix)
	if err := keyring.Set(keyringService, entryName, secretB64); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

func loadSigningKey(configPath, fingerprint string) (ed25519.PrivateKey, error) {
	if shouldSkipKeyring() {
		keyPath := signingKeyFilePath(configPath)
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("signing key file not found (test mode): %w", err)
		}
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("invalid signing key encoding in file: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid signing key length in file: got %d, want %d", len(seed), ed25519.SeedSize)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}

	entryName := fmt.Sprintf("%s-%s", fingerprint, keyringSigningSuffix)
	secretB64, err := keyring.Get(keyringService, entryName)
	if err != nil {
		return nil, fmt.Errorf("signing key not found in keyring: %w", err)
	}
	seed, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key encoding in keyring: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid signing key length in keyring: got %d, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func loadFromFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity config: %w", err)
	}

	var stored StoredIdentity
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse identity config: %w", err)
	}

	signingKey, err := loadSigningKey(path, stored.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("signing key not found, identity may need to be recreated: %w", err)
	}

	return &Identity{
		SigningKey:   signingKey,
		VerifyingKey: signingKey.Public().(ed25519.PublicKey),
		Fingerprint:  stored.Fingerprint,
		Name:         stored.Name,
		configPath:   path,
	}, nil
}

func createNew(path string) (*Identity, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	fingerprint := ComputeFingerprint(publicKey)
	name := defaultName()

	if err := storeSigningKey(path, fingerprint, privateKey); err != nil {
		return nil, err
	}

	stored := StoredIdentity{
		VerifyingKey: base64.StdEncoding.EncodeToString(publicKey),
		Fingerprint:  fingerprint,
		Name:         name,
	}
	content, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize identity config: %w", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write identity config: %w", err)
	}

	return &Identity{
		SigningKey:   privateKey,
		VerifyingKey: publicKey,
		Fingerprint:  fingerprint,
		Name:         name,
		configPath:   path,
	}, nil
}

// ComputeFingerprint derives a human-verifiable fingerprint from a public
// key: the first 8 bytes of SHA-256(publicKey) as colon-separated hex.
func ComputeFingerprint(publicKey ed25519.PublicKey) string {
	hash := sha256.Sum256(publicKey)
	parts := make([]string, 8)
	for i := 0; i < 8; i++ {
		parts[i] = fmt.Sprintf("%02x", hash[i])
	}
	return strings.Join(parts, ":")
}

func defaultName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "synk"
	}
	return fmt.Sprintf("synk (%s)", hostname)
}

// VerifyingKeyBase64 returns the verifying key as a base64 string.
func (d *Identity) VerifyingKeyBase64() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return base64.StdEncoding.EncodeToString(d.VerifyingKey)
}

// Sign signs data with the identity's signing key.
func (d *Identity) Sign(data []byte) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ed25519.Sign(d.SigningKey, data)
}

// Verify checks a signature against the identity's public key.
func (d *Identity) Verify(data, signature []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ed25519.Verify(d.VerifyingKey, data, signature)
}
