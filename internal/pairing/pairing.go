package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/synkhq/synk/internal/qr"
)

// ErrPairingRequired is returned when an IPC client attempts a gated
// method without having completed pairing.verify first.
var ErrPairingRequired = errors.New("pairing: credential required")

// ErrPairingInvalid is returned by VerifyPairing when the presented code
// does not match the currently issued code, or has expired.
var ErrPairingInvalid = errors.New("pairing: invalid or expired code")

// codeTTL bounds how long an issued pairing code remains acceptable,
// mirroring the device-flow's expires_in but scoped to a single local
// exchange instead of a remote authorization server.
const codeTTL = 5 * time.Minute

// codeAlphabet avoids visually ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Code is an issued pairing code plus the credential a verified client
// will use for subsequent requests.
type Code struct {
	UserCode   string
	Credential string
	ExpiresAt  time.Time
}

// Session holds the daemon's in-flight pairing state and the set of
// credentials that have completed a successful exchange.
type Session struct {
	identity *Identity

	mu       sync.Mutex
	pending  *Code
	approved map[string]struct{}
}

// NewSession constructs a pairing Session bound to a device identity.
func NewSession(identity *Identity) *Session {
	return &Session{identity: identity, approved: make(map[string]struct{})}
}

// IssuePairingCode generates a new human-enterable code and a companion
// credential, both valid for codeTTL. Issuing a new code invalidates any
// previously pending (unverified) code.
func (s *Session) IssuePairingCode() (Code, error) {
	userCode, err := randomCode(8)
	if err != nil {
		return Code{}, fmt.Errorf("pairing: generate code: %w", err)
	}
	credential, err := randomCode(32)
	if err != nil {
		return Code{}, fmt.Errorf("pairing: generate credential: %w", err)
	}

	c := Code{
		UserCode:   userCode,
		Credential: credential,
		ExpiresAt:  time.Now().Add(codeTTL),
	}

	s.mu.Lock()
	s.pending = &c
	s.mu.Unlock()

	return c, nil
}

// VerifyPairing checks a user-entered code against the pending issued
// code. On success the corresponding credential is marked approved and
// returned; the pending code is consumed (single use).
func (s *Session) VerifyPairing(userCode string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || time.Now().After(s.pending.ExpiresAt) {
		return "", ErrPairingInvalid
	}
	if subtle.ConstantTimeCompare([]byte(userCode), []byte(s.pending.UserCode)) != 1 {
		return "", ErrPairingInvalid
	}

	credential := s.pending.Credential
	s.approved[credential] = struct{}{}
	s.pending = nil
	return credential, nil
}

// Authorized reports whether credential has completed a successful
// VerifyPairing exchange.
func (s *Session) Authorized(credential string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.approved[credential]
	return ok
}

// Revoke removes a previously approved credential.
func (s *Session) Revoke(credential string) {
	s.mu.Lock()
	delete(s.approved, credential)
	s.mu.Unlock()
}

// RenderQR renders the pairing code as terminal-displayable lines, for a
// client to scan with a phone camera instead of typing the code by hand.
func RenderQR(c Code, maxWidth, maxHeight uint16) []string {
	return qr.GenerateLines(c.UserCode, maxWidth, maxHeight)
}

func randomCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// base32Encode is kept available for callers that need a URL-safe
// rendering of the credential (e.g. embedding it in a pairing URI).
func base32Encode(b []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
}
