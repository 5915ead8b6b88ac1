package pairing

import (
	"testing"
)

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	t.Setenv("SYNK_CONFIG_DIR", t.TempDir())
	t.Setenv("SYNK_SKIP_KEYRING", "1")

	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	return id
}

func TestGenerateIdentityCreatesAndPersists(t *testing.T) {
	id := newTestIdentity(t)

	if id.Fingerprint == "" {
		t.Fatal("Fingerprint is empty")
	}
	if len(id.VerifyingKey) == 0 {
		t.Fatal("VerifyingKey is empty")
	}
	if id.Name == "" {
		t.Fatal("Name is empty")
	}
}

func TestGenerateIdentityIsStableAcrossCalls(t *testing.T) {
	t.Setenv("SYNK_CONFIG_DIR", t.TempDir())
	t.Setenv("SYNK_SKIP_KEYRING", "1")

	first, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity (first): %v", err)
	}
	second, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity (second): %v", err)
	}

	if first.Fingerprint != second.Fingerprint {
		t.Fatalf("fingerprint changed across calls: %q vs %q", first.Fingerprint, second.Fingerprint)
	}
	if first.VerifyingKeyBase64() != second.VerifyingKeyBase64() {
		t.Fatal("verifying key changed across calls")
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	id := newTestIdentity(t)

	msg := []byte("pairing handshake payload")
	sig := id.Sign(msg)

	if !id.Verify(msg, sig) {
		t.Fatal("Verify rejected a signature produced by Sign")
	}
	if id.Verify([]byte("different payload"), sig) {
		t.Fatal("Verify accepted a signature for the wrong payload")
	}
}

func TestComputeFingerprintIsDeterministic(t *testing.T) {
	id := newTestIdentity(t)

	fp1 := ComputeFingerprint(id.VerifyingKey)
	fp2 := ComputeFingerprint(id.VerifyingKey)
	if fp1 != fp2 {
		t.Fatalf("fingerprint not deterministic: %q vs %q", fp1, fp2)
	}
	if fp1 != id.Fingerprint {
		t.Fatalf("fingerprint %q does not match identity.Fingerprint %q", fp1, id.Fingerprint)
	}
}
