package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := NewSignerWithKey([]byte("0123456789abcdef0123456789abcdef"))

	fields := SignedFields{
		ArtifactID:    "chunk-1",
		SchemaVersion: CanonicalSchemaVersion,
		Agent:         "agent-a",
		Timestamp:     1700000000,
		ContentHash:   "deadbeef",
	}
	sig := s.Sign(fields)
	if sig == "" {
		t.Fatal("empty signature")
	}
	if !s.Verify(fields, sig) {
		t.Error("signature does not verify")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSignerWithKey([]byte("0123456789abcdef0123456789abcdef"))

	base := SignedFields{
		ArtifactID:    "chunk-1",
		SchemaVersion: CanonicalSchemaVersion,
		Agent:         "agent-a",
		Timestamp:     1700000000,
		ContentHash:   "deadbeef",
	}
	sig := s.Sign(base)

	mutations := map[string]SignedFields{
		"artifact": {ArtifactID: "chunk-2", SchemaVersion: base.SchemaVersion, Agent: base.Agent, Timestamp: base.Timestamp, ContentHash: base.ContentHash},
		"schema":   {ArtifactID: base.ArtifactID, SchemaVersion: 2, Agent: base.Agent, Timestamp: base.Timestamp, ContentHash: base.ContentHash},
		"agent":    {ArtifactID: base.ArtifactID, SchemaVersion: base.SchemaVersion, Agent: "agent-b", Timestamp: base.Timestamp, ContentHash: base.ContentHash},
		"time":     {ArtifactID: base.ArtifactID, SchemaVersion: base.SchemaVersion, Agent: base.Agent, Timestamp: base.Timestamp + 1, ContentHash: base.ContentHash},
		"content":  {ArtifactID: base.ArtifactID, SchemaVersion: base.SchemaVersion, Agent: base.Agent, Timestamp: base.Timestamp, ContentHash: "beefdead"},
	}
	for name, m := range mutations {
		if s.Verify(m, sig) {
			t.Errorf("tampered %s field still verifies", name)
		}
	}

	if s.Verify(base, sig+"00") {
		t.Error("altered signature still verifies")
	}

	other := NewSignerWithKey([]byte("fedcba9876543210fedcba9876543210"))
	if other.Verify(base, sig) {
		t.Error("signature verifies under a different key")
	}
}

func TestCheckSurfacesSignatureViolation(t *testing.T) {
	s := NewSignerWithKey([]byte("0123456789abcdef0123456789abcdef"))

	fields := SignedFields{
		ArtifactID:    "chunk-1",
		SchemaVersion: CanonicalSchemaVersion,
		Agent:         "agent-a",
		Timestamp:     1700000000,
		ContentHash:   "deadbeef",
	}
	sig := s.Sign(fields)
	if err := s.Check(fields, sig); err != nil {
		t.Fatalf("Check on a valid signature: %v", err)
	}

	fields.ContentHash = "beefdead"
	err := s.Check(fields, sig)
	v, ok := err.(*Violation)
	if !ok {
		t.Fatalf("error = %T, want *Violation", err)
	}
	if v.Kind != ViolationSig || v.Detail != "chunk-1" {
		t.Errorf("violation = %+v", v)
	}
}

func TestLoadOrCreateSignerPersists(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "signing.key")

	first, err := LoadOrCreateSigner(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreateSigner: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}

	second, err := LoadOrCreateSigner(keyPath)
	if err != nil {
		t.Fatal(err)
	}

	fields := SignedFields{ArtifactID: "a", SchemaVersion: 1, Agent: "x", Timestamp: 1, ContentHash: "h"}
	if !second.Verify(fields, first.Sign(fields)) {
		t.Error("reloaded signer does not share the key")
	}
}
