package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"cogkernel/internal/logging"
)

// SignedFields is the fixed, kernel-controlled field set covered by a
// canonical signature. Agent-supplied fields are never part of the signed
// payload, so an agent constructing its own artifact JSON cannot forge
// canonical status.
type SignedFields struct {
	ArtifactID    string
	SchemaVersion int
	Agent         string
	Timestamp     int64
	ContentHash   string
}

// CanonicalSchemaVersion is the current signed-payload layout version.
const CanonicalSchemaVersion = 1

// Signer produces and verifies canonical artifact signatures with a
// kernel-held HMAC key.
type Signer struct {
	key []byte
}

// LoadOrCreateSigner reads the signing key, generating it once with
// owner-only permissions if absent.
func LoadOrCreateSigner(keyPath string) (*Signer, error) {
	key, err := os.ReadFile(keyPath)
	if err == nil {
		if len(key) < 32 {
			return nil, fmt.Errorf("signing key at %s is too short", keyPath)
		}
		return &Signer{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist signing key: %w", err)
	}
	logging.Security("generated new signing key at %s", keyPath)
	return &Signer{key: key}, nil
}

// NewSignerWithKey builds a signer around an explicit key. Tests only.
func NewSignerWithKey(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign computes the canonical signature over the fixed field set.
func (s *Signer) Sign(f SignedFields) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%d\x00%s\x00%s\x00%d\x00%s",
		f.SchemaVersion, f.ArtifactID, f.Agent, f.Timestamp, f.ContentHash)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the digest and compares in constant time. A mismatch
// means the artifact must be treated as non-canonical.
func (s *Signer) Verify(f SignedFields, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%d\x00%s\x00%s\x00%d\x00%s",
		f.SchemaVersion, f.ArtifactID, f.Agent, f.Timestamp, f.ContentHash)
	ok := hmac.Equal(want, mac.Sum(nil))
	if !ok {
		logging.Audit(logging.AuditEvent{Type: logging.AuditSignatureFailure, Detail: f.ArtifactID})
	}
	return ok
}

// Check verifies a stored signature and surfaces a mismatch as a
// signature violation, so callers can route it through the standard
// containment path.
func (s *Signer) Check(f SignedFields, sig string) error {
	if s.Verify(f, sig) {
		return nil
	}
	return &Violation{Kind: ViolationSig, Detail: f.ArtifactID}
}
