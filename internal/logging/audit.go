// Audit logging for security-relevant kernel events. Audit events are
// structured JSON lines written to <workspace>/.cogkernel/logs/audit.log,
// separate from the per-category debug logs and from the trace table in the
// store: the file survives store corruption and is greppable offline.
package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType classifies an audit event.
type AuditEventType string

const (
	// Security guard outcomes
	AuditPathViolation    AuditEventType = "path_violation"
	AuditSandboxViolation AuditEventType = "sandbox_violation"
	AuditSignatureFailure AuditEventType = "signature_failure"

	// Boundary wrapper outcomes
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolDenied   AuditEventType = "tool_denied"

	// Coordination outcomes
	AuditLockCollision  AuditEventType = "lock_collision"
	AuditSessionDenied  AuditEventType = "session_denied"
	AuditPostRejected   AuditEventType = "post_rejected"
	AuditGovernance     AuditEventType = "governance_intervention"
	AuditContractChain  AuditEventType = "contract_chain"
	AuditCommandTimeout AuditEventType = "command_timeout"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent struct {
	Type      AuditEventType `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Agent     string         `json:"agent,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Success   bool           `json:"success"`
}

var (
	auditMu   sync.Mutex
	auditFile *os.File
)

// ConfigureAudit opens the audit log under the workspace. Call after
// Configure. Without it, Audit is a no-op.
func ConfigureAudit(workspace string) error {
	auditMu.Lock()
	defer auditMu.Unlock()

	dir := filepath.Join(workspace, ".cogkernel", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "audit.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if auditFile != nil {
		_ = auditFile.Close()
	}
	auditFile = f
	return nil
}

// CloseAudit flushes and closes the audit log.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		_ = auditFile.Close()
		auditFile = nil
	}
}

// Audit appends one event. Never returns an error: audit failures must not
// fail the guarded operation, they are reported on the security logger
// instead.
func Audit(ev AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	line, err := json.Marshal(ev)
	if err != nil {
		Get(CategorySecurity).Error("audit marshal failed: %v", err)
		return
	}
	line = append(line, '\n')
	if _, err := auditFile.Write(line); err != nil {
		Get(CategorySecurity).Error("audit write failed: %v", err)
	}
}
