package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditWritesJSONLines(t *testing.T) {
	ws := t.TempDir()
	if err := ConfigureAudit(ws); err != nil {
		t.Fatalf("ConfigureAudit: %v", err)
	}
	defer CloseAudit()

	Audit(AuditEvent{Type: AuditToolInvoke, Agent: "editor", Tool: "search", Success: true})
	Audit(AuditEvent{Type: AuditLockCollision, Agent: "reviewer", Tool: "acquire_lock", Detail: "src/a.go held by editor"})
	CloseAudit()

	f, err := os.Open(filepath.Join(ws, ".cogkernel", "logs", "audit.log"))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var events []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %d not valid JSON: %v", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != AuditToolInvoke || !events[0].Success {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Type != AuditLockCollision || events[1].Detail == "" {
		t.Errorf("second event = %+v", events[1])
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestAuditAppendsAcrossSessions(t *testing.T) {
	ws := t.TempDir()
	for i := 0; i < 2; i++ {
		if err := ConfigureAudit(ws); err != nil {
			t.Fatalf("ConfigureAudit: %v", err)
		}
		Audit(AuditEvent{Type: AuditToolComplete, Tool: "status", Success: true, Timestamp: time.Now()})
		CloseAudit()
	}

	data, err := os.ReadFile(filepath.Join(ws, ".cogkernel", "logs", "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("got %d lines after two sessions, want 2", lines)
	}
}

func TestAuditWithoutConfigureIsNoop(t *testing.T) {
	CloseAudit()
	Audit(AuditEvent{Type: AuditPathViolation, Detail: "../escape"})
}
