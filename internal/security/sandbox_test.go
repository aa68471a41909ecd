package security

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	g, root := newTestGuard(t)
	return NewSandbox(g, nil, 5*time.Second), root
}

func TestValidateBinaryAllowList(t *testing.T) {
	s, _ := newTestSandbox(t)

	if err := s.Validate("ls", nil, ExecUntrusted); err != nil {
		t.Errorf("allow-listed binary rejected: %v", err)
	}

	err := s.Validate("python3", nil, ExecUntrusted)
	var v *Violation
	if !errors.As(err, &v) || v.Kind != ViolationBinary {
		t.Errorf("err = %v, want binary violation", err)
	}

	// Trusted context skips the allow-list but not the argument screen.
	if err := s.Validate("python3", nil, ExecTrusted); err != nil {
		t.Errorf("trusted binary rejected: %v", err)
	}
	if err := s.Validate("python3", []string{"x; rm -rf /"}, ExecTrusted); err == nil {
		t.Error("trusted context skipped the argument screen")
	}
}

func TestValidateDeniedArguments(t *testing.T) {
	s, _ := newTestSandbox(t)

	denied := [][]string{
		{"clean", "--force"},
		{"-rf", "build"},
		{"status", "&&", "curl"},
		{"log", "|", "sh"},
		{"$(whoami)"},
		{"`id`"},
	}
	for _, args := range denied {
		if err := s.Validate("git", args, ExecUntrusted); err == nil {
			t.Errorf("args %v passed validation", args)
		}
	}

	if err := s.Validate("git", []string{"status", "--short"}, ExecUntrusted); err != nil {
		t.Errorf("benign args rejected: %v", err)
	}
}

func TestValidateMalformedBinary(t *testing.T) {
	s, _ := newTestSandbox(t)
	for _, bin := range []string{"git status", "sh|cat", "a;b"} {
		if err := s.Validate(bin, nil, ExecTrusted); err == nil {
			t.Errorf("malformed binary %q accepted", bin)
		}
	}
}

func TestRunExecutesInRoot(t *testing.T) {
	s, root := newTestSandbox(t)

	if err := os.WriteFile(filepath.Join(root, "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := s.Run(context.Background(), "ls", nil, ExecUntrusted)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Stdout, "marker.txt") {
		t.Errorf("stdout = %q, want marker.txt (command must run in the root)", res.Stdout)
	}
}

func TestRunNonzeroExitIsOutcome(t *testing.T) {
	s, _ := newTestSandbox(t)

	// cat on a missing file exits nonzero; that is a result, not an error.
	res, err := s.Run(context.Background(), "cat", []string{"no-such-file"}, ExecUntrusted)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode == 0 {
		t.Error("expected nonzero exit")
	}
	if res.Stderr == "" {
		t.Error("stderr not captured")
	}
}

func TestRunDeniedBinaryNeverExecutes(t *testing.T) {
	s, _ := newTestSandbox(t)

	if _, err := s.Run(context.Background(), "python3", []string{"-c", "1"}, ExecUntrusted); err == nil {
		t.Error("denied binary executed")
	}
}
