package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"cogkernel/internal/logging"
)

// ExecContext distinguishes the kernel's own maintenance commands from
// commands run on behalf of an agent. Untrusted commands face the full
// allow/deny lists; trusted ones skip the binary allow-list but still get
// the stripped environment and timeout.
type ExecContext string

const (
	ExecTrusted   ExecContext = "trusted"
	ExecUntrusted ExecContext = "untrusted"
)

// defaultAllowedBinaries is the untrusted allow-list. Extended, never
// replaced, by configuration.
var defaultAllowedBinaries = map[string]bool{
	"git":  true,
	"grep": true,
	"rg":   true,
	"ls":   true,
	"cat":  true,
	"go":   true,
	"diff": true,
}

// deniedArgFragments rejects dangerous verbs and flags wherever they
// appear in an argument vector.
var deniedArgFragments = []string{
	"--force",
	"-rf",
	"-fr",
	"rm ",
	"sudo",
	"chmod",
	"chown",
	"mkfs",
	"dd ",
	">",
	"|",
	";",
	"&&",
	"$(",
	"`",
}

// safeEnv is the minimal environment passed to sandboxed commands.
var safeEnv = []string{
	"PATH=/usr/local/bin:/usr/bin:/bin",
	"LANG=C.UTF-8",
	"HOME=/tmp",
}

// ExecutionResult is the outcome of one sandboxed command.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Sandbox executes external commands on behalf of agents. Arguments are
// always passed as a literal vector; nothing ever goes through a shell
// interpreter.
type Sandbox struct {
	guard   *PathGuard
	allowed map[string]bool
	timeout time.Duration
}

// NewSandbox builds a sandbox rooted at the guard's repository root.
func NewSandbox(guard *PathGuard, extraAllowed []string, timeout time.Duration) *Sandbox {
	allowed := make(map[string]bool, len(defaultAllowedBinaries)+len(extraAllowed))
	for k, v := range defaultAllowedBinaries {
		allowed[k] = v
	}
	for _, b := range extraAllowed {
		allowed[b] = true
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Sandbox{guard: guard, allowed: allowed, timeout: timeout}
}

// Validate checks a command against the sandbox policy without running it.
func (s *Sandbox) Validate(binary string, args []string, ec ExecContext) error {
	if strings.ContainsAny(binary, " \t|;&$`") {
		return &Violation{Kind: ViolationBinary, Detail: fmt.Sprintf("malformed binary name %q", binary)}
	}
	if ec == ExecUntrusted && !s.allowed[binary] {
		logging.Audit(logging.AuditEvent{Type: logging.AuditSandboxViolation, Detail: binary})
		return &Violation{Kind: ViolationBinary, Detail: fmt.Sprintf("binary not in allow-list: %s", binary)}
	}
	for _, arg := range args {
		lower := strings.ToLower(arg)
		for _, denied := range deniedArgFragments {
			if strings.Contains(lower, denied) {
				logging.Audit(logging.AuditEvent{Type: logging.AuditSandboxViolation, Detail: binary + " " + arg})
				return &Violation{Kind: ViolationArg, Detail: fmt.Sprintf("denied argument %q", arg)}
			}
		}
	}
	return nil
}

// Run validates and executes a command inside the repository root with a
// stripped environment and hard timeout. A timeout is reported as a
// timed-out failure, never a silent hang.
func (s *Sandbox) Run(ctx context.Context, binary string, args []string, ec ExecContext) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategorySecurity, "Sandbox.Run")
	defer timer.Stop()

	if err := s.Validate(binary, args, ec); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = s.guard.Root()
	cmd.Env = append([]string{}, safeEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		logging.Audit(logging.AuditEvent{Type: logging.AuditCommandTimeout, Detail: binary})
		return result, fmt.Errorf("command %s timed out after %s", binary, s.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			// Nonzero exit is a command outcome, not a sandbox error.
			return result, nil
		}
		return result, fmt.Errorf("command %s failed to start: %w", binary, err)
	}

	logging.Security("ran %s (%d args, exit 0, %s)", binary, len(args), result.Duration)
	return result, nil
}
