// Package security implements the trust boundary guards: path containment,
// the command sandbox, and canonical artifact signing. Guard failures are
// fatal to the specific call and short-circuit before any mutating side
// effect.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cogkernel/internal/logging"
)

// builtinForbidden are workspace-relative roots no path argument may touch
// regardless of configuration.
var builtinForbidden = []string{
	".git",
	".cogkernel",
}

// PathGuard validates that path arguments stay inside the repository root
// and outside forbidden subtrees.
type PathGuard struct {
	root      string
	forbidden []string
}

// NewPathGuard builds a guard for a repository root. The root itself must
// exist; extra forbidden roots are workspace-relative.
func NewPathGuard(root string, extraForbidden []string) (*PathGuard, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("repository root does not resolve: %w", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, err
	}

	g := &PathGuard{root: abs}
	for _, f := range append(append([]string{}, builtinForbidden...), extraForbidden...) {
		g.forbidden = append(g.forbidden, filepath.Join(abs, f))
	}
	return g, nil
}

// Root returns the canonical repository root.
func (g *PathGuard) Root() string {
	return g.root
}

// Resolve canonicalizes a path argument and verifies containment. The
// target need not exist: the nearest existing ancestor is symlink-resolved
// and the remainder re-appended, so a write to a new file under a
// symlinked directory is still judged by where it really lands. Returns
// the canonical absolute path.
func (g *PathGuard) Resolve(path string) (string, error) {
	if path == "" {
		return "", &Violation{Kind: ViolationPath, Detail: "empty path"}
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveWithMissingTail(abs)
	if err != nil {
		return "", &Violation{Kind: ViolationPath, Detail: fmt.Sprintf("cannot canonicalize %s: %v", path, err)}
	}

	if resolved != g.root && !strings.HasPrefix(resolved, g.root+string(filepath.Separator)) {
		logging.SecurityWarn("path escape rejected: %s -> %s", path, resolved)
		logging.Audit(logging.AuditEvent{Type: logging.AuditPathViolation, Detail: path})
		return "", &Violation{Kind: ViolationPath, Detail: fmt.Sprintf("path escapes repository root: %s", path)}
	}

	for _, f := range g.forbidden {
		if resolved == f || strings.HasPrefix(resolved, f+string(filepath.Separator)) {
			logging.SecurityWarn("forbidden root rejected: %s", resolved)
			logging.Audit(logging.AuditEvent{Type: logging.AuditPathViolation, Detail: path})
			return "", &Violation{Kind: ViolationPath, Detail: fmt.Sprintf("path under forbidden root: %s", path)}
		}
	}

	return resolved, nil
}

// resolveWithMissingTail canonicalizes abs even when the target does not
// exist yet, by resolving the nearest existing ancestor and re-appending
// the missing remainder.
func resolveWithMissingTail(abs string) (string, error) {
	var tail []string
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}
