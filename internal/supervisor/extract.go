package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"cogkernel/internal/security"
	"cogkernel/internal/types"
)

// maxSummaryLines bounds how much of a file the summary chunk carries.
const maxSummaryLines = 40

var (
	symbolPattern = regexp.MustCompile(`^\s*(?:func|type|var|const|class|def|struct|interface)\s+\(?[^)]*\)?\s*([A-Za-z_][A-Za-z0-9_]*)`)
	importPattern = regexp.MustCompile(`^\s*(?:import|from|include|require)\s+["'(]?([A-Za-z0-9_./@-]+)`)
)

// FileExtractor is the built-in reindex extractor: a line scan that
// produces one summary chunk per file with naive symbol and dependency
// detection. Paths are re-validated through the guard before any read.
type FileExtractor struct {
	guard *security.PathGuard
}

// NewFileExtractor builds the default extractor rooted at the guard.
func NewFileExtractor(guard *security.PathGuard) *FileExtractor {
	return &FileExtractor{guard: guard}
}

// Extract reads the file and derives its summary chunk. A file that no
// longer exists yields no chunks and no error, so reindex tolerates
// deletions between indexing runs.
func (e *FileExtractor) Extract(ctx context.Context, path string) ([]*types.ChunkCard, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	resolved, err := e.guard.Resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(resolved)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var (
		head    []string
		symbols []string
		deps    []string
		lines   int
	)
	seenSym := map[string]bool{}
	seenDep := map[string]bool{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lines++
		if len(head) < maxSummaryLines {
			head = append(head, line)
		}
		if m := symbolPattern.FindStringSubmatch(line); m != nil && !seenSym[m[1]] {
			seenSym[m[1]] = true
			symbols = append(symbols, m[1])
		}
		if m := importPattern.FindStringSubmatch(line); m != nil && !seenDep[m[1]] {
			seenDep[m[1]] = true
			deps = append(deps, m[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}

	content := strings.Join(head, "\n")
	chunk := &types.ChunkCard{
		ID:              uuid.NewString(),
		FilePath:        resolved,
		ChunkType:       types.ChunkSummary,
		Content:         content,
		Hash:            types.ContentHash(content),
		Symbols:         symbols,
		Dependencies:    deps,
		ComplexityScore: complexityFor(lines, len(symbols)),
		Provenance:      "reindex",
	}
	return []*types.ChunkCard{chunk}, nil
}

// complexityFor is a crude size-based score in [0,1].
func complexityFor(lines, symbols int) float64 {
	score := float64(lines)/2000 + float64(symbols)/100
	if score > 1 {
		score = 1
	}
	return score
}
