package store

import (
	"fmt"
	"strings"

	"cogkernel/internal/types"
)

// SymbolsForFile returns the declared symbols recorded for a file across
// all of its chunks, deduplicated and sorted by name.
func (s *Store) SymbolsForFile(filePath string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT sy.name FROM symbols sy
		 JOIN chunks c ON c.id = sy.chunk_id
		 WHERE c.file_path = ?
		 ORDER BY sy.name`, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DependenciesForFile returns the outgoing dependency targets recorded for
// a file across all of its chunks.
func (s *Store) DependenciesForFile(filePath string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT d.target FROM dependencies d
		 JOIN chunks c ON c.id = d.chunk_id
		 WHERE c.file_path = ?
		 ORDER BY d.target`, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// FilesDependingOn returns the files whose chunks record a dependency on
// the given target (a file path or symbol name).
func (s *Store) FilesDependingOn(target string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT c.file_path FROM dependencies d
		 JOIN chunks c ON c.id = d.chunk_id
		 WHERE d.target = ?
		 ORDER BY c.file_path`, target)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// SearchByText is the lexical fallback used when no embedding engine is
// wired: case-insensitive substring match over chunk content and path.
func (s *Store) SearchByText(query string, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.Query(
		`SELECT id, file_path, chunk_type, content, hash
		 FROM chunks
		 WHERE lower(content) LIKE ? OR lower(file_path) LIKE ?
		 ORDER BY file_path, chunk_type
		 LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var c types.ChunkCard
		var chunkType string
		if err := rows.Scan(&c.ID, &c.FilePath, &chunkType, &c.Content, &c.Hash); err != nil {
			return nil, err
		}
		c.ChunkType = types.ChunkType(chunkType)
		results = append(results, SearchResult{Chunk: c, Score: 0})
	}
	return results, rows.Err()
}
