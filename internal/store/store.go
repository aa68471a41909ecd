// Package store implements the artifact store: one SQLite file per
// repository holding files, chunks, symbols, dependencies, the embedding
// queue, background jobs, the worker registry, locks, blackboard posts,
// change sessions, agent profiles, reactive contracts, and the trace log.
//
// All cross-table writes are single transactions; WAL journaling keeps
// concurrent readers unblocked while writers serialize.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"cogkernel/internal/logging"
)

// Store is the shared artifact store. It is safe for concurrent use; all
// access from other processes is serialized by SQLite itself.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec vec0 available
}

// Open initializes the SQLite store at the given path. The parent
// directory is created if needed. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening artifact store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc/sqlite serializes on a single connection; more connections
	// just trade lock errors for busy retries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("busy_timeout pragma failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("journal_mode pragma failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("synchronous pragma failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("foreign_keys pragma failed: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; vector search runs in Go")
	}

	logging.Store("Artifact store ready")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing artifact store")
	return s.db.Close()
}

// detectVecExtension probes for vec0 virtual table support.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	}
}

// Stats returns per-table row counts.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"files", "chunks", "symbols", "dependencies", "embedding_queue",
		"jobs", "workers", "locks", "blackboard", "sessions", "agents",
		"contracts", "traces",
	}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("count of %s failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
