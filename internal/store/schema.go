package store

import (
	"database/sql"
	"fmt"

	"cogkernel/internal/logging"
)

// Schema versions:
// v1: files, chunks, symbols, dependencies, embedding_queue
// v2: jobs, workers, locks
// v3: blackboard, sessions, agents, contracts, traces
// v4: lease expiry columns on locks and sessions, owner_run on jobs
// v5: signed_at on chunks
const CurrentSchemaVersion = 5

// initialize creates the required tables and applies column migrations.
func (s *Store) initialize() error {
	filesTable := `
	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		last_indexed DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	chunksTable := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL REFERENCES files(path),
		chunk_type TEXT NOT NULL,
		content TEXT NOT NULL,
		hash TEXT NOT NULL,
		complexity_score REAL DEFAULT 0,
		embedding BLOB,
		kernel_sig TEXT,
		signed_at INTEGER NOT NULL DEFAULT 0,
		provenance TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(file_path, chunk_type)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path);
	CREATE INDEX IF NOT EXISTS idx_chunks_type ON chunks(chunk_type);`

	symbolsTable := `
	CREATE TABLE IF NOT EXISTS symbols (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
		name TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_chunk ON symbols(chunk_id);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);`

	dependenciesTable := `
	CREATE TABLE IF NOT EXISTS dependencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
		target TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deps_chunk ON dependencies(chunk_id);
	CREATE INDEX IF NOT EXISTS idx_deps_target ON dependencies(target);`

	queueTable := `
	CREATE TABLE IF NOT EXISTS embedding_queue (
		chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retries INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON embedding_queue(status);`

	jobsTable := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);`

	workersTable := `
	CREATE TABLE IF NOT EXISTS workers (
		pid INTEGER NOT NULL,
		run_id TEXT PRIMARY KEY,
		last_heartbeat DATETIME DEFAULT CURRENT_TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'alive'
	);`

	locksTable := `
	CREATE TABLE IF NOT EXISTS locks (
		resource_id TEXT PRIMARY KEY,
		owner_agent TEXT NOT NULL,
		acquired_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	blackboardTable := `
	CREATE TABLE IF NOT EXISTS blackboard (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		topic TEXT,
		body TEXT NOT NULL,
		author TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		evidence_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_board_type ON blackboard(type);
	CREATE INDEX IF NOT EXISTS idx_board_author ON blackboard(author);`

	sessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		intent TEXT,
		base_commit TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		files_touched TEXT NOT NULL DEFAULT '[]',
		patch_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);`

	agentsTable := `
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		mmr REAL NOT NULL DEFAULT 1000,
		streak INTEGER NOT NULL DEFAULT 0,
		probation INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	contractsTable := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		trigger_tool TEXT NOT NULL,
		trigger_action TEXT NOT NULL,
		target_tool TEXT NOT NULL,
		target_args TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_contracts_trigger ON contracts(trigger_tool, trigger_action);`

	tracesTable := `
	CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		tool_invocation TEXT NOT NULL,
		inputs TEXT,
		outputs TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_traces_tool ON traces(tool_invocation);
	CREATE INDEX IF NOT EXISTS idx_traces_ts ON traces(timestamp);`

	for _, table := range []string{
		filesTable,
		chunksTable,
		symbolsTable,
		dependenciesTable,
		queueTable,
		jobsTable,
		workersTable,
		locksTable,
		blackboardTable,
		sessionsTable,
		agentsTable,
		contractsTable,
		tracesTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := runMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// migration adds one column to an existing table.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations handles stores created before these columns existed.
var pendingMigrations = []migration{
	{"locks", "expires_at", "DATETIME"},
	{"sessions", "expires_at", "DATETIME"},
	{"jobs", "owner_run", "TEXT DEFAULT ''"},
	{"chunks", "signed_at", "INTEGER NOT NULL DEFAULT 0"},
}

// runMigrations applies column migrations for existing databases.
func runMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("migration failed for %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
	}
	if applied > 0 {
		logging.Store("Applied %d schema migrations", applied)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
