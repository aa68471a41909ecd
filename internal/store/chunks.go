package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// Ingest writes one chunk and all of its derived rows in a single
// transaction. Write order: file upsert, chunk upsert, symbol replace,
// dependency replace, queue upsert. After a successful return every table
// reflects the new content; on any error nothing does.
func (s *Store) Ingest(chunk *types.ChunkCard) error {
	timer := logging.StartTimer(logging.CategoryStore, "Ingest")
	defer timer.Stop()

	if chunk.ID == "" || chunk.FilePath == "" {
		return fmt.Errorf("chunk requires id and file_path")
	}
	if !types.ValidChunkType(chunk.ChunkType) {
		return fmt.Errorf("unknown chunk type %q", chunk.ChunkType)
	}
	if chunk.Hash == "" {
		chunk.Hash = types.ContentHash(chunk.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. File row.
	if _, err := tx.Exec(
		`INSERT INTO files (path, content_hash, last_indexed)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(path) DO UPDATE SET
		   content_hash = excluded.content_hash,
		   last_indexed = CURRENT_TIMESTAMP`,
		chunk.FilePath, chunk.Hash,
	); err != nil {
		return fmt.Errorf("failed to upsert file row: %w", err)
	}

	// 2. Chunk row. Identity is (file_path, chunk_type); a re-ingest under
	// a new id replaces the previous row for that identity.
	var existingID string
	err = tx.QueryRow(
		"SELECT id FROM chunks WHERE file_path = ? AND chunk_type = ?",
		chunk.FilePath, string(chunk.ChunkType),
	).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(
			`INSERT INTO chunks (id, file_path, chunk_type, content, hash, complexity_score, kernel_sig, signed_at, provenance)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			chunk.ID, chunk.FilePath, string(chunk.ChunkType), chunk.Content,
			chunk.Hash, chunk.ComplexityScore, nullable(chunk.KernelSig), chunk.SignedAt, nullable(chunk.Provenance),
		); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up chunk identity: %w", err)
	default:
		// Keep the stored id stable across re-ingestion so children and
		// queue rows keyed by it stay addressable.
		chunk.ID = existingID
		if _, err := tx.Exec(
			`UPDATE chunks SET content = ?, hash = ?, complexity_score = ?,
			   kernel_sig = ?, signed_at = ?, provenance = ?, embedding = NULL,
			   updated_at = CURRENT_TIMESTAMP
			 WHERE id = ?`,
			chunk.Content, chunk.Hash, chunk.ComplexityScore,
			nullable(chunk.KernelSig), chunk.SignedAt, nullable(chunk.Provenance), existingID,
		); err != nil {
			return fmt.Errorf("failed to update chunk: %w", err)
		}
	}

	// 3. Symbols: full replace, never merge, so renames cannot leave
	// stale entries behind.
	if _, err := tx.Exec("DELETE FROM symbols WHERE chunk_id = ?", chunk.ID); err != nil {
		return fmt.Errorf("failed to clear symbols: %w", err)
	}
	for _, name := range chunk.Symbols {
		if _, err := tx.Exec("INSERT INTO symbols (chunk_id, name) VALUES (?, ?)", chunk.ID, name); err != nil {
			return fmt.Errorf("failed to insert symbol: %w", err)
		}
	}

	// 4. Dependencies: same replace discipline.
	if _, err := tx.Exec("DELETE FROM dependencies WHERE chunk_id = ?", chunk.ID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	for _, dep := range chunk.Dependencies {
		if _, err := tx.Exec("INSERT INTO dependencies (chunk_id, target) VALUES (?, ?)", chunk.ID, dep); err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}

	// 5. Embedding queue: new content always restarts embedding, whatever
	// state the previous entry was in.
	if _, err := tx.Exec(
		`INSERT INTO embedding_queue (chunk_id, text, status, retries, created_at)
		 VALUES (?, ?, 'pending', 0, CURRENT_TIMESTAMP)
		 ON CONFLICT(chunk_id) DO UPDATE SET
		   text = excluded.text, status = 'pending', retries = 0,
		   created_at = CURRENT_TIMESTAMP`,
		chunk.ID, chunk.Content,
	); err != nil {
		return fmt.Errorf("failed to enqueue embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest: %w", err)
	}

	logging.StoreDebug("Ingested chunk %s (%s/%s, %d symbols, %d deps)",
		chunk.ID, chunk.FilePath, chunk.ChunkType, len(chunk.Symbols), len(chunk.Dependencies))
	return nil
}

// SetChunkSignature records the canonical signature for a stored chunk.
// Signing happens after ingest so the signature always covers the stored
// id, which for a re-ingested identity differs from the caller's id.
func (s *Store) SetChunkSignature(chunkID, sig string, signedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE chunks SET kernel_sig = ?, signed_at = ? WHERE id = ?",
		sig, signedAt, chunkID,
	)
	if err != nil {
		return fmt.Errorf("failed to record chunk signature: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s not found", chunkID)
	}
	return nil
}

// DeleteChunk removes a chunk; symbols, dependencies, and queue entries
// cascade. Deleting a chunk that does not exist is not an error.
func (s *Store) DeleteChunk(chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM chunks WHERE id = ?", chunkID); err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	logging.StoreDebug("Deleted chunk %s", chunkID)
	return nil
}

// GetChunk loads one chunk with its symbols and dependencies.
func (s *Store) GetChunk(chunkID string) (*types.ChunkCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getChunk(chunkID)
}

// GetChunkByIdentity loads the chunk for a (file_path, chunk_type) pair.
func (s *Store) GetChunkByIdentity(filePath string, t types.ChunkType) (*types.ChunkCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRow(
		"SELECT id FROM chunks WHERE file_path = ? AND chunk_type = ?",
		filePath, string(t),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.getChunk(id)
}

func (s *Store) getChunk(chunkID string) (*types.ChunkCard, error) {
	var c types.ChunkCard
	var chunkType string
	var sig, prov sql.NullString
	var embedding []byte
	var created, updated time.Time

	err := s.db.QueryRow(
		`SELECT id, file_path, chunk_type, content, hash, complexity_score,
		        embedding, kernel_sig, signed_at, provenance, created_at, updated_at
		 FROM chunks WHERE id = ?`, chunkID,
	).Scan(&c.ID, &c.FilePath, &chunkType, &c.Content, &c.Hash,
		&c.ComplexityScore, &embedding, &sig, &c.SignedAt, &prov, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk: %w", err)
	}

	c.ChunkType = types.ChunkType(chunkType)
	c.KernelSig = sig.String
	c.Provenance = prov.String
	c.CreatedAt = created
	c.UpdatedAt = updated
	if len(embedding) > 0 {
		vec, err := decodeVector(embedding)
		if err != nil {
			// Corrupt vector: drop it for re-embedding rather than failing
			// the read.
			logging.Get(logging.CategoryStore).Warn("chunk %s has corrupt vector: %v", c.ID, err)
		} else {
			c.Vector = vec
		}
	}

	rows, err := s.db.Query("SELECT name FROM symbols WHERE chunk_id = ?", c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			c.Symbols = append(c.Symbols, name)
		}
	}

	depRows, err := s.db.Query("SELECT target FROM dependencies WHERE chunk_id = ?", c.ID)
	if err != nil {
		return nil, err
	}
	defer depRows.Close()
	for depRows.Next() {
		var target string
		if err := depRows.Scan(&target); err == nil {
			c.Dependencies = append(c.Dependencies, target)
		}
	}

	return &c, nil
}

// ListChunks returns chunk ids and identities, newest first.
func (s *Store) ListChunks(limit int) ([]types.ChunkCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, file_path, chunk_type, hash, complexity_score, updated_at
		 FROM chunks ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ChunkCard
	for rows.Next() {
		var c types.ChunkCard
		var chunkType string
		if err := rows.Scan(&c.ID, &c.FilePath, &chunkType, &c.Hash, &c.ComplexityScore, &c.UpdatedAt); err != nil {
			continue
		}
		c.ChunkType = types.ChunkType(chunkType)
		out = append(out, c)
	}
	return out, nil
}

// SearchResult pairs a chunk with its similarity to a query vector.
type SearchResult struct {
	Chunk types.ChunkCard
	Score float64
}

// SearchByVector ranks embedded chunks by cosine similarity to the query
// vector. Chunks without a vector are skipped; corrupt vectors are skipped
// and logged.
func (s *Store) SearchByVector(query []float32, limit int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT id, file_path, chunk_type, content, hash, embedding
		 FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var c types.ChunkCard
		var chunkType string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.FilePath, &chunkType, &c.Content, &c.Hash, &blob); err != nil {
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("skipping chunk %s: %v", c.ID, err)
			continue
		}
		c.ChunkType = types.ChunkType(chunkType)
		c.Vector = vec
		results = append(results, SearchResult{Chunk: c, Score: CosineSimilarity(query, vec)})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListFiles returns all indexed file records.
func (s *Store) ListFiles() ([]types.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT path, content_hash, last_indexed FROM files ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FileRecord
	for rows.Next() {
		var f types.FileRecord
		if err := rows.Scan(&f.Path, &f.ContentHash, &f.LastIndexed); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
