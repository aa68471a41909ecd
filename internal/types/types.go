// Package types provides the shared data model for the coordination kernel.
// This package exists to break import cycles between store, kernel, and
// worker packages. Types here are foundational rows and artifacts with no
// behavioral dependencies.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ChunkType classifies a derived knowledge artifact about a file.
type ChunkType string

const (
	ChunkSummary   ChunkType = "summary"
	ChunkAPI       ChunkType = "api"
	ChunkInvariant ChunkType = "invariant"
)

// ValidChunkType reports whether t is one of the known chunk types.
func ValidChunkType(t ChunkType) bool {
	switch t {
	case ChunkSummary, ChunkAPI, ChunkInvariant:
		return true
	}
	return false
}

// ChunkCard is one derived knowledge artifact about a source file.
// Identity is (FilePath, ChunkType); re-ingestion replaces content rather
// than versioning it. Hash always equals ContentHash(Content).
type ChunkCard struct {
	ID              string    `json:"id"`
	FilePath        string    `json:"file_path"`
	ChunkType       ChunkType `json:"chunk_type"`
	Content         string    `json:"content"`
	Hash            string    `json:"hash"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	Symbols         []string  `json:"symbols,omitempty"`
	ComplexityScore float64   `json:"complexity_score"`
	Vector          []float32 `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// KernelSig is set only by the kernel's canonical signer. SignedAt is
	// part of the signed payload; verification recomputes the digest from
	// the stored row.
	KernelSig  string `json:"kernel_sig,omitempty"`
	SignedAt   int64  `json:"signed_at,omitempty"`
	Provenance string `json:"provenance,omitempty"`

	// NonCanonical is set at the read boundary when a stored signature
	// fails verification. Never persisted.
	NonCanonical bool `json:"non_canonical,omitempty"`
}

// ContentHash computes the digest stored in ChunkCard.Hash.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FileRecord is one indexed source path.
type FileRecord struct {
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	LastIndexed time.Time `json:"last_indexed"`
}

// QueueStatus is the embedding queue entry state.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)

// MaxEmbedRetries bounds automatic retry of a queue entry; past it the
// entry becomes terminally failed.
const MaxEmbedRetries = 3

// EmbeddingQueueEntry is pending embedding work for one chunk. The row is
// deleted on successful embedding, so there is no "embedded" status.
type EmbeddingQueueEntry struct {
	ChunkID   string      `json:"chunk_id"`
	Text      string      `json:"text"`
	Status    QueueStatus `json:"status"`
	Retries   int         `json:"retries"`
	CreatedAt time.Time   `json:"created_at"`
}

// JobStatus is the background job state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job types executed by the supervisor.
const (
	JobTypeReindex  = "reindex"
	JobTypeValidate = "validate"
	JobTypeSetup    = "setup"
)

// BackgroundJob is one asynchronous unit of work.
type BackgroundJob struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"` // 0-100
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	OwnerRun  string    `json:"owner_run,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkerStatus is the worker registry state.
type WorkerStatus string

const (
	WorkerAlive      WorkerStatus = "alive"
	WorkerStale      WorkerStatus = "stale"
	WorkerTerminated WorkerStatus = "terminated"
)

// WorkerEntry is one registered supervisor process. Staleness is inferred
// from elapsed time since LastHeartbeat, never asserted by the worker.
type WorkerEntry struct {
	PID           int          `json:"pid"`
	RunID         string       `json:"run_id"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Status        WorkerStatus `json:"status"`
}

// ResourceLock is an advisory mutual-exclusion row keyed by file path or
// symbol name. At most one owner per resource.
type ResourceLock struct {
	ResourceID string    `json:"resource_id"`
	OwnerAgent string    `json:"owner_agent"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PostType classifies a blackboard post.
type PostType string

const (
	PostProposal PostType = "proposal"
	PostFinding  PostType = "finding"
	PostQuestion PostType = "question"
	PostDecision PostType = "decision"
	PostIncident PostType = "incident"
)

// PostStatus is the blackboard post lifecycle state.
type PostStatus string

const (
	PostOpen       PostStatus = "open"
	PostResolved   PostStatus = "resolved"
	PostSuperseded PostStatus = "superseded"
	PostDisputed   PostStatus = "disputed"
)

// BlackboardPost is one shared memo. Posts other than questions must carry
// at least one evidence id (trace id, patch id, or session token).
type BlackboardPost struct {
	ID          string     `json:"id"`
	Type        PostType   `json:"type"`
	Topic       string     `json:"topic,omitempty"`
	Body        string     `json:"body"`
	Author      string     `json:"author"`
	Status      PostStatus `json:"status"`
	EvidenceIDs []string   `json:"evidence_ids,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SessionStatus is the change session lifecycle state.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionValidating SessionStatus = "validating"
	SessionFinalized  SessionStatus = "finalized"
	SessionAborted    SessionStatus = "aborted"
)

// ChangeSession scopes the right to mutate against a fixed base revision.
type ChangeSession struct {
	Token        string        `json:"token"`
	Intent       string        `json:"intent,omitempty"`
	BaseCommit   string        `json:"base_commit"`
	Status       SessionStatus `json:"status"`
	FilesTouched []string      `json:"files_touched,omitempty"`
	PatchIDs     []string      `json:"patch_ids,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// AgentProfile is an agent's derived standing. AllowedTools is a pure
// function of Rank and never stored.
type AgentProfile struct {
	AgentID   string    `json:"agent_id"`
	Rank      string    `json:"rank"`
	MMR       float64   `json:"mmr"`
	Streak    int       `json:"streak"`
	Probation bool      `json:"probation"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReactiveContract auto-chains a follow-up tool call after a trigger call
// succeeds.
type ReactiveContract struct {
	ID            string            `json:"id"`
	TriggerTool   string            `json:"trigger_tool"`
	TriggerAction string            `json:"trigger_action"`
	TargetTool    string            `json:"target_tool"`
	TargetArgs    map[string]string `json:"target_args,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TraceArtifact is one append-only audit row per kernel-wrapped call.
type TraceArtifact struct {
	ID         string    `json:"id"`
	Tool       string    `json:"tool_invocation"`
	Inputs     string    `json:"inputs"`
	Outputs    string    `json:"outputs"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
