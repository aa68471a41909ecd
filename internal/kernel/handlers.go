package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"cogkernel/internal/config"
	"cogkernel/internal/logging"
	"cogkernel/internal/policy"
	"cogkernel/internal/security"
	"cogkernel/internal/store"
	"cogkernel/internal/types"
)

// registerBuiltins installs the handler for every tool the policy ladder
// names. Tier placement lives in the policy package; handlers assume the
// rank, path, session, and lock gates already passed.
func registerBuiltins(k *Kernel) {
	builtins := map[string]Handler{
		// base tier
		"search":      handleSearch,
		"status":      handleStatus,
		"get_chunk":   handleGetChunk,
		"query_board": handleQueryBoard,
		"list_jobs":   handleListJobs,

		// analysis tier
		"inspect_symbols":   handleInspectSymbols,
		"list_dependencies": handleListDependencies,
		"list_traces":       handleListTraces,
		"list_locks":        handleListLocks,

		// mutation tier
		"ingest_chunk":    handleIngestChunk,
		"delete_chunk":    handleDeleteChunk,
		"propose_patch":   handleProposePatch,
		"acquire_lock":    handleAcquireLock,
		"release_lock":    handleReleaseLock,
		"start_session":   handleStartSession,
		"advance_session": handleAdvanceSession,
		"post_board":      handlePostBoard,
		"resolve_post":    handleResolvePost,

		// kernel tier
		"setup":             handleSetup,
		"enqueue_job":       handleEnqueueJob,
		"register_contract": handleRegisterContract,
		"delete_contract":   handleDeleteContract,
		"evaluate_agent":    handleEvaluateAgent,
		"prune_traces":      handlePruneTraces,
	}
	for tool, h := range builtins {
		k.RegisterHandler(tool, h)
	}
}

func requireArg(req Request, key string) (string, error) {
	v := strings.TrimSpace(req.Args[key])
	if v == "" {
		return "", fmt.Errorf("%s requires argument %q", req.Tool, key)
	}
	return v, nil
}

func intArg(req Request, key, fallback string) int {
	v := req.Args[key]
	if v == "" {
		v = fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// pathArg resolves the file a tool operates on: the first guarded path if
// one was supplied, otherwise the named argument.
func pathArg(req Request, key string) (string, error) {
	if len(req.Paths) > 0 {
		return req.Paths[0], nil
	}
	return requireArg(req, key)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func handleSearch(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	query, err := requireArg(req, "query")
	if err != nil {
		return nil, err
	}
	limit := intArg(req, "limit", "10")

	if k.Embedder != nil {
		vec, err := k.Embedder.Embed(ctx, query)
		if err == nil {
			return k.Store.SearchByVector(vec, limit)
		}
		logging.KernelDebug("semantic search unavailable, falling back to lexical: %v", err)
	}
	return k.Store.SearchByText(query, limit)
}

func handleStatus(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	stats, err := k.Store.Stats()
	if err != nil {
		return nil, err
	}
	queue, err := k.Store.QueueCounts()
	if err != nil {
		return nil, err
	}
	workers, err := k.Store.ListWorkers(k.Config.Supervisor.StaleAfter)
	if err != nil {
		return nil, err
	}
	locks, err := k.Store.ListLocks()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"tables":  stats,
		"queue":   queue,
		"workers": workers,
		"locks":   locks,
	}, nil
}

func handleGetChunk(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	if id := req.Args["id"]; id != "" {
		c, err := k.Store.GetChunk(id)
		if err != nil {
			return nil, err
		}
		return k.screenSignature(c), nil
	}
	file, err := pathArg(req, "file")
	if err != nil {
		return nil, err
	}
	ct := types.ChunkType(req.Args["type"])
	if !types.ValidChunkType(ct) {
		return nil, fmt.Errorf("get_chunk requires id, or file with a valid type")
	}
	c, err := k.Store.GetChunkByIdentity(file, ct)
	if err != nil {
		return nil, err
	}
	return k.screenSignature(c), nil
}

// screenSignature re-verifies a stored canonical signature before the
// chunk leaves the kernel. A failed check does not block the read; the
// chunk is returned with the canonical claim stripped.
func (k *Kernel) screenSignature(c *types.ChunkCard) *types.ChunkCard {
	if c == nil || c.KernelSig == "" {
		return c
	}
	err := k.Signer.Check(security.SignedFields{
		ArtifactID:    c.ID,
		SchemaVersion: security.CanonicalSchemaVersion,
		Agent:         c.Provenance,
		Timestamp:     c.SignedAt,
		ContentHash:   c.Hash,
	}, c.KernelSig)
	if err != nil {
		logging.Get(logging.CategorySecurity).Warn("chunk %s: %v", c.ID, err)
		c.KernelSig = ""
		c.NonCanonical = true
	}
	return c
}

func handleQueryBoard(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	return k.Store.QueryPosts(store.PostFilter{
		Type:   types.PostType(req.Args["type"]),
		Author: req.Args["author"],
		Topic:  req.Args["topic"],
		Status: types.PostStatus(req.Args["status"]),
		Limit:  intArg(req, "limit", "50"),
	})
}

func handleListJobs(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	return k.Store.ListJobs(types.JobStatus(req.Args["status"]), intArg(req, "limit", "50"))
}

func handleInspectSymbols(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	file, err := pathArg(req, "file")
	if err != nil {
		return nil, err
	}
	symbols, err := k.Store.SymbolsForFile(file)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file": file, "symbols": symbols}, nil
}

func handleListDependencies(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	// target asks the reverse question: which files depend on this?
	if target := req.Args["target"]; target != "" {
		dependents, err := k.Store.FilesDependingOn(target)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"target": target, "dependents": dependents}, nil
	}
	file, err := pathArg(req, "file")
	if err != nil {
		return nil, err
	}
	deps, err := k.Store.DependenciesForFile(file)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file": file, "dependencies": deps}, nil
}

func handleListTraces(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	return k.Store.ListTraces(req.Args["tool"], intArg(req, "limit", "50"))
}

func handleListLocks(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	return k.Store.ListLocks()
}

func handleIngestChunk(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	file, err := pathArg(req, "file")
	if err != nil {
		return nil, err
	}
	content, err := requireArg(req, "content")
	if err != nil {
		return nil, err
	}
	ct := types.ChunkType(req.Args["type"])
	if ct == "" {
		ct = types.ChunkSummary
	}

	complexity, _ := strconv.ParseFloat(req.Args["complexity"], 64)
	chunk := &types.ChunkCard{
		ID:              uuid.NewString(),
		FilePath:        file,
		ChunkType:       ct,
		Content:         content,
		Hash:            types.ContentHash(content),
		Dependencies:    splitList(req.Args["dependencies"]),
		Symbols:         splitList(req.Args["symbols"]),
		ComplexityScore: complexity,
		Provenance:      req.Agent,
	}
	if err := k.Store.Ingest(chunk); err != nil {
		return nil, err
	}

	// Ingest keeps the stored id stable for an existing identity, so sign
	// only once the final id is known: the signature must cover the row
	// that actually exists.
	signedAt := time.Now().Unix()
	sig := k.Signer.Sign(security.SignedFields{
		ArtifactID:    chunk.ID,
		SchemaVersion: security.CanonicalSchemaVersion,
		Agent:         req.Agent,
		Timestamp:     signedAt,
		ContentHash:   chunk.Hash,
	})
	if err := k.Store.SetChunkSignature(chunk.ID, sig, signedAt); err != nil {
		return nil, err
	}

	if err := k.Store.TouchSessionFiles(req.SessionToken, []string{file}); err != nil {
		logging.Get(logging.CategoryKernel).Warn("failed to record touched file: %v", err)
	}
	return map[string]string{
		"chunk_id":   chunk.ID,
		"hash":       chunk.Hash,
		"kernel_sig": sig,
	}, nil
}

func handleDeleteChunk(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	id, err := requireArg(req, "id")
	if err != nil {
		return nil, err
	}
	if err := k.Store.DeleteChunk(id); err != nil {
		return nil, err
	}
	return map[string]string{"deleted": id}, nil
}

func handleProposePatch(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	diff, err := requireArg(req, "diff")
	if err != nil {
		return nil, err
	}
	patchID := uuid.NewString()
	if err := k.Store.AttachPatch(req.SessionToken, patchID); err != nil {
		return nil, err
	}
	if len(req.Paths) > 0 {
		if err := k.Store.TouchSessionFiles(req.SessionToken, req.Paths); err != nil {
			logging.Get(logging.CategoryKernel).Warn("failed to record touched files: %v", err)
		}
	}
	return map[string]interface{}{
		"patch_id":   patchID,
		"diff_bytes": len(diff),
	}, nil
}

func handleAcquireLock(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	resource, err := pathArg(req, "resource")
	if err != nil {
		return nil, err
	}
	held, err := k.Store.AcquireLock(resource, req.Agent, k.Config.Security.LockTTL)
	if err != nil {
		return nil, err
	}
	if !held {
		holder, err := k.Store.LockHolder(resource)
		if err != nil {
			return nil, err
		}
		owner := "another agent"
		if holder != nil {
			owner = holder.OwnerAgent
		}
		logging.Audit(logging.AuditEvent{Type: logging.AuditLockCollision, Agent: req.Agent, Tool: req.Tool, Detail: resource})
		return nil, reject(StatusCollision, "collision prevented: %s is locked by %s", resource, owner)
	}
	return k.Store.LockHolder(resource)
}

func handleReleaseLock(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	resource, err := pathArg(req, "resource")
	if err != nil {
		return nil, err
	}
	released, err := k.Store.ReleaseLock(resource, req.Agent)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, reject(StatusCollision, "lock on %s is not held by %s", resource, req.Agent)
	}
	return map[string]string{"released": resource}, nil
}

func handleStartSession(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	intent := req.Args["intent"]
	baseCommit := req.Args["base_commit"]
	if baseCommit == "" {
		res, err := k.Sandbox.Run(ctx, "git", []string{"rev-parse", "HEAD"}, security.ExecTrusted)
		if err != nil || res.ExitCode != 0 {
			return nil, fmt.Errorf("start_session requires base_commit outside a git checkout")
		}
		baseCommit = strings.TrimSpace(res.Stdout)
	}
	token, err := k.Store.StartSession(intent, baseCommit, k.Config.Security.SessionTTL)
	if err != nil {
		return nil, err
	}
	return map[string]string{"token": token, "base_commit": baseCommit}, nil
}

func handleAdvanceSession(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	token := req.SessionToken
	if token == "" {
		token = req.Args["token"]
	}
	if token == "" {
		return nil, fmt.Errorf("advance_session requires a session token")
	}
	to, err := requireArg(req, "to")
	if err != nil {
		return nil, err
	}
	if err := k.Store.TransitionSession(token, types.SessionStatus(to)); err != nil {
		return nil, err
	}
	return k.Store.GetSession(token)
}

func handlePostBoard(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	body, err := requireArg(req, "body")
	if err != nil {
		return nil, err
	}
	post := &types.BlackboardPost{
		Type:        types.PostType(req.Args["type"]),
		Topic:       req.Args["topic"],
		Body:        body,
		Author:      req.Agent,
		EvidenceIDs: splitList(req.Args["evidence"]),
	}
	id, err := k.Store.CreatePost(post)
	if err != nil {
		if errors.Is(err, store.ErrUnevidenced) {
			logging.Audit(logging.AuditEvent{Type: logging.AuditPostRejected, Agent: req.Agent, Tool: req.Tool, Detail: string(post.Type)})
		}
		return nil, err
	}
	return map[string]string{"post_id": id}, nil
}

func handleResolvePost(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	id, err := requireArg(req, "id")
	if err != nil {
		return nil, err
	}
	status := types.PostStatus(req.Args["status"])
	if status == "" {
		status = types.PostResolved
	}
	if err := k.Store.UpdatePostStatus(id, status); err != nil {
		return nil, err
	}
	return map[string]string{"post_id": id, "status": string(status)}, nil
}

func handleSetup(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	if err := os.MkdirAll(config.KernelDir(k.Config.Workspace), 0o755); err != nil {
		return nil, err
	}
	if err := k.Config.Save(); err != nil {
		return nil, err
	}
	stats, err := k.Store.Stats()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"workspace":      k.Config.Workspace,
		"schema_version": store.CurrentSchemaVersion,
		"tables":         stats,
	}, nil
}

func handleEnqueueJob(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	jobType, err := requireArg(req, "type")
	if err != nil {
		return nil, err
	}
	switch jobType {
	case types.JobTypeReindex, types.JobTypeValidate, types.JobTypeSetup:
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	id, err := k.Store.EnqueueJob(jobType)
	if err != nil {
		return nil, err
	}
	return map[string]string{"job_id": id}, nil
}

func handleRegisterContract(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	trigTool, err := requireArg(req, "trigger_tool")
	if err != nil {
		return nil, err
	}
	trigAction, err := requireArg(req, "trigger_action")
	if err != nil {
		return nil, err
	}
	targetTool, err := requireArg(req, "target_tool")
	if err != nil {
		return nil, err
	}
	if _, ok := k.handlers[targetTool]; !ok {
		return nil, fmt.Errorf("contract target %q is not a registered tool", targetTool)
	}

	targetArgs := map[string]string{}
	if raw := req.Args["target_args"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &targetArgs); err != nil {
			return nil, fmt.Errorf("target_args must be a JSON string map: %w", err)
		}
	}

	id, err := k.Store.RegisterContract(&types.ReactiveContract{
		TriggerTool:   trigTool,
		TriggerAction: trigAction,
		TargetTool:    targetTool,
		TargetArgs:    targetArgs,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"contract_id": id}, nil
}

func handleDeleteContract(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	id, err := requireArg(req, "id")
	if err != nil {
		return nil, err
	}
	if err := k.Store.DeleteContract(id); err != nil {
		return nil, err
	}
	return map[string]string{"deleted": id}, nil
}

// handleEvaluateAgent applies a scored evaluation to an agent's standing.
// This is the only promotion path: cited evidence must reference recorded
// traces, and the policy engine scales unevidenced deltas down.
func handleEvaluateAgent(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	agent, err := requireArg(req, "agent")
	if err != nil {
		return nil, err
	}
	delta, err := strconv.ParseFloat(req.Args["delta"], 64)
	if err != nil {
		return nil, fmt.Errorf("evaluate_agent requires a numeric delta")
	}
	safety := 1.0
	if raw := req.Args["safety"]; raw != "" {
		safety, err = strconv.ParseFloat(raw, 64)
		if err != nil || safety < 0 || safety > 1 {
			return nil, fmt.Errorf("safety score must be a number in [0,1]")
		}
	}

	evidence := splitList(req.Args["evidence"])
	for _, id := range evidence {
		known, err := k.Store.TraceExists(id)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, fmt.Errorf("evidence %s does not reference a recorded trace", id)
		}
	}

	profile, err := k.Store.GetOrCreateAgent(agent)
	if err != nil {
		return nil, err
	}
	policy.UpdateMMR(profile, policy.Evaluation{
		BaseDelta:   delta,
		EvidenceIDs: evidence,
		SafetyScore: safety,
	})
	if err := k.Store.SaveAgent(profile); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"agent":     profile.AgentID,
		"mmr":       profile.MMR,
		"rank":      profile.Rank,
		"streak":    profile.Streak,
		"probation": profile.Probation,
	}, nil
}

func handlePruneTraces(ctx context.Context, k *Kernel, req Request) (interface{}, error) {
	olderThan := 7 * 24 * time.Hour
	if raw := req.Args["older_than"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid older_than duration: %w", err)
		}
		olderThan = d
	}
	pruned, err := k.Store.PruneTraces(olderThan)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"pruned": pruned}, nil
}
