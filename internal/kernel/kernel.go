// Package kernel implements the trust boundary every externally exposed
// operation passes through: rank gate, path containment, session and lock
// checks, the operation itself, trace append, then reactive contract
// chaining.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cogkernel/internal/config"
	"cogkernel/internal/embedding"
	"cogkernel/internal/logging"
	"cogkernel/internal/policy"
	"cogkernel/internal/security"
	"cogkernel/internal/store"
	"cogkernel/internal/types"
)

// maxContractDepth bounds reactive chaining; past it, chaining silently
// stops rather than erroring.
const maxContractDepth = 3

// Request is one agent-initiated call at the boundary.
type Request struct {
	Agent        string            `json:"agent"`
	Tool         string            `json:"tool"`
	Action       string            `json:"action"`
	Args         map[string]string `json:"args,omitempty"`
	Paths        []string          `json:"paths,omitempty"`
	SessionToken string            `json:"session_token,omitempty"`
}

// Handler executes one tool's semantics after the guards have passed.
type Handler func(ctx context.Context, k *Kernel, req Request) (interface{}, error)

// Kernel owns the guards and dispatches wrapped calls.
type Kernel struct {
	Store   *store.Store
	Guard   *security.PathGuard
	Sandbox *security.Sandbox
	Signer  *security.Signer
	Config  *config.Config

	// Embedder is optional; when nil, search falls back to lexical
	// matching over stored content.
	Embedder embedding.Engine

	handlers map[string]Handler
}

// New wires a kernel from its collaborators and registers the built-in
// tool handlers.
func New(st *store.Store, guard *security.PathGuard, sandbox *security.Sandbox, signer *security.Signer, cfg *config.Config) *Kernel {
	k := &Kernel{
		Store:    st,
		Guard:    guard,
		Sandbox:  sandbox,
		Signer:   signer,
		Config:   cfg,
		handlers: make(map[string]Handler),
	}
	registerBuiltins(k)
	return k
}

// RegisterHandler adds or replaces a tool handler.
func (k *Kernel) RegisterHandler(tool string, h Handler) {
	k.handlers[tool] = h
}

// mutationTools are the tools that require a live change session. Planning
// and read tools do not.
var sessionRequired = map[string]bool{
	"ingest_chunk":  true,
	"delete_chunk":  true,
	"propose_patch": true,
}

// Invoke runs one call through the full boundary. Containment violations
// return an error; permission, session, and collision outcomes come back
// as structured results.
func (k *Kernel) Invoke(ctx context.Context, req Request) (*Result, error) {
	return k.invoke(ctx, req, 0)
}

func (k *Kernel) invoke(ctx context.Context, req Request, depth int) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryKernel, "Invoke "+req.Tool)
	defer timer.Stop()

	handler, ok := k.handlers[req.Tool]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", req.Tool)
	}

	// Rank gate first: an out-of-tier call never reaches any other guard.
	profile, err := k.Store.GetOrCreateAgent(req.Agent)
	if err != nil {
		return nil, err
	}
	rank := policy.Rank(profile.MMR)
	if !policy.ToolAllowed(rank, req.Tool) {
		logging.Audit(logging.AuditEvent{Type: logging.AuditToolDenied, Agent: req.Agent, Tool: req.Tool})
		logging.Kernel("denied %s for %s (rank %s)", req.Tool, req.Agent, rank)
		return &Result{
			Status: StatusDeniedRank,
			Reason: fmt.Sprintf("tool %s requires a higher tier than rank %s", req.Tool, rank),
		}, nil
	}

	// Path containment: canonicalize every path argument before any side
	// effect. Violations are fatal to the call.
	resolved := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		rp, err := k.Guard.Resolve(p)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, rp)
	}
	req.Paths = resolved

	// Session gate for mutation-class tools.
	if sessionRequired[req.Tool] {
		sess, err := k.Store.LiveSession(req.SessionToken)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			logging.Audit(logging.AuditEvent{Type: logging.AuditSessionDenied, Agent: req.Agent, Tool: req.Tool})
			return &Result{Status: StatusDeniedSession, Reason: "mutation denied: no active change session"}, nil
		}
	}

	// Lock check: a mutation touching files locked by another agent is a
	// collision, not an error.
	if sessionRequired[req.Tool] {
		for _, p := range req.Paths {
			holder, err := k.Store.LockHolder(p)
			if err != nil {
				return nil, err
			}
			if holder != nil && holder.OwnerAgent != req.Agent {
				logging.Audit(logging.AuditEvent{Type: logging.AuditLockCollision, Agent: req.Agent, Tool: req.Tool, Detail: p})
				return &Result{
					Status: StatusCollision,
					Reason: fmt.Sprintf("collision prevented: %s is locked by %s", p, holder.OwnerAgent),
				}, nil
			}
		}
	}

	logging.Audit(logging.AuditEvent{Type: logging.AuditToolInvoke, Agent: req.Agent, Tool: req.Tool, Success: true})
	start := time.Now()
	output, opErr := handler(ctx, k, req)
	elapsed := time.Since(start)

	result := &Result{Status: StatusOK, Output: output}
	if opErr != nil {
		var rej *rejection
		if errors.As(opErr, &rej) {
			result = &Result{Status: rej.status, Reason: rej.reason}
		} else {
			result = &Result{Status: StatusError, Reason: opErr.Error()}
		}
	} else if verdict := screenOutput(output); verdict != "" {
		// Governance intervention: reject the response and penalize the
		// caller's standing.
		logging.Audit(logging.AuditEvent{Type: logging.AuditGovernance, Agent: req.Agent, Tool: req.Tool, Detail: verdict})
		policy.UpdateMMR(profile, policy.Evaluation{BaseDelta: -100, SafetyScore: 0})
		if err := k.Store.SaveAgent(profile); err != nil {
			logging.Get(logging.CategoryKernel).Error("failed to persist governance penalty: %v", err)
		}
		result = &Result{Status: StatusGovernance, Reason: verdict}
	}

	// Trace append happens for every call that reached its handler.
	traceID, err := k.Store.AppendTrace(&types.TraceArtifact{
		Tool:       req.Tool + "/" + req.Action,
		Inputs:     marshalForTrace(req),
		Outputs:    marshalForTrace(result.Output),
		DurationMS: elapsed.Milliseconds(),
	})
	if err != nil {
		logging.Get(logging.CategoryKernel).Error("trace append failed: %v", err)
	} else {
		result.TraceID = traceID
	}

	logging.Audit(logging.AuditEvent{
		Type: logging.AuditToolComplete, Agent: req.Agent, Tool: req.Tool,
		Detail: string(result.Status), Success: result.Status == StatusOK,
	})

	// Reactive contracts chain only off successful, non-error calls.
	if result.Status == StatusOK && depth < maxContractDepth {
		k.chainContracts(ctx, req, result, depth)
	}

	return result, nil
}

// chainContracts invokes every rule matching the completed (tool, action)
// and folds the outcomes into the triggering response.
func (k *Kernel) chainContracts(ctx context.Context, req Request, result *Result, depth int) {
	contracts, err := k.Store.MatchContracts(req.Tool, req.Action)
	if err != nil {
		logging.Get(logging.CategoryContracts).Error("contract lookup failed: %v", err)
		return
	}

	for _, c := range contracts {
		args := make(map[string]string, len(c.TargetArgs))
		for key, v := range c.TargetArgs {
			args[key] = v
		}
		chained := Request{
			Agent:        req.Agent,
			Tool:         c.TargetTool,
			Action:       "contract",
			Args:         args,
			SessionToken: req.SessionToken,
		}
		logging.Audit(logging.AuditEvent{Type: logging.AuditContractChain, Agent: req.Agent, Tool: c.TargetTool, Detail: c.ID})

		sub, err := k.invoke(ctx, chained, depth+1)
		outcome := ContractOutcome{ContractID: c.ID, Tool: c.TargetTool}
		if err != nil {
			outcome.Status = StatusError
			outcome.Reason = err.Error()
		} else {
			outcome.Status = sub.Status
			outcome.Output = sub.Output
			outcome.Reason = sub.Reason
		}
		result.ContractsTriggered = append(result.ContractsTriggered, outcome)
	}
}

func marshalForTrace(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
