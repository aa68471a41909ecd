package kernel

import "fmt"

// Status classifies the outcome of a kernel-wrapped call. Permission and
// coordination rejections are structured results, not errors, so callers
// can react programmatically; containment violations surface as errors.
type Status string

const (
	// StatusOK: the operation ran and its output is in Result.Output.
	StatusOK Status = "ok"
	// StatusDeniedRank: the tool is outside the caller's tier.
	StatusDeniedRank Status = "denied_rank"
	// StatusDeniedSession: a mutation-class call without a live session.
	StatusDeniedSession Status = "denied_session"
	// StatusCollision: a required resource is locked by another agent;
	// non-fatal, the caller should retry or coordinate.
	StatusCollision Status = "collision"
	// StatusGovernance: the output tripped the governance screen; the
	// response is rejected and the agent's standing penalized.
	StatusGovernance Status = "governance"
	// StatusError: the underlying operation failed.
	StatusError Status = "error"
)

// ContractOutcome is the folded result of one chained contract call.
type ContractOutcome struct {
	ContractID string      `json:"contract_id"`
	Tool       string      `json:"tool"`
	Status     Status      `json:"status"`
	Output     interface{} `json:"output,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// Result is the structured response of one kernel-wrapped call.
type Result struct {
	Status             Status            `json:"status"`
	Reason             string            `json:"reason,omitempty"`
	Output             interface{}       `json:"output,omitempty"`
	TraceID            string            `json:"trace_id,omitempty"`
	ContractsTriggered []ContractOutcome `json:"contracts_triggered,omitempty"`
}

// OK reports whether the call succeeded.
func (r *Result) OK() bool {
	return r.Status == StatusOK
}

// rejection carries a structured non-fatal outcome out of a handler; the
// boundary unwraps it into the matching Result status instead of an error.
type rejection struct {
	status Status
	reason string
}

func (r *rejection) Error() string { return r.reason }

func reject(status Status, format string, args ...interface{}) error {
	return &rejection{status: status, reason: fmt.Sprintf(format, args...)}
}
