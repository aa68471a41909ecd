// Package policy maps agent performance history to capability tiers and
// tool allow-lists. Everything here is a pure function of the profile; the
// store only persists MMR, streak, and probation.
package policy

import (
	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// Ladder is the nine-step rank ladder, one step per 1000 MMR.
var Ladder = []string{
	"bronze",
	"silver",
	"platinum",
	"diamond",
	"master",
	"grandmaster",
	"epic",
	"legend",
	"mythic",
}

// Tier is a capability tier; each tier's allow-list is a strict superset
// of the one below.
type Tier int

const (
	TierBase     Tier = iota // read-only search/status
	TierAnalysis             // adds structural inspection
	TierMutation             // adds proposing patches
	TierKernel               // adds setup/contract/trace tools
)

// Minimum ladder index for each tier above base.
const (
	analysisRankIndex = 1 // silver
	mutationRankIndex = 2 // platinum
	kernelRankIndex   = 5 // grandmaster
)

var baseTools = []string{
	"search",
	"status",
	"get_chunk",
	"query_board",
	"list_jobs",
}

var analysisTools = []string{
	"inspect_symbols",
	"list_dependencies",
	"list_traces",
	"list_locks",
}

var mutationTools = []string{
	"ingest_chunk",
	"delete_chunk",
	"propose_patch",
	"acquire_lock",
	"release_lock",
	"start_session",
	"advance_session",
	"post_board",
	"resolve_post",
}

var kernelTools = []string{
	"setup",
	"enqueue_job",
	"register_contract",
	"delete_contract",
	"evaluate_agent",
	"prune_traces",
}

// Rank buckets an MMR score into the ladder at fixed 1000-point intervals.
func Rank(mmr float64) string {
	if mmr < 0 {
		return Ladder[0]
	}
	idx := int(mmr / 1000)
	if idx >= len(Ladder) {
		idx = len(Ladder) - 1
	}
	return Ladder[idx]
}

// RankIndex returns the ladder position of a rank name, or 0 for unknown.
func RankIndex(rank string) int {
	for i, r := range Ladder {
		if r == rank {
			return i
		}
	}
	return 0
}

// TierFor returns the capability tier of a rank.
func TierFor(rank string) Tier {
	idx := RankIndex(rank)
	switch {
	case idx >= kernelRankIndex:
		return TierKernel
	case idx >= mutationRankIndex:
		return TierMutation
	case idx >= analysisRankIndex:
		return TierAnalysis
	default:
		return TierBase
	}
}

// AllowedTools returns the tool allow-list for a rank. Pure function;
// each tier includes every tool from the tiers below it.
func AllowedTools(rank string) []string {
	tier := TierFor(rank)

	tools := append([]string{}, baseTools...)
	if tier >= TierAnalysis {
		tools = append(tools, analysisTools...)
	}
	if tier >= TierMutation {
		tools = append(tools, mutationTools...)
	}
	if tier >= TierKernel {
		tools = append(tools, kernelTools...)
	}
	return tools
}

// ToolAllowed reports whether a rank may invoke a tool.
func ToolAllowed(rank, tool string) bool {
	for _, t := range AllowedTools(rank) {
		if t == tool {
			return true
		}
	}
	return false
}

// Evaluation is one scored outcome of an agent's work.
type Evaluation struct {
	// BaseDelta is the unscaled MMR movement, positive or negative.
	BaseDelta float64
	// EvidenceIDs cites the traces or patches supporting the evaluation.
	EvidenceIDs []string
	// SafetyScore in [0,1]; below half triggers the fixed safety penalty.
	SafetyScore float64
}

// safetyPenalty is the fixed deduction when the safety sub-score falls
// below half.
const safetyPenalty = 250

// UpdateMMR applies an evaluation to an agent profile in place. Evidence
// scales the delta by 1.5, its absence by 0.5; the result is floored at
// zero. The profile's rank field is refreshed from the new MMR.
func UpdateMMR(p *types.AgentProfile, eval Evaluation) {
	mult := 0.5
	if len(eval.EvidenceIDs) > 0 {
		mult = 1.5
	}
	delta := eval.BaseDelta * mult

	next := p.MMR + delta
	unsafe := eval.SafetyScore < 0.5
	if unsafe {
		next -= safetyPenalty
	}
	if next < 0 {
		next = 0
	}

	if delta > 0 && !unsafe {
		p.Streak++
	} else {
		p.Streak = 0
	}
	if unsafe {
		p.Probation = true
	} else if p.Streak >= 3 {
		p.Probation = false
	}

	before := Rank(p.MMR)
	p.MMR = next
	p.Rank = Rank(next)

	if before != p.Rank {
		logging.Get(logging.CategoryPolicy).Info("agent %s rank %s -> %s (mmr %.0f)",
			p.AgentID, before, p.Rank, p.MMR)
	}
}
