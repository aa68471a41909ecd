package policy

import (
	"testing"

	"cogkernel/internal/types"
)

func TestRankBuckets(t *testing.T) {
	cases := []struct {
		mmr  float64
		want string
	}{
		{-50, "bronze"},
		{0, "bronze"},
		{999, "bronze"},
		{1000, "silver"},
		{1999, "silver"},
		{2000, "platinum"},
		{5000, "grandmaster"},
		{8000, "mythic"},
		{250000, "mythic"},
	}
	for _, tc := range cases {
		if got := Rank(tc.mmr); got != tc.want {
			t.Errorf("Rank(%f) = %s, want %s", tc.mmr, got, tc.want)
		}
	}
}

func TestAllowedToolsNesting(t *testing.T) {
	// Each tier must be a strict superset of the one below.
	prev := 0
	for _, rank := range Ladder {
		tools := AllowedTools(rank)
		if len(tools) < prev {
			t.Errorf("rank %s has fewer tools than the rank below", rank)
		}
		prev = len(tools)

		// Base reads are available everywhere.
		if !ToolAllowed(rank, "search") || !ToolAllowed(rank, "status") {
			t.Errorf("rank %s lost base tools", rank)
		}
	}

	if ToolAllowed("bronze", "inspect_symbols") {
		t.Error("bronze granted analysis tools")
	}
	if !ToolAllowed("silver", "inspect_symbols") {
		t.Error("silver denied analysis tools")
	}
	if ToolAllowed("silver", "propose_patch") {
		t.Error("silver granted mutation tools")
	}
	if !ToolAllowed("platinum", "propose_patch") {
		t.Error("platinum denied mutation tools")
	}
	if ToolAllowed("master", "evaluate_agent") {
		t.Error("master may evaluate agents")
	}
	if !ToolAllowed("grandmaster", "evaluate_agent") {
		t.Error("grandmaster may not evaluate agents")
	}
	if ToolAllowed("master", "register_contract") {
		t.Error("master granted kernel tools")
	}
	if !ToolAllowed("grandmaster", "register_contract") {
		t.Error("grandmaster denied kernel tools")
	}
	if ToolAllowed("mythic", "summon_demon") {
		t.Error("unknown tool allowed")
	}
}

func TestUpdateMMREvidenceScaling(t *testing.T) {
	p := &types.AgentProfile{AgentID: "a", MMR: 1000}
	UpdateMMR(p, Evaluation{BaseDelta: 100, EvidenceIDs: []string{"trace-1"}, SafetyScore: 1})
	if p.MMR != 1150 {
		t.Errorf("evidenced delta: MMR = %f, want 1150", p.MMR)
	}

	p = &types.AgentProfile{AgentID: "a", MMR: 1000}
	UpdateMMR(p, Evaluation{BaseDelta: 100, SafetyScore: 1})
	if p.MMR != 1050 {
		t.Errorf("unevidenced delta: MMR = %f, want 1050", p.MMR)
	}
}

func TestUpdateMMRSafetyPenalty(t *testing.T) {
	p := &types.AgentProfile{AgentID: "a", MMR: 1000, Streak: 5}
	UpdateMMR(p, Evaluation{BaseDelta: 0, SafetyScore: 0.2})
	if p.MMR != 750 {
		t.Errorf("MMR = %f, want 750 after safety penalty", p.MMR)
	}
	if !p.Probation {
		t.Error("unsafe outcome did not set probation")
	}
	if p.Streak != 0 {
		t.Error("unsafe outcome did not reset the streak")
	}

	// The floor is zero, never negative.
	p = &types.AgentProfile{AgentID: "a", MMR: 100}
	UpdateMMR(p, Evaluation{BaseDelta: -500, SafetyScore: 0})
	if p.MMR != 0 {
		t.Errorf("MMR = %f, want floor of 0", p.MMR)
	}
	if p.Rank != "bronze" {
		t.Errorf("rank = %s, want bronze at the floor", p.Rank)
	}
}

func TestUpdateMMRProbationClears(t *testing.T) {
	p := &types.AgentProfile{AgentID: "a", MMR: 1000, Probation: true}
	for i := 0; i < 2; i++ {
		UpdateMMR(p, Evaluation{BaseDelta: 50, EvidenceIDs: []string{"t"}, SafetyScore: 1})
		if !p.Probation {
			t.Fatalf("probation cleared after only %d safe outcomes", i+1)
		}
	}
	UpdateMMR(p, Evaluation{BaseDelta: 50, EvidenceIDs: []string{"t"}, SafetyScore: 1})
	if p.Probation {
		t.Error("probation not cleared after three safe outcomes")
	}
}

func TestUpdateMMRRefreshesRank(t *testing.T) {
	p := &types.AgentProfile{AgentID: "a", MMR: 1950, Rank: "silver"}
	UpdateMMR(p, Evaluation{BaseDelta: 100, EvidenceIDs: []string{"t"}, SafetyScore: 1})
	if p.Rank != "platinum" {
		t.Errorf("rank = %s, want platinum after crossing 2000", p.Rank)
	}
}
