package store

import (
	"errors"
	"testing"
	"time"

	"cogkernel/internal/types"
)

func TestPostEvidenceGate(t *testing.T) {
	s := newTestStore(t)

	// Questions may stand alone.
	id, err := s.CreatePost(&types.BlackboardPost{
		Type:   types.PostQuestion,
		Body:   "is the retry budget per chunk or global?",
		Author: "agent-a",
	})
	if err != nil {
		t.Fatalf("CreatePost(question): %v", err)
	}
	if id == "" {
		t.Fatal("empty post id")
	}

	// Everything else needs at least one evidence id.
	_, err = s.CreatePost(&types.BlackboardPost{
		Type:   types.PostFinding,
		Body:   "the queue never drains",
		Author: "agent-a",
	})
	if !errors.Is(err, ErrUnevidenced) {
		t.Errorf("err = %v, want ErrUnevidenced", err)
	}

	_, err = s.CreatePost(&types.BlackboardPost{
		Type:        types.PostFinding,
		Body:        "the queue never drains",
		Author:      "agent-a",
		EvidenceIDs: []string{"trace-1"},
	})
	if err != nil {
		t.Errorf("evidenced finding rejected: %v", err)
	}
}

func TestQueryPostsFilters(t *testing.T) {
	s := newTestStore(t)

	posts := []*types.BlackboardPost{
		{Type: types.PostQuestion, Topic: "queue", Body: "q1", Author: "a"},
		{Type: types.PostQuestion, Topic: "locks", Body: "q2", Author: "b"},
		{Type: types.PostFinding, Topic: "queue", Body: "f1", Author: "a", EvidenceIDs: []string{"t1"}},
	}
	for _, p := range posts {
		if _, err := s.CreatePost(p); err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
	}

	got, err := s.QueryPosts(PostFilter{Topic: "queue"})
	if err != nil {
		t.Fatalf("QueryPosts: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("topic filter: %d posts, want 2", len(got))
	}

	got, err = s.QueryPosts(PostFilter{Author: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Body != "q2" {
		t.Errorf("author filter: %+v", got)
	}
}

func TestPostStatusLifecycle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreatePost(&types.BlackboardPost{Type: types.PostQuestion, Body: "q", Author: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdatePostStatus(id, types.PostResolved); err != nil {
		t.Fatalf("UpdatePostStatus: %v", err)
	}
	got, _ := s.QueryPosts(PostFilter{Status: types.PostResolved})
	if len(got) != 1 || got[0].ID != id {
		t.Errorf("resolved posts = %+v", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	token, err := s.StartSession("fix retry logic", "abc123", time.Hour)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	live, err := s.LiveSession(token)
	if err != nil {
		t.Fatal(err)
	}
	if live == nil {
		t.Fatal("fresh session not live")
	}

	if err := s.TouchSessionFiles(token, []string{"a.go", "b.go", "a.go"}); err != nil {
		t.Fatalf("TouchSessionFiles: %v", err)
	}
	if err := s.AttachPatch(token, "patch-1"); err != nil {
		t.Fatalf("AttachPatch: %v", err)
	}
	sess, _ := s.GetSession(token)
	if len(sess.FilesTouched) != 2 {
		t.Errorf("files touched = %v, want deduplicated pair", sess.FilesTouched)
	}
	if len(sess.PatchIDs) != 1 {
		t.Errorf("patches = %v", sess.PatchIDs)
	}

	if err := s.TransitionSession(token, types.SessionValidating); err != nil {
		t.Fatalf("to validating: %v", err)
	}
	// A validating session no longer authorizes mutations.
	if live, _ := s.LiveSession(token); live != nil {
		t.Error("validating session still live")
	}
	if err := s.TransitionSession(token, types.SessionFinalized); err != nil {
		t.Fatalf("to finalized: %v", err)
	}
}

func TestSessionIllegalTransitions(t *testing.T) {
	s := newTestStore(t)

	token, _ := s.StartSession("", "abc", time.Hour)
	if err := s.TransitionSession(token, types.SessionFinalized); err == nil {
		t.Error("active -> finalized allowed")
	}
	if err := s.TransitionSession(token, types.SessionAborted); err != nil {
		t.Fatalf("abort: %v", err)
	}
	// Terminal states accept nothing.
	if err := s.TransitionSession(token, types.SessionValidating); err == nil {
		t.Error("aborted -> validating allowed")
	}
	if err := s.TransitionSession("no-such-token", types.SessionAborted); err == nil {
		t.Error("transition of unknown session allowed")
	}
}

func TestSessionExpiry(t *testing.T) {
	s := newTestStore(t)

	token, _ := s.StartSession("", "abc", -time.Second)
	if live, _ := s.LiveSession(token); live != nil {
		t.Error("expired session still live")
	}
	sess, _ := s.GetSession(token)
	if sess.Status != types.SessionAborted {
		t.Errorf("status = %s, want aborted once expired", sess.Status)
	}

	n, err := s.SweepExpiredSessions()
	if err != nil {
		t.Fatalf("SweepExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
}

func TestAgentProfilePersistence(t *testing.T) {
	s := newTestStore(t)

	p, err := s.GetOrCreateAgent("agent-a")
	if err != nil {
		t.Fatalf("GetOrCreateAgent: %v", err)
	}
	if p.MMR != 1000 {
		t.Errorf("fresh MMR = %f, want 1000", p.MMR)
	}

	p.MMR = 2500
	p.Streak = 2
	p.Probation = true
	if err := s.SaveAgent(p); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	got, err := s.GetAgent("agent-a")
	if err != nil {
		t.Fatal(err)
	}
	if got.MMR != 2500 || got.Streak != 2 || !got.Probation {
		t.Errorf("agent = %+v", got)
	}

	// A second GetOrCreate must not reset the profile.
	again, _ := s.GetOrCreateAgent("agent-a")
	if again.MMR != 2500 {
		t.Errorf("MMR reset to %f", again.MMR)
	}
}

func TestContractMatching(t *testing.T) {
	s := newTestStore(t)

	id, err := s.RegisterContract(&types.ReactiveContract{
		TriggerTool:   "ingest_chunk",
		TriggerAction: "cli",
		TargetTool:    "enqueue_job",
		TargetArgs:    map[string]string{"type": "validate"},
	})
	if err != nil {
		t.Fatalf("RegisterContract: %v", err)
	}

	matched, err := s.MatchContracts("ingest_chunk", "cli")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 || matched[0].TargetArgs["type"] != "validate" {
		t.Errorf("matched = %+v", matched)
	}

	if matched, _ := s.MatchContracts("ingest_chunk", "other"); len(matched) != 0 {
		t.Errorf("action mismatch still matched: %+v", matched)
	}

	if err := s.DeleteContract(id); err != nil {
		t.Fatalf("DeleteContract: %v", err)
	}
	if matched, _ := s.MatchContracts("ingest_chunk", "cli"); len(matched) != 0 {
		t.Errorf("deleted contract still matched: %+v", matched)
	}
}

func TestTracePruning(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AppendTrace(&types.TraceArtifact{Tool: "search/cli", Inputs: "{}", Outputs: "{}"})
	if err != nil {
		t.Fatalf("AppendTrace: %v", err)
	}
	ok, err := s.TraceExists(id)
	if err != nil || !ok {
		t.Fatalf("TraceExists = %v, %v", ok, err)
	}

	// Younger than the cutoff: kept.
	n, err := s.PruneTraces(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pruned %d fresh traces", n)
	}

	// Older than a zero cutoff: removed.
	n, err = s.PruneTraces(-time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}
