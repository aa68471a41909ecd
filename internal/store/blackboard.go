package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cogkernel/internal/logging"
	"cogkernel/internal/types"
)

// ErrUnevidenced is returned when a factual post carries no evidence.
var ErrUnevidenced = fmt.Errorf("post requires at least one evidence id")

// CreatePost validates and inserts a blackboard post, returning its id.
// Any post other than a question must carry at least one evidence id
// (a trace id, patch id, or session token); unevidenced factual claims are
// rejected at creation.
func (s *Store) CreatePost(post *types.BlackboardPost) (string, error) {
	switch post.Type {
	case types.PostProposal, types.PostFinding, types.PostQuestion,
		types.PostDecision, types.PostIncident:
	default:
		return "", fmt.Errorf("unknown post type %q", post.Type)
	}
	if post.Type != types.PostQuestion && len(post.EvidenceIDs) == 0 {
		logging.Get(logging.CategoryBoard).Warn("rejected unevidenced %s from %s", post.Type, post.Author)
		return "", ErrUnevidenced
	}
	if strings.TrimSpace(post.Body) == "" {
		return "", fmt.Errorf("post body cannot be empty")
	}
	if post.Author == "" {
		return "", fmt.Errorf("post requires an author")
	}

	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.Status == "" {
		post.Status = types.PostOpen
	}
	evidence, err := json.Marshal(post.EvidenceIDs)
	if err != nil {
		return "", fmt.Errorf("failed to encode evidence ids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO blackboard (id, type, topic, body, author, status, evidence_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		post.ID, string(post.Type), post.Topic, post.Body, post.Author,
		string(post.Status), string(evidence),
	); err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}

	logging.Get(logging.CategoryBoard).Info("post %s created: %s by %s", post.ID, post.Type, post.Author)
	return post.ID, nil
}

// PostFilter narrows a blackboard query. Zero values match everything.
type PostFilter struct {
	Type   types.PostType
	Author string
	Topic  string
	Status types.PostStatus
	Limit  int
}

// QueryPosts returns posts matching the filter, newest first. Rows whose
// evidence payload fails to parse are skipped and logged rather than
// failing the query.
func (s *Store) QueryPosts(f PostFilter) ([]types.BlackboardPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, type, topic, body, author, status, evidence_ids, created_at FROM blackboard WHERE 1=1"
	var args []interface{}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.Author != "" {
		query += " AND author = ?"
		args = append(args, f.Author)
	}
	if f.Topic != "" {
		query += " AND topic = ?"
		args = append(args, f.Topic)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []types.BlackboardPost
	for rows.Next() {
		var p types.BlackboardPost
		var ptype, status, evidence string
		if err := rows.Scan(&p.ID, &ptype, &p.Topic, &p.Body, &p.Author, &status, &evidence, &p.CreatedAt); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(evidence), &p.EvidenceIDs); err != nil {
			logging.Get(logging.CategoryBoard).Warn("post %s has corrupt evidence payload, skipping: %v", p.ID, err)
			continue
		}
		p.Type = types.PostType(ptype)
		p.Status = types.PostStatus(status)
		posts = append(posts, p)
	}
	return posts, nil
}

// UpdatePostStatus transitions a post between lifecycle states.
func (s *Store) UpdatePostStatus(postID string, status types.PostStatus) error {
	switch status {
	case types.PostOpen, types.PostResolved, types.PostSuperseded, types.PostDisputed:
	default:
		return fmt.Errorf("unknown post status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE blackboard SET status = ? WHERE id = ?", string(status), postID,
	)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("post %s not found", postID)
	}
	return nil
}
