package feed

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates optimistic mutation kinds. A post carries at most one
// in-flight like-class mutation and one comment-class mutation at a time;
// duplicate intents coalesce instead of queueing.
type Kind string

const (
	KindLike         Kind = "like"
	KindUnlike       Kind = "unlike"
	KindCommentDelta Kind = "comment_delta"
)

// Mutation is an optimistic change applied locally before server
// confirmation, subject to rollback.
type Mutation struct {
	ID          string
	PostID      string
	Kind        Kind
	Delta       int
	SubmittedAt time.Time
}

func newMutation(postID string, kind Kind, delta int, now time.Time) Mutation {
	return Mutation{
		ID:          uuid.NewString(),
		PostID:      postID,
		Kind:        kind,
		Delta:       delta,
		SubmittedAt: now.UTC(),
	}
}

// Outcome is the server's verdict on a mutation.
type Outcome struct {
	Accepted bool
	// ServerLikeCount, when set, is the authoritative counter returned by
	// the server.
	ServerLikeCount *int
}

// applyOptimistic returns post with the mutation's delta applied. Pure.
func applyOptimistic(p Post, m Mutation) Post {
	switch m.Kind {
	case KindLike:
		p.LikeCount += m.Delta
		p.ViewerHasLiked = true
	case KindUnlike:
		p.LikeCount += m.Delta
		p.ViewerHasLiked = false
	case KindCommentDelta:
		p.CommentCount += m.Delta
	}
	return p
}

// rollback reverses exactly the delta the mutation applied, never the whole
// server state, so concurrent optimistic changes to the same post survive.
// wasLiked restores the viewer flag for like-class mutations. Pure.
func rollback(p Post, m Mutation, wasLiked bool) Post {
	switch m.Kind {
	case KindLike, KindUnlike:
		p.LikeCount -= m.Delta
		p.ViewerHasLiked = wasLiked
	case KindCommentDelta:
		p.CommentCount -= m.Delta
	}
	return p
}

// reconcile resolves a mutation against its outcome. Acceptance bumps the
// revision and keeps the optimistic value, or adopts the server's counter
// when one was returned. Rejection reverses the applied delta. Pure.
func reconcile(p Post, m Mutation, o Outcome, wasLiked bool) Post {
	if !o.Accepted {
		return rollback(p, m, wasLiked)
	}
	p.Revision++
	if o.ServerLikeCount != nil && (m.Kind == KindLike || m.Kind == KindUnlike) {
		p.LikeCount = *o.ServerLikeCount
	}
	return p
}
