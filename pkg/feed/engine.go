package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/architechdev/feedsync-go/pkg/session"
	"github.com/architechdev/feedsync-go/pkg/telemetry"
	"github.com/architechdev/feedsync-go/pkg/transport"
)

// ErrUnknownPost indicates a mutation targeted a post no feed page has
// loaded. That is a caller contract violation, not an expected runtime
// failure, so it is surfaced loudly instead of being swallowed.
var ErrUnknownPost = errors.New("feed: post not loaded")

// Engine orchestrates cursor-based page fetches and optimistic mutations
// over its Cache. It exclusively owns the pending-mutation set. Network
// calls never run under a lock.
type Engine struct {
	api      transport.API
	sessions *session.Manager
	cache    *Cache
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	flights  map[string]*pageFlight
	nextSeq  uint64
	mergeSeq uint64
	done     map[uint64]pageResult
	likes    map[string]*likeState
	comments map[string]*commentState
}

// pageFlight is a single in-flight page fetch that concurrent callers for
// the same cursor attach to instead of issuing a duplicate request.
type pageFlight struct {
	finished   chan struct{}
	nextCursor string
	err        error
}

// pageResult is a completed fetch waiting for all earlier pages to merge,
// so a feed never displays page 2 above page 1.
type pageResult struct {
	gen   uint64
	posts []Post
}

type likeState struct {
	serverLiked bool // last server-confirmed viewer state
	desired     bool // what the user currently wants
	gen         uint64
	mutation    Mutation
}

type commentState struct {
	mutation Mutation
	gen      uint64
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineLogger attaches a structured logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEngineClock injects the time source, mainly for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds a feed engine bound to the session manager. The engine
// registers itself for session resets so a logout or account switch
// discards the cache before any subsequent read.
func NewEngine(api transport.API, sessions *session.Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		api:      api,
		sessions: sessions,
		cache:    NewCache(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		flights:  make(map[string]*pageFlight),
		done:     make(map[uint64]pageResult),
		likes:    make(map[string]*likeState),
		comments: make(map[string]*commentState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if sessions != nil {
		sessions.OnReset(e.Reset)
	}
	return e
}

// Cache exposes the post store for snapshot reads.
func (e *Engine) Cache() *Cache { return e.cache }

// Posts returns the current feed in rank order.
func (e *Engine) Posts() []Post { return e.cache.List() }

// LoadPage fetches one feed page. An empty cursor requests the first page.
// A second concurrent call for the same cursor attaches to the in-flight
// fetch and shares its result, so exactly one network call is issued per
// cursor at a time. On success the page is merged (in request order, even
// when responses complete out of order) and the next cursor returned. On
// transport failure prior state is left untouched. An expired credential
// escalates to the session manager; the caller re-invokes after the session
// stabilizes.
func (e *Engine) LoadPage(ctx context.Context, cursor string) (string, error) {
	e.mu.Lock()
	if f := e.flights[cursor]; f != nil {
		e.mu.Unlock()
		select {
		case <-f.finished:
			return f.nextCursor, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f := &pageFlight{finished: make(chan struct{})}
	e.flights[cursor] = f
	seq := e.nextSeq
	e.nextSeq++
	gen := e.cache.Generation()
	e.mu.Unlock()

	start := e.now()
	ctx, span := telemetry.StartSpan(ctx, "feed.load_page")
	page, err := e.fetch(ctx, cursor)
	telemetry.EndSpan(span, err)
	telemetry.RecordOp(ctx, telemetry.OpData{Op: "feed.load_page", Duration: e.now().Sub(start), Error: err})

	e.mu.Lock()
	res := pageResult{gen: gen}
	if err == nil {
		res.posts = fromWirePosts(page.Posts)
		f.nextCursor = page.NextCursor
	}
	f.err = err
	e.done[seq] = res
	e.flushLocked()
	delete(e.flights, cursor)
	e.mu.Unlock()
	close(f.finished)

	return f.nextCursor, f.err
}

func (e *Engine) fetch(ctx context.Context, cursor string) (transport.FeedPage, error) {
	cred, err := e.sessions.Credential()
	if err != nil {
		return transport.FeedPage{}, err
	}
	page, err := e.api.FetchFeed(ctx, cred, cursor)
	if errors.Is(err, transport.ErrSessionExpired) {
		if refreshErr := e.sessions.HandleUnauthorized(ctx); refreshErr != nil {
			e.logger.Warn("session refresh after 401 failed", slog.Any("error", refreshErr))
		}
		return transport.FeedPage{}, err
	}
	return page, err
}

// flushLocked merges completed pages strictly in request order. Results
// from a previous cache generation are dropped; their sequence numbers
// still advance so later pages are never blocked.
func (e *Engine) flushLocked() {
	for {
		res, ok := e.done[e.mergeSeq]
		if !ok {
			return
		}
		delete(e.done, e.mergeSeq)
		e.mergeSeq++
		if res.gen == e.cache.Generation() && len(res.posts) > 0 {
			e.cache.Upsert(res.posts)
		}
	}
}

// ToggleLike flips the viewer's like on the post, applies the optimistic
// delta synchronously, and issues the network call asynchronously. Rapid
// repeated toggles coalesce: the pending intent is collapsed so the server
// sees at most one net request, and a net-zero flip sends nothing. Rejected
// or failed mutations roll back exactly the applied delta, silently.
func (e *Engine) ToggleLike(ctx context.Context, postID string) error {
	post, ok := e.cache.Get(postID)
	if !ok {
		return ErrUnknownPost
	}
	e.mu.Lock()
	if st := e.likes[postID]; st != nil {
		st.desired = !st.desired
		m := likeMutation(postID, st.desired, e.now())
		e.cache.mutate(postID, func(p Post) Post { return applyOptimistic(p, m) })
		e.mu.Unlock()
		return nil
	}
	st := &likeState{
		serverLiked: post.ViewerHasLiked,
		desired:     !post.ViewerHasLiked,
		gen:         e.cache.Generation(),
	}
	st.mutation = likeMutation(postID, st.desired, e.now())
	e.likes[postID] = st
	e.cache.mutate(postID, func(p Post) Post { return applyOptimistic(p, st.mutation) })
	e.mu.Unlock()

	go e.driveLike(context.WithoutCancel(ctx), postID)
	return nil
}

// driveLike sends like/unlike requests until the server-confirmed state
// matches the user's latest intent. It holds no lock while a request is in
// flight, and drops results that completed after a cache reset.
func (e *Engine) driveLike(ctx context.Context, postID string) {
	for {
		e.mu.Lock()
		st := e.likes[postID]
		if st == nil {
			e.mu.Unlock()
			return
		}
		if st.desired == st.serverLiked {
			// Net-zero toggle: converged without a request.
			delete(e.likes, postID)
			e.mu.Unlock()
			return
		}
		target := st.desired
		gen := st.gen
		m := likeMutation(postID, target, e.now())
		e.mu.Unlock()

		res, err := e.sendLike(ctx, postID, target)

		e.mu.Lock()
		st = e.likes[postID]
		if st == nil || gen != e.cache.Generation() {
			delete(e.likes, postID)
			e.mu.Unlock()
			return
		}
		if err != nil {
			server := st.serverLiked
			net := netDelta(server, st.desired)
			e.cache.mutate(postID, func(p Post) Post {
				p.LikeCount -= net
				p.ViewerHasLiked = server
				return p
			})
			delete(e.likes, postID)
			e.mu.Unlock()
			e.logger.Debug("like mutation rolled back", slog.String("post_id", postID), slog.Any("error", err))
			telemetry.RecordMutation(ctx, telemetry.MutationData{Kind: string(m.Kind), PostID: postID, Error: err})
			if errors.Is(err, transport.ErrSessionExpired) {
				_ = e.sessions.HandleUnauthorized(ctx)
			}
			return
		}
		st.serverLiked = target
		converged := st.desired == st.serverLiked
		outcome := Outcome{Accepted: true}
		if converged {
			count := res.LikeCount
			outcome.ServerLikeCount = &count
			delete(e.likes, postID)
		}
		e.cache.mutate(postID, func(p Post) Post { return reconcile(p, m, outcome, target) })
		e.mu.Unlock()
		telemetry.RecordMutation(ctx, telemetry.MutationData{Kind: string(m.Kind), PostID: postID})
		if converged {
			return
		}
		// Intent diverged while the request was in flight; one net
		// follow-up brings the server to the latest desired state.
	}
}

func (e *Engine) sendLike(ctx context.Context, postID string, target bool) (transport.LikeResult, error) {
	cred, err := e.sessions.Credential()
	if err != nil {
		return transport.LikeResult{}, err
	}
	if target {
		return e.api.Like(ctx, cred, postID)
	}
	return e.api.Unlike(ctx, cred, postID)
}

// CommentAdded applies an optimistic comment-count increment and returns
// the pending mutation id. Repeated calls before resolution coalesce into
// one pending mutation with an accumulated delta.
func (e *Engine) CommentAdded(postID string) (string, error) {
	if _, ok := e.cache.Get(postID); !ok {
		return "", ErrUnknownPost
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	step := Mutation{PostID: postID, Kind: KindCommentDelta, Delta: 1}
	if st := e.comments[postID]; st != nil {
		st.mutation.Delta++
		e.cache.mutate(postID, func(p Post) Post { return applyOptimistic(p, step) })
		return st.mutation.ID, nil
	}
	m := newMutation(postID, KindCommentDelta, 1, e.now())
	e.comments[postID] = &commentState{mutation: m, gen: e.cache.Generation()}
	e.cache.mutate(postID, func(p Post) Post { return applyOptimistic(p, step) })
	return m.ID, nil
}

// ResolveComment settles a pending comment mutation once the caller's
// comment request completed. Acceptance keeps the optimistic count and
// bumps the revision; rejection reverses the accumulated delta. Unknown or
// stale ids are ignored.
func (e *Engine) ResolveComment(mutationID string, accepted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for postID, st := range e.comments {
		if st.mutation.ID != mutationID {
			continue
		}
		delete(e.comments, postID)
		if st.gen != e.cache.Generation() {
			return
		}
		outcome := Outcome{Accepted: accepted}
		e.cache.mutate(postID, func(p Post) Post { return reconcile(p, st.mutation, outcome, false) })
		telemetry.RecordMutation(context.Background(), telemetry.MutationData{Kind: string(KindCommentDelta), PostID: postID})
		return
	}
}

// PendingMutations reports how many optimistic mutations are unresolved.
func (e *Engine) PendingMutations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.likes) + len(e.comments)
}

// Reset discards the cache and the pending-mutation set. In-flight network
// results observe the generation bump and are dropped when they land.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Reset()
	e.likes = make(map[string]*likeState)
	e.comments = make(map[string]*commentState)
}

func likeMutation(postID string, liked bool, now time.Time) Mutation {
	if liked {
		return newMutation(postID, KindLike, 1, now)
	}
	return newMutation(postID, KindUnlike, -1, now)
}

func netDelta(serverLiked, desired bool) int {
	switch {
	case desired && !serverLiked:
		return 1
	case !desired && serverLiked:
		return -1
	default:
		return 0
	}
}
