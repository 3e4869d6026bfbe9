package feed

import (
	"time"

	"github.com/architechdev/feedsync-go/pkg/transport"
)

// Post is a feed entry as the client sees it. Revision is a monotonic
// counter bumped on every accepted mutation; it resolves conflicts between
// out-of-order updates.
type Post struct {
	ID             string
	AuthorID       string
	Content        string
	MediaRef       string
	CreatedAt      time.Time
	LikeCount      int
	CommentCount   int
	ViewerHasLiked bool
	Revision       int64
}

func fromWire(w transport.WirePost) Post {
	return Post{
		ID:             w.ID,
		AuthorID:       w.AuthorID,
		Content:        w.Content,
		MediaRef:       w.MediaRef,
		CreatedAt:      w.CreatedAt.UTC(),
		LikeCount:      w.LikeCount,
		CommentCount:   w.CommentCount,
		ViewerHasLiked: w.ViewerHasLiked,
		Revision:       w.Revision,
	}
}

func fromWirePosts(ws []transport.WirePost) []Post {
	if len(ws) == 0 {
		return nil
	}
	posts := make([]Post, len(ws))
	for i, w := range ws {
		posts[i] = fromWire(w)
	}
	return posts
}
