package transport

import (
	"context"
	"time"

	"github.com/architechdev/feedsync-go/pkg/token"
)

// Profile carries the registration form fields. All fields are required.
type Profile struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
}

// AuthResult is the successful outcome of login or refresh.
type AuthResult struct {
	Credential token.Credential
}

// RegisterResult is the successful outcome of registration. The server does
// not return a credential; callers log in explicitly afterward.
type RegisterResult struct {
	UserID string
}

// WirePost is a post as returned by the feed endpoint.
type WirePost struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	Content        string    `json:"content"`
	MediaRef       string    `json:"media_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LikeCount      int       `json:"like_count"`
	CommentCount   int       `json:"comment_count"`
	ViewerHasLiked bool      `json:"viewer_has_liked"`
	Revision       int64     `json:"revision"`
}

// FeedPage is one page of the cursor-paginated feed. An empty NextCursor
// means no more data.
type FeedPage struct {
	Posts      []WirePost `json:"posts"`
	NextCursor string     `json:"next_cursor"`
}

// LikeResult carries the authoritative counter after a like or unlike.
type LikeResult struct {
	LikeCount int `json:"like_count"`
}

// API is the wire contract the engine consumes. Implementations must honor
// context cancellation and return the package error kinds for expected
// failures.
type API interface {
	Login(ctx context.Context, identifier, secret string) (AuthResult, error)
	Register(ctx context.Context, profile Profile) (RegisterResult, error)
	Refresh(ctx context.Context, cred token.Credential) (AuthResult, error)
	FetchFeed(ctx context.Context, cred token.Credential, cursor string) (FeedPage, error)
	Like(ctx context.Context, cred token.Credential, postID string) (LikeResult, error)
	Unlike(ctx context.Context, cred token.Credential, postID string) (LikeResult, error)
}
