package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/architechdev/feedsync-go/pkg/token"
)

const defaultTimeout = 15 * time.Second

// Client implements API over HTTP/JSON.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout bounds every request. Exceeding it surfaces as
// ErrNetworkUnavailable; there is no implicit retry.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger attaches a structured logger to the request middleware.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient builds an HTTP transport client for the given base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("transport: base url is empty")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	inner, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		inner = &http.Transport{}
	} else {
		inner = inner.Clone()
	}
	if err := http2.ConfigureTransport(inner); err != nil {
		return nil, fmt.Errorf("transport: configure http2: %w", err)
	}
	c := &Client{
		baseURL: trimmed,
		http: &http.Client{
			Transport: inner,
			Timeout:   defaultTimeout,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Transport = Chain(c.http.Transport, Logging(c.logger), Tracing())
	return c, nil
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type authResponse struct {
	Token     string    `json:"credential"`
	ExpiresAt time.Time `json:"expiry"`
	UserID    string    `json:"user_id"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
}

type refreshRequest struct {
	Token string `json:"credential"`
}

type fieldErrors struct {
	Fields map[string]string `json:"fields"`
}

// Login exchanges an identifier/secret pair for a credential.
func (c *Client) Login(ctx context.Context, identifier, secret string) (AuthResult, error) {
	var out authResponse
	status, err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Identifier: identifier, Secret: secret}, "", &out)
	if err != nil {
		return AuthResult{}, err
	}
	switch status {
	case http.StatusOK:
		return AuthResult{Credential: token.Credential{
			Token:     out.Token,
			UserID:    out.UserID,
			ExpiresAt: out.ExpiresAt.UTC(),
		}}, nil
	case http.StatusUnauthorized:
		return AuthResult{}, ErrInvalidCredentials
	default:
		return AuthResult{}, unexpectedStatus("login", status)
	}
}

// Register creates an account. A 422 response carries per-field reasons.
func (c *Client) Register(ctx context.Context, profile Profile) (RegisterResult, error) {
	body, status, err := c.doRaw(ctx, http.MethodPost, "/auth/register", profile, "")
	if err != nil {
		return RegisterResult{}, err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		var out registerResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return RegisterResult{}, fmt.Errorf("transport: decode register response: %w", err)
		}
		return RegisterResult{UserID: out.UserID}, nil
	case http.StatusConflict:
		return RegisterResult{}, ErrEmailTaken
	case http.StatusUnprocessableEntity:
		var fe fieldErrors
		if err := json.Unmarshal(body, &fe); err != nil || len(fe.Fields) == 0 {
			return RegisterResult{}, NewValidationError(nil)
		}
		return RegisterResult{}, NewValidationError(fe.Fields)
	default:
		return RegisterResult{}, unexpectedStatus("register", status)
	}
}

// Refresh exchanges a nearly expired credential for a fresh one.
func (c *Client) Refresh(ctx context.Context, cred token.Credential) (AuthResult, error) {
	var out authResponse
	status, err := c.do(ctx, http.MethodPost, "/auth/refresh", refreshRequest{Token: cred.Token}, "", &out)
	if err != nil {
		return AuthResult{}, err
	}
	switch status {
	case http.StatusOK:
		refreshed := token.Credential{
			Token:     out.Token,
			UserID:    out.UserID,
			ExpiresAt: out.ExpiresAt.UTC(),
		}
		if refreshed.UserID == "" {
			refreshed.UserID = cred.UserID
		}
		return AuthResult{Credential: refreshed}, nil
	case http.StatusUnauthorized:
		return AuthResult{}, ErrSessionExpired
	default:
		return AuthResult{}, unexpectedStatus("refresh", status)
	}
}

// FetchFeed retrieves one page of the feed. An empty cursor requests the
// first page.
func (c *Client) FetchFeed(ctx context.Context, cred token.Credential, cursor string) (FeedPage, error) {
	path := "/feed"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var out FeedPage
	status, err := c.do(ctx, http.MethodGet, path, nil, cred.Token, &out)
	if err != nil {
		return FeedPage{}, err
	}
	switch status {
	case http.StatusOK:
		return out, nil
	case http.StatusUnauthorized:
		return FeedPage{}, ErrSessionExpired
	default:
		return FeedPage{}, unexpectedStatus("fetch feed", status)
	}
}

// Like records a like for the post and returns the authoritative counter.
func (c *Client) Like(ctx context.Context, cred token.Credential, postID string) (LikeResult, error) {
	return c.likeOp(ctx, http.MethodPost, cred, postID)
}

// Unlike removes a like for the post and returns the authoritative counter.
func (c *Client) Unlike(ctx context.Context, cred token.Credential, postID string) (LikeResult, error) {
	return c.likeOp(ctx, http.MethodDelete, cred, postID)
}

func (c *Client) likeOp(ctx context.Context, method string, cred token.Credential, postID string) (LikeResult, error) {
	if strings.TrimSpace(postID) == "" {
		return LikeResult{}, errors.New("transport: post id is empty")
	}
	var out LikeResult
	path := "/posts/" + url.PathEscape(postID) + "/like"
	status, err := c.do(ctx, method, path, nil, cred.Token, &out)
	if err != nil {
		return LikeResult{}, err
	}
	switch status {
	case http.StatusOK:
		return out, nil
	case http.StatusUnauthorized:
		return LikeResult{}, ErrSessionExpired
	case http.StatusConflict:
		return LikeResult{}, ErrConflict
	default:
		return LikeResult{}, unexpectedStatus("like", status)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any, bearer string, out any) (int, error) {
	body, status, err := c.doRaw(ctx, method, path, payload, bearer)
	if err != nil {
		return 0, err
	}
	if status == http.StatusOK || status == http.StatusCreated {
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return 0, fmt.Errorf("transport: decode response: %w", err)
			}
		}
	}
	return status, nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, payload any, bearer string) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("transport: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrNetworkUnavailable, ctx.Err())
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", ErrNetworkUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

func unexpectedStatus(op string, status int) error {
	if status >= 500 {
		return fmt.Errorf("%w: %s: server returned %d", ErrNetworkUnavailable, op, status)
	}
	return fmt.Errorf("transport: %s: unexpected status %d", op, status)
}

var _ API = (*Client)(nil)
