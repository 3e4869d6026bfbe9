package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/architechdev/feedsync-go/pkg/telemetry"
	"github.com/architechdev/feedsync-go/pkg/token"
	"github.com/architechdev/feedsync-go/pkg/transport"
)

const defaultRefreshWindow = 2 * time.Minute

// Manager owns the single session aggregate for a running client. All state
// lives behind the mutex; readers get copies via Snapshot and never observe
// a half-applied transition. No lock is held across a network call.
type Manager struct {
	api           transport.API
	store         token.Store
	logger        *slog.Logger
	now           func() time.Time
	refreshWindow time.Duration

	mu              sync.Mutex
	status          Status
	userID          string
	cred            token.Credential
	lastErr         error
	loginInflight   bool
	refreshInflight bool
	epoch           uint64
	resetHooks      []func()
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock injects the time source, mainly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRefreshWindow sets how close to expiry a credential is considered
// stale enough to renew during restore.
func WithRefreshWindow(window time.Duration) ManagerOption {
	return func(m *Manager) {
		if window > 0 {
			m.refreshWindow = window
		}
	}
}

// NewManager builds a session manager. The manager starts in
// StatusAuthenticating; callers invoke Restore once at startup to settle it.
func NewManager(api transport.API, store token.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		api:           api,
		store:         store,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:           time.Now,
		refreshWindow: defaultRefreshWindow,
		status:        StatusAuthenticating,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns an immutable copy of the session state. Never blocks on
// network activity.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:    m.status,
		UserID:    m.userID,
		LastError: m.lastErr,
	}
}

// Credential hands the current credential to trusted collaborators such as
// the feed engine. Presentation code must not call this.
func (m *Manager) Credential() (token.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusAuthenticated && m.status != StatusRefreshing {
		return token.Credential{}, ErrNotAuthenticated
	}
	return m.cred, nil
}

// OnReset registers a hook fired whenever per-user state must be discarded:
// logout and any successful login. Hooks run synchronously so stale feed
// data can never be read after the session changed hands.
func (m *Manager) OnReset(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetHooks = append(m.resetHooks, fn)
}

// Restore attempts silent session restoration from the token store. Until it
// returns, Snapshot reports StatusAuthenticating. A missing or invalid
// stored credential settles in StatusAnonymous without surfacing an error.
// A logout issued while the restore is in flight wins; the stale outcome is
// discarded and nothing is re-persisted.
func (m *Manager) Restore(ctx context.Context) error {
	start := m.now()
	m.mu.Lock()
	m.status = StatusAuthenticating
	m.lastErr = nil
	epoch := m.epoch
	m.mu.Unlock()

	cred, found, err := m.store.Load()
	if err != nil {
		if m.setState(epoch, StatusError, "", token.Credential{}, err) {
			m.logger.Error("session restore failed", slog.Any("error", err))
		}
		return fmt.Errorf("session: restore: %w", err)
	}
	if !found {
		m.setState(epoch, StatusAnonymous, "", token.Credential{}, nil)
		return nil
	}
	if !cred.ExpiringWithin(m.now(), m.refreshWindow) {
		if !m.setState(epoch, StatusAuthenticated, cred.UserID, cred, nil) {
			return nil
		}
		m.logger.Info("session restored", slog.String("user_id", cred.UserID))
		telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.restore", UserID: cred.UserID, Duration: m.now().Sub(start)})
		return nil
	}

	// Stored credential is expired or about to be; renew before trusting it.
	res, err := m.api.Refresh(ctx, cred)
	if err != nil {
		if m.setState(epoch, StatusAnonymous, "", token.Credential{}, nil) {
			_ = m.store.Clear()
			m.logger.Info("stored credential not renewable", slog.Any("error", err))
		}
		return nil
	}
	if !m.setState(epoch, StatusAuthenticated, res.Credential.UserID, res.Credential, nil) {
		return nil
	}
	if saveErr := m.store.Save(res.Credential); saveErr != nil {
		m.logger.Warn("persist refreshed credential", slog.Any("error", saveErr))
	}
	telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.restore", UserID: res.Credential.UserID, Duration: m.now().Sub(start)})
	return nil
}

// Login authenticates with the given identifier and secret. At most one
// attempt may be in flight; a concurrent call fails fast with
// ErrAlreadyInProgress. On success the credential is persisted and reset
// hooks fire so per-user caches start clean.
func (m *Manager) Login(ctx context.Context, identifier, secret string) error {
	start := m.now()
	m.mu.Lock()
	if m.loginInflight {
		m.mu.Unlock()
		return ErrAlreadyInProgress
	}
	m.loginInflight = true
	m.status = StatusAuthenticating
	m.userID = ""
	m.lastErr = nil
	epoch := m.epoch
	m.mu.Unlock()

	res, err := m.api.Login(ctx, identifier, secret)

	m.mu.Lock()
	m.loginInflight = false
	if m.epoch != epoch {
		// A logout happened while the attempt was in flight; its outcome
		// no longer describes this session.
		m.mu.Unlock()
		return err
	}
	if err != nil {
		m.status = StatusAnonymous
		m.userID = ""
		m.cred = token.Credential{}
		m.lastErr = err
		m.mu.Unlock()
		telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.login", Duration: m.now().Sub(start), Error: err})
		return err
	}
	m.status = StatusAuthenticated
	m.userID = res.Credential.UserID
	m.cred = res.Credential
	m.lastErr = nil
	hooks := append(([]func())(nil), m.resetHooks...)
	m.mu.Unlock()

	if saveErr := m.store.Save(res.Credential); saveErr != nil {
		m.logger.Warn("persist credential", slog.Any("error", saveErr))
	}
	for _, fn := range hooks {
		fn()
	}
	m.logger.Info("login succeeded", slog.String("user_id", res.Credential.UserID))
	telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.login", UserID: res.Credential.UserID, Duration: m.now().Sub(start)})
	return nil
}

// Register creates an account. Required profile fields are validated before
// any network call. Registration does not authenticate; callers log in
// explicitly afterward.
func (m *Manager) Register(ctx context.Context, profile transport.Profile) error {
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()

	if err := validateProfile(profile); err != nil {
		m.recordFailure(err)
		return err
	}
	res, err := m.api.Register(ctx, profile)
	if err != nil {
		m.recordFailure(err)
		telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.register", Error: err})
		return err
	}
	m.logger.Info("registration succeeded", slog.String("user_id", res.UserID))
	telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.register", UserID: res.UserID})
	return nil
}

// Logout clears the session and the persisted credential, then fires reset
// hooks. Idempotent: logging out of an anonymous session is a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	wasAnonymous := m.status == StatusAnonymous
	m.epoch++
	m.status = StatusAnonymous
	m.userID = ""
	m.cred = token.Credential{}
	m.lastErr = nil
	hooks := append(([]func())(nil), m.resetHooks...)
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("session: clear token store: %w", err)
	}
	for _, fn := range hooks {
		fn()
	}
	if !wasAnonymous {
		m.logger.Info("logged out")
		telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.logout"})
	}
	return nil
}

// Refresh renews the credential. The session stays readable as
// StatusRefreshing while the renewal is in flight; failure lands in
// StatusExpired.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.refreshInflight {
		m.mu.Unlock()
		return ErrAlreadyInProgress
	}
	if m.status != StatusAuthenticated && m.status != StatusRefreshing {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.refreshInflight = true
	m.status = StatusRefreshing
	cred := m.cred
	epoch := m.epoch
	m.mu.Unlock()

	res, err := m.api.Refresh(ctx, cred)

	m.mu.Lock()
	m.refreshInflight = false
	if m.epoch != epoch {
		m.mu.Unlock()
		return err
	}
	if err != nil {
		m.status = StatusExpired
		m.userID = ""
		m.cred = token.Credential{}
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Warn("refresh failed", slog.Any("error", err))
		telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.refresh", Error: err})
		return err
	}
	m.status = StatusAuthenticated
	m.userID = res.Credential.UserID
	m.cred = res.Credential
	m.lastErr = nil
	m.mu.Unlock()

	if saveErr := m.store.Save(res.Credential); saveErr != nil {
		m.logger.Warn("persist refreshed credential", slog.Any("error", saveErr))
	}
	telemetry.RecordOp(ctx, telemetry.OpData{Op: "auth.refresh", UserID: res.Credential.UserID})
	return nil
}

// HandleUnauthorized is the escalation path for collaborators whose request
// bounced with an expired credential. It triggers a single refresh attempt;
// the caller re-invokes its own operation after the session stabilizes.
func (m *Manager) HandleUnauthorized(ctx context.Context) error {
	err := m.Refresh(ctx)
	if errors.Is(err, ErrAlreadyInProgress) {
		return nil
	}
	return err
}

// setState applies the transition only when no logout happened since epoch
// was captured. Reports whether the transition was applied.
func (m *Manager) setState(epoch uint64, status Status, userID string, cred token.Credential, lastErr error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false
	}
	m.status = status
	m.userID = userID
	m.cred = cred
	m.lastErr = lastErr
	return true
}

func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func validateProfile(p transport.Profile) error {
	fields := map[string]string{}
	required := map[string]string{
		"first_name":    p.FirstName,
		"last_name":     p.LastName,
		"email":         p.Email,
		"password":      p.Password,
		"date_of_birth": p.DateOfBirth,
		"gender":        p.Gender,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			fields[name] = "required"
		}
	}
	if len(fields) > 0 {
		return transport.NewValidationError(fields)
	}
	return nil
}
