package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/architechdev/feedsync-go/pkg/token"
	"github.com/architechdev/feedsync-go/pkg/transport"
)

type stubAPI struct {
	loginFn    func(ctx context.Context, identifier, secret string) (transport.AuthResult, error)
	registerFn func(ctx context.Context, profile transport.Profile) (transport.RegisterResult, error)
	refreshFn  func(ctx context.Context, cred token.Credential) (transport.AuthResult, error)
}

func (s *stubAPI) Login(ctx context.Context, identifier, secret string) (transport.AuthResult, error) {
	if s.loginFn == nil {
		return transport.AuthResult{}, errors.New("unexpected login")
	}
	return s.loginFn(ctx, identifier, secret)
}

func (s *stubAPI) Register(ctx context.Context, profile transport.Profile) (transport.RegisterResult, error) {
	if s.registerFn == nil {
		return transport.RegisterResult{}, errors.New("unexpected register")
	}
	return s.registerFn(ctx, profile)
}

func (s *stubAPI) Refresh(ctx context.Context, cred token.Credential) (transport.AuthResult, error) {
	if s.refreshFn == nil {
		return transport.AuthResult{}, errors.New("unexpected refresh")
	}
	return s.refreshFn(ctx, cred)
}

func (s *stubAPI) FetchFeed(context.Context, token.Credential, string) (transport.FeedPage, error) {
	return transport.FeedPage{}, errors.New("unexpected fetch")
}

func (s *stubAPI) Like(context.Context, token.Credential, string) (transport.LikeResult, error) {
	return transport.LikeResult{}, errors.New("unexpected like")
}

func (s *stubAPI) Unlike(context.Context, token.Credential, string) (transport.LikeResult, error) {
	return transport.LikeResult{}, errors.New("unexpected unlike")
}

func validCredential(now time.Time) token.Credential {
	return token.Credential{
		Token:     "feed-session-abc123",
		UserID:    "user-1",
		ExpiresAt: now.Add(time.Hour),
	}
}

func fullProfile() transport.Profile {
	return transport.Profile{
		FirstName:   "Alice",
		LastName:    "Johnson",
		Email:       "a@x.com",
		Password:    "pw",
		DateOfBirth: "1990-04-02",
		Gender:      "female",
	}
}

// checkInvariant asserts userID is set iff the status carries a session.
func checkInvariant(t *testing.T, snap Snapshot) {
	t.Helper()
	hasUser := snap.UserID != ""
	if snap.Authenticated() != hasUser {
		t.Fatalf("invariant violated: status=%s userID=%q", snap.Status, snap.UserID)
	}
}

func TestLoginSuccess(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	api := &stubAPI{
		loginFn: func(_ context.Context, identifier, secret string) (transport.AuthResult, error) {
			if identifier != "a@x.com" || secret != "pw" {
				t.Fatalf("unexpected login args %q %q", identifier, secret)
			}
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
	}
	store := token.NewMemoryStore()
	m := NewManager(api, store, WithClock(func() time.Time { return now }))

	if err := m.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAuthenticated || snap.UserID != "user-1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, found, _ := store.Load(); !found {
		t.Fatal("credential not persisted")
	}
	if _, err := m.Credential(); err != nil {
		t.Fatalf("credential unavailable after login: %v", err)
	}
}

func TestLoginRejectedLeavesAnonymousWithLastError(t *testing.T) {
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			return transport.AuthResult{}, transport.ErrInvalidCredentials
		},
	}
	m := NewManager(api, token.NewMemoryStore())

	err := m.Login(context.Background(), "a@x.com", "pw")
	if !errors.Is(err, transport.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAnonymous {
		t.Fatalf("status = %s, want anonymous", snap.Status)
	}
	if !errors.Is(snap.LastError, transport.ErrInvalidCredentials) {
		t.Fatalf("lastError = %v", snap.LastError)
	}
}

func TestLoginClearsPreviousError(t *testing.T) {
	fail := true
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			if fail {
				return transport.AuthResult{}, transport.ErrInvalidCredentials
			}
			return transport.AuthResult{Credential: validCredential(time.Now())}, nil
		},
	}
	m := NewManager(api, token.NewMemoryStore())
	_ = m.Login(context.Background(), "a@x.com", "bad")
	fail = false
	if err := m.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if snap := m.Snapshot(); snap.LastError != nil {
		t.Fatalf("lastError not cleared: %v", snap.LastError)
	}
}

func TestLoginSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			close(started)
			<-release
			return transport.AuthResult{Credential: validCredential(time.Now())}, nil
		},
	}
	m := NewManager(api, token.NewMemoryStore())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Login(context.Background(), "a@x.com", "pw")
	}()
	<-started

	if err := m.Login(context.Background(), "a@x.com", "pw"); !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("concurrent login err = %v, want ErrAlreadyInProgress", err)
	}
	if snap := m.Snapshot(); snap.Status != StatusAuthenticating {
		t.Fatalf("status during login = %s", snap.Status)
	}
	close(release)
	wg.Wait()
	checkInvariant(t, m.Snapshot())
}

func TestLogoutIdempotentAndFiresResetHooks(t *testing.T) {
	now := time.Now()
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
	}
	store := token.NewMemoryStore()
	m := NewManager(api, store)
	resets := 0
	m.OnReset(func() { resets++ })

	if err := m.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	resets = 0 // successful login also fires the hook

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if resets != 1 {
		t.Fatalf("reset hooks fired %d times, want 1", resets)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAnonymous {
		t.Fatalf("status = %s", snap.Status)
	}
	if _, found, _ := store.Load(); found {
		t.Fatal("credential survived logout")
	}
	if _, err := m.Credential(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("credential after logout = %v", err)
	}

	// Logging out again is a no-op, but hooks still guarantee a clean cache.
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestLogoutDuringInflightLoginWins(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			close(started)
			<-release
			return transport.AuthResult{Credential: validCredential(time.Now())}, nil
		},
	}
	m := NewManager(api, token.NewMemoryStore())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Login(context.Background(), "a@x.com", "pw")
	}()
	<-started
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(release)
	<-done

	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAnonymous {
		t.Fatalf("stale login overwrote logout: %+v", snap)
	}
}

func TestLogoutDuringInflightRestoreWins(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	store := token.NewMemoryStore()
	stale := token.Credential{Token: "old", UserID: "user-1", ExpiresAt: now.Add(30 * time.Second)}
	if err := store.Save(stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	api := &stubAPI{
		refreshFn: func(context.Context, token.Credential) (transport.AuthResult, error) {
			close(started)
			<-release
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
	}
	m := NewManager(api, store, WithClock(func() time.Time { return now }))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Restore(context.Background())
	}()
	<-started
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(release)
	<-done

	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAnonymous {
		t.Fatalf("stale restore overwrote logout: %+v", snap)
	}
	if _, found, _ := store.Load(); found {
		t.Fatal("restore re-persisted a credential after logout cleared it")
	}
	if _, err := m.Credential(); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("credential after logout = %v", err)
	}
}

func TestRestoreWithValidCredential(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	store := token.NewMemoryStore()
	if err := store.Save(validCredential(now)); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	m := NewManager(&stubAPI{}, store, WithClock(func() time.Time { return now }))

	if snap := m.Snapshot(); snap.Status != StatusAuthenticating {
		t.Fatalf("pre-restore status = %s, want authenticating", snap.Status)
	}
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAuthenticated || snap.UserID != "user-1" {
		t.Fatalf("restore snapshot %+v", snap)
	}
}

func TestRestoreWithoutCredential(t *testing.T) {
	m := NewManager(&stubAPI{}, token.NewMemoryStore())
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAnonymous || snap.LastError != nil {
		t.Fatalf("restore snapshot %+v", snap)
	}
}

func TestRestoreRenewsStaleCredential(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	stale := token.Credential{Token: "old", UserID: "user-1", ExpiresAt: now.Add(30 * time.Second)}
	store := token.NewMemoryStore()
	if err := store.Save(stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	api := &stubAPI{
		refreshFn: func(_ context.Context, cred token.Credential) (transport.AuthResult, error) {
			if cred.Token != "old" {
				t.Fatalf("refresh got %q", cred.Token)
			}
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
	}
	m := NewManager(api, store, WithClock(func() time.Time { return now }))
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap := m.Snapshot()
	if snap.Status != StatusAuthenticated {
		t.Fatalf("status = %s", snap.Status)
	}
	stored, _, _ := store.Load()
	if stored.Token != "feed-session-abc123" {
		t.Fatalf("renewed credential not persisted: %+v", stored)
	}
}

func TestRestoreUnrenewableCredentialSettlesAnonymous(t *testing.T) {
	now := time.Now()
	store := token.NewMemoryStore()
	_ = store.Save(token.Credential{Token: "old", UserID: "user-1", ExpiresAt: now.Add(-time.Hour)})
	api := &stubAPI{
		refreshFn: func(context.Context, token.Credential) (transport.AuthResult, error) {
			return transport.AuthResult{}, transport.ErrSessionExpired
		},
	}
	m := NewManager(api, store)
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAnonymous {
		t.Fatalf("status = %s", snap.Status)
	}
	if _, found, _ := store.Load(); found {
		t.Fatal("dead credential not cleared")
	}
}

func TestRestoreStoreFailure(t *testing.T) {
	m := NewManager(&stubAPI{}, failingStore{})
	if err := m.Restore(context.Background()); err == nil {
		t.Fatal("expected restore error")
	}
	snap := m.Snapshot()
	if snap.Status != StatusError || snap.LastError == nil {
		t.Fatalf("snapshot %+v", snap)
	}
}

func TestRefreshFailureLandsExpired(t *testing.T) {
	now := time.Now()
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
		refreshFn: func(context.Context, token.Credential) (transport.AuthResult, error) {
			return transport.AuthResult{}, transport.ErrSessionExpired
		},
	}
	m := NewManager(api, token.NewMemoryStore())
	if err := m.Login(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := m.Refresh(context.Background()); !errors.Is(err, transport.ErrSessionExpired) {
		t.Fatalf("refresh err = %v", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", snap.Status)
	}
}

func TestRefreshSuccessKeepsSession(t *testing.T) {
	now := time.Now()
	renewed := validCredential(now)
	renewed.Token = "feed-session-renewed"
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
		refreshFn: func(context.Context, token.Credential) (transport.AuthResult, error) {
			return transport.AuthResult{Credential: renewed}, nil
		},
	}
	store := token.NewMemoryStore()
	m := NewManager(api, store)
	_ = m.Login(context.Background(), "a@x.com", "pw")
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAuthenticated {
		t.Fatalf("status = %s", snap.Status)
	}
	cred, err := m.Credential()
	if err != nil || cred.Token != "feed-session-renewed" {
		t.Fatalf("credential = %+v err=%v", cred, err)
	}
}

func TestRefreshRequiresSession(t *testing.T) {
	m := NewManager(&stubAPI{}, token.NewMemoryStore())
	_ = m.Restore(context.Background())
	if err := m.Refresh(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("refresh err = %v", err)
	}
}

func TestRegisterValidatesRequiredFields(t *testing.T) {
	called := false
	api := &stubAPI{
		registerFn: func(context.Context, transport.Profile) (transport.RegisterResult, error) {
			called = true
			return transport.RegisterResult{UserID: "user-2"}, nil
		},
	}
	m := NewManager(api, token.NewMemoryStore())

	profile := fullProfile()
	profile.Email = "  "
	profile.Gender = ""
	err := m.Register(context.Background(), profile)
	var ve *transport.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, ok := ve.Fields["email"]; !ok {
		t.Fatalf("missing email in %v", ve.Fields)
	}
	if _, ok := ve.Fields["gender"]; !ok {
		t.Fatalf("missing gender in %v", ve.Fields)
	}
	if called {
		t.Fatal("network call issued despite invalid profile")
	}
}

func TestRegisterDoesNotAuthenticate(t *testing.T) {
	api := &stubAPI{
		registerFn: func(context.Context, transport.Profile) (transport.RegisterResult, error) {
			return transport.RegisterResult{UserID: "user-2"}, nil
		},
	}
	m := NewManager(api, token.NewMemoryStore())
	_ = m.Restore(context.Background())
	if err := m.Register(context.Background(), fullProfile()); err != nil {
		t.Fatalf("register: %v", err)
	}
	snap := m.Snapshot()
	checkInvariant(t, snap)
	if snap.Status != StatusAnonymous {
		t.Fatalf("register must not authenticate, status = %s", snap.Status)
	}
}

func TestRegisterEmailTakenSurfacesLastError(t *testing.T) {
	api := &stubAPI{
		registerFn: func(context.Context, transport.Profile) (transport.RegisterResult, error) {
			return transport.RegisterResult{}, transport.ErrEmailTaken
		},
	}
	m := NewManager(api, token.NewMemoryStore())
	if err := m.Register(context.Background(), fullProfile()); !errors.Is(err, transport.ErrEmailTaken) {
		t.Fatalf("err = %v", err)
	}
	if snap := m.Snapshot(); !errors.Is(snap.LastError, transport.ErrEmailTaken) {
		t.Fatalf("lastError = %v", snap.LastError)
	}
}

func TestHandleUnauthorizedCoalesces(t *testing.T) {
	now := time.Now()
	var refreshes int
	started := make(chan struct{})
	release := make(chan struct{})
	api := &stubAPI{
		loginFn: func(context.Context, string, string) (transport.AuthResult, error) {
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
		refreshFn: func(context.Context, token.Credential) (transport.AuthResult, error) {
			refreshes++
			close(started)
			<-release
			return transport.AuthResult{Credential: validCredential(now)}, nil
		},
	}
	m := NewManager(api, token.NewMemoryStore())
	_ = m.Login(context.Background(), "a@x.com", "pw")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.HandleUnauthorized(context.Background())
	}()
	<-started
	// A second escalation while a refresh is running is a no-op.
	if err := m.HandleUnauthorized(context.Background()); err != nil {
		t.Fatalf("second escalation: %v", err)
	}
	close(release)
	<-done
	if refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes)
	}
}

type failingStore struct{}

func (failingStore) Load() (token.Credential, bool, error) {
	return token.Credential{}, false, errors.New("disk on fire")
}
func (failingStore) Save(token.Credential) error { return errors.New("disk on fire") }
func (failingStore) Clear() error                { return errors.New("disk on fire") }
