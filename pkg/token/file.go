package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const credentialFile = "credential.json"

// FileStore keeps the credential in a JSON file under dir. Saves are atomic
// (write to a temp file, then rename) so a crash never leaves a torn file.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	path   string
	closed bool
}

// NewFileStore opens (or creates) a credential store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("token: dir is empty")
	}
	if err := os.MkdirAll(trimmed, 0o700); err != nil {
		return nil, fmt.Errorf("token: mkdir %s: %w", trimmed, err)
	}
	return &FileStore{
		dir:  trimmed,
		path: filepath.Join(trimmed, credentialFile),
	}, nil
}

// Load reads the credential file. A missing file is not an error.
func (s *FileStore) Load() (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Credential{}, false, ErrStoreClosed
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("token: read credential: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}
	if cred.Zero() {
		return Credential{}, false, nil
	}
	cred.ExpiresAt = cred.ExpiresAt.UTC()
	return cred, true, nil
}

// Save persists cred atomically with owner-only permissions.
func (s *FileStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if cred.Zero() {
		return errors.New("token: refusing to save empty credential")
	}
	clone := cred
	clone.ExpiresAt = cred.ExpiresAt.UTC()
	data, err := json.Marshal(clone)
	if err != nil {
		return fmt.Errorf("token: encode credential: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("token: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("token: write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("token: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("token: chmod: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("token: rename: %w", err)
	}
	return nil
}

// Clear removes the credential file. Idempotent.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("token: remove credential: %w", err)
	}
	return nil
}

// Close marks the store closed. Subsequent calls fail with ErrStoreClosed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Watch reports credential changes made outside this process, such as a
// second client on the same machine logging out or rotating the token. Each
// change is delivered as a fresh Load result. The channel closes when ctx is
// done or the watcher fails.
func (s *FileStore) Watch(ctx context.Context) (<-chan Credential, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("token: watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("token: watch %s: %w", s.dir, err)
	}
	out := make(chan Credential, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != credentialFile {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				cred, _, err := s.Load()
				if err != nil {
					continue
				}
				select {
				case out <- cred:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

var _ Store = (*FileStore)(nil)
