package token

import "sync"

// MemoryStore keeps the credential in memory. Useful for tests and for
// clients that should not persist sessions across restarts.
type MemoryStore struct {
	mu   sync.Mutex
	cred Credential
	set  bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (Credential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return Credential{}, false, nil
	}
	return m.cred, true, nil
}

func (m *MemoryStore) Save(cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = cred
	m.set = true
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = Credential{}
	m.set = false
	return nil
}

var _ Store = (*MemoryStore)(nil)
