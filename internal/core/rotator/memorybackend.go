package rotator

import (
	"sync"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

// MemoryBackend is an in-process Backend used in tests; the production
// backend is the MongoDB adapter in internal/store.
type MemoryBackend struct {
	mu        sync.Mutex
	families  map[string]*oidctypes.TokenFamily
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{families: make(map[string]*oidctypes.TokenFamily)}
}

func key(clientID, userID string) string { return clientID + "|" + userID }

func (m *MemoryBackend) Get(clientID, userID string) (*oidctypes.TokenFamily, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.families[key(clientID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryBackend) Save(f *oidctypes.TokenFamily) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.families[key(f.ClientID, f.UserID)] = &cp
	return nil
}
