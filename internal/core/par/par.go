// Package par implements the PAR Store (C7): a short-lived, single-use
// mapping from a generated request_uri to the full authorization
// parameter bundle that was pushed.
package par

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nordauth/oidcore/internal/core/shard"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

// Backend is the durable half of the store.
type Backend interface {
	Put(req *oidctypes.PARRequest) error
	TakeAndDelete(requestURI string) (*oidctypes.PARRequest, error)
}

// Store is C7.
type Store struct {
	backend Backend
	mailbox *shard.Mailboxes
}

// New builds a Store.
func New(backend Backend, shardCount int) *Store {
	return &Store{backend: backend, mailbox: shard.New(shardCount)}
}

// Put stashes a parameter bundle and returns its request_uri per RFC
// 9126, shaped `urn:ietf:params:oauth:request_uri:<random>`.
func (s *Store) Put(clientID string, params map[string]string) (string, error) {
	uri := fmt.Sprintf("urn:ietf:params:oauth:request_uri:%s", uuid.NewString())
	req := &oidctypes.PARRequest{RequestURI: uri, ClientID: clientID, Params: params, CreatedAt: time.Now()}

	var err error
	s.mailbox.Submit(uri, func() {
		err = s.backend.Put(req)
	})
	if err != nil {
		return "", fmt.Errorf("par: put: %w", err)
	}
	return uri, nil
}

// Consume retrieves and deletes the bundle for requestURI; a second call
// for the same URI returns nil, nil.
func (s *Store) Consume(requestURI string) (*oidctypes.PARRequest, error) {
	var (
		req *oidctypes.PARRequest
		err error
	)
	s.mailbox.Submit(requestURI, func() {
		req, err = s.backend.TakeAndDelete(requestURI)
	})
	if err != nil {
		return nil, fmt.Errorf("par: consume: %w", err)
	}
	if req != nil && req.Expired(time.Now()) {
		return nil, nil
	}
	return req, nil
}

// MemoryBackend is an in-process Backend used in tests and single-
// instance deployments.
type MemoryBackend struct {
	mu       sync.Mutex
	requests map[string]*oidctypes.PARRequest
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{requests: make(map[string]*oidctypes.PARRequest)}
}

func (m *MemoryBackend) Put(req *oidctypes.PARRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.RequestURI] = &cp
	return nil
}

func (m *MemoryBackend) TakeAndDelete(requestURI string) (*oidctypes.PARRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestURI]
	if !ok {
		return nil, nil
	}
	delete(m.requests, requestURI)
	return req, nil
}
