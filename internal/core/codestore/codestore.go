// Package codestore implements the AuthorizationCodeStore (C9): one-shot
// authorization codes with atomic, linearizable consume-and-mark-used
// semantics and reuse detection.
package codestore

import (
	"fmt"
	"sync"
	"time"

	"github.com/nordauth/oidcore/internal/core/shard"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

// Backend is the durable half of the store; the default in-memory
// backend below is sufficient for a single process, with a Redis-backed
// Backend (internal/store) swapped in for multi-instance deployments,
// grounded on gourdiantoken's SETEX/SCAN Redis repository.
type Backend interface {
	Put(code *oidctypes.AuthorizationCode) error
	Get(code string) (*oidctypes.AuthorizationCode, error)
	MarkUsed(code string, issuedTokenJTI string) error
}

// ConsumeResult classifies the outcome of Consume.
type ConsumeResult int

const (
	NotFound ConsumeResult = iota
	Reused
	Fresh
)

// Store is C9, serialized per-code via a Mailboxes actor so put/consume
// pairs racing on the same code are linearized without a global lock.
type Store struct {
	backend  Backend
	mailbox  *shard.Mailboxes
	onReuse  func(record *oidctypes.AuthorizationCode)
}

// New builds a Store. onReuse, if non-nil, is invoked synchronously
// (before Consume returns) when reuse is detected, so the caller can
// revoke the issued token and its refresh family per spec §4.9 before
// any response is written.
func New(backend Backend, shardCount int, onReuse func(record *oidctypes.AuthorizationCode)) *Store {
	return &Store{backend: backend, mailbox: shard.New(shardCount), onReuse: onReuse}
}

// Put stores a freshly minted code.
func (s *Store) Put(record *oidctypes.AuthorizationCode) error {
	record.CreatedAt = time.Now()
	var err error
	s.mailbox.Submit(record.Code, func() {
		err = s.backend.Put(record)
	})
	return err
}

// Consume atomically checks-and-marks a code as used, per spec §4.9:
// NotFound if absent, Reused (with the previously issued jti) if already
// used, Fresh (with the record) otherwise.
func (s *Store) Consume(code string, issuedTokenJTI string) (ConsumeResult, *oidctypes.AuthorizationCode, error) {
	var (
		result ConsumeResult
		record *oidctypes.AuthorizationCode
		opErr  error
	)

	s.mailbox.Submit(code, func() {
		rec, err := s.backend.Get(code)
		if err != nil {
			opErr = err
			return
		}
		if rec == nil {
			result = NotFound
			return
		}
		if rec.Used {
			result = Reused
			record = rec
			if s.onReuse != nil {
				s.onReuse(rec)
			}
			return
		}
		if rec.Expired(time.Now()) {
			result = NotFound
			return
		}
		if err := s.backend.MarkUsed(code, issuedTokenJTI); err != nil {
			opErr = err
			return
		}
		rec.Used = true
		rec.IssuedTokenJTI = issuedTokenJTI
		result = Fresh
		record = rec
	})

	if opErr != nil {
		return NotFound, nil, fmt.Errorf("codestore: consume %s: %w", code, opErr)
	}
	return result, record, nil
}

// MemoryBackend is an in-process Backend, used in tests and as the
// single-instance default.
type MemoryBackend struct {
	mu    sync.Mutex
	codes map[string]*oidctypes.AuthorizationCode
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{codes: make(map[string]*oidctypes.AuthorizationCode)}
}

func (m *MemoryBackend) Put(record *oidctypes.AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.codes[record.Code] = &cp
	return nil
}

func (m *MemoryBackend) Get(code string) (*oidctypes.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.codes[code]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryBackend) MarkUsed(code string, issuedTokenJTI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.codes[code]
	if !ok {
		return fmt.Errorf("code %s not found", code)
	}
	rec.Used = true
	rec.IssuedTokenJTI = issuedTokenJTI
	return nil
}
