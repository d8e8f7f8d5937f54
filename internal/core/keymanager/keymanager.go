// Package keymanager implements the KeyManager (C1): it owns signing
// keys, produces JWKS, and rotates keys with an overlap/retention window.
// Grounded on the key-lifecycle shape of gourdiantoken's
// initializeKeys/parseKeyPair (pkg/gourdiantoken-master/gourdiantoken.go)
// generalized from a single static keypair to a rotating set, with JWK
// marshaling and thumbprinting delegated to go-jose.
package keymanager

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	josejwk "github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

// Config controls generation algorithm and retention/rotation timing.
type Config struct {
	Algorithm        string // RS256, ES256, RS384, ES384, RS512, ES512
	RotationInterval time.Duration
	RetentionWindow  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RotationInterval <= 0 {
		c.RotationInterval = 90 * 24 * time.Hour
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 30 * 24 * time.Hour
	}
	if c.Algorithm == "" {
		c.Algorithm = "RS256"
	}
	return c
}

// Store persists SigningKeys across restarts; the private key cache
// itself always lives in process memory (it is never serialized out of
// this package), but Store lets a boot sequence recover the active set.
type Store interface {
	SaveKey(k *oidctypes.SigningKey) error
	LoadAll() ([]*oidctypes.SigningKey, error)
}

// Manager is C1. All mutations are serialized by mu; reads of the active
// key and JWKS are cheap and lock-free-adjacent (RLock only).
type Manager struct {
	cfg   Config
	store Store

	mu           sync.RWMutex
	keys         map[string]*oidctypes.SigningKey
	activeKid    string
	lastRotation time.Time
}

// New constructs a Manager, loading any previously persisted keys from
// store and minting a fresh active key if none exist.
func New(cfg Config, store Store) (*Manager, error) {
	cfg = cfg.withDefaults()
	m := &Manager{cfg: cfg, store: store, keys: make(map[string]*oidctypes.SigningKey)}

	if store != nil {
		existing, err := store.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("keymanager: load keys: %w", err)
		}
		for _, k := range existing {
			m.keys[k.Kid] = k
			if k.Active {
				m.activeKid = k.Kid
				m.lastRotation = k.CreatedAt
			}
		}
	}

	if m.activeKid == "" {
		if _, err := m.rotateLocked(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ActiveKey returns the current signing key.
func (m *Manager) ActiveKey() *oidctypes.SigningKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[m.activeKid]
}

// Get resolves a key by kid, including retired-but-not-yet-evicted keys,
// so verification of tokens signed under a just-rotated-out key still
// succeeds.
func (m *Manager) Get(kid string) *oidctypes.SigningKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[kid]
}

// AllPublicJWKs returns the public JWK for the active key and every
// retired key still within the retention window.
func (m *Manager) AllPublicJWKs() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(m.keys))
	now := time.Now()
	for _, k := range m.keys {
		if k.RetiredAt != nil && now.Sub(*k.RetiredAt) > m.cfg.RetentionWindow {
			continue
		}
		out = append(out, k.PublicJWK)
	}
	return out
}

// ShouldRotate reports whether the rotation interval has elapsed.
func (m *Manager) ShouldRotate() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastRotation) >= m.cfg.RotationInterval
}

// Rotate generates a new active key, retires the previous one, and
// evicts anything past retention. Generation failure is fatal: no
// partial state (half-built key, retired-but-no-replacement) is ever
// exposed to callers.
func (m *Manager) Rotate() (*oidctypes.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked()
}

func (m *Manager) rotateLocked() (*oidctypes.SigningKey, error) {
	newKey, err := generateKey(m.cfg.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("keymanager: generate key: %w", err)
	}
	now := time.Now()
	newKey.CreatedAt = now
	newKey.Active = true

	if prev, ok := m.keys[m.activeKid]; ok {
		prev.Active = false
		retiredAt := now
		prev.RetiredAt = &retiredAt
		if m.store != nil {
			if err := m.store.SaveKey(prev); err != nil {
				logx.Errorf("keymanager: persist retired key %s: %v", prev.Kid, err)
			}
		}
	}

	m.keys[newKey.Kid] = newKey
	m.activeKid = newKey.Kid
	m.lastRotation = now

	for kid, k := range m.keys {
		if k.RetiredAt != nil && now.Sub(*k.RetiredAt) > m.cfg.RetentionWindow {
			delete(m.keys, kid)
		}
	}

	if m.store != nil {
		if err := m.store.SaveKey(newKey); err != nil {
			logx.Errorf("keymanager: persist new key %s: %v", newKey.Kid, err)
		}
	}
	return newKey, nil
}

func generateKey(alg string) (*oidctypes.SigningKey, error) {
	kid := uuid.NewString()

	var (
		private interface{}
		jwk     josejwk.JSONWebKey
	)

	switch alg {
	case "RS256", "RS384", "RS512":
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		private = priv
		jwk = josejwk.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: alg, Use: "sig"}
	case "ES256":
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		private = priv
		jwk = josejwk.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: alg, Use: "sig"}
	case "ES384":
		priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, err
		}
		private = priv
		jwk = josejwk.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: alg, Use: "sig"}
	case "ES512":
		priv, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		if err != nil {
			return nil, err
		}
		private = priv
		jwk = josejwk.JSONWebKey{Key: &priv.PublicKey, KeyID: kid, Algorithm: alg, Use: "sig"}
	case "EdDSA":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		private = priv
		jwk = josejwk.JSONWebKey{Key: pub, KeyID: kid, Algorithm: alg, Use: "sig"}
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", alg)
	}

	thumb, err := jwk.Thumbprint(josejwk.SHA256)
	if err != nil {
		return nil, fmt.Errorf("thumbprint: %w", err)
	}
	jwkMap, err := jwkToMap(jwk)
	if err != nil {
		return nil, err
	}
	jwkMap["x5t#S256"] = base64RawURL(thumb)

	return &oidctypes.SigningKey{
		Kid:             kid,
		Alg:             alg,
		PrivateMaterial: private,
		PublicJWK:       jwkMap,
	}, nil
}

func jwkToMap(jwk josejwk.JSONWebKey) (map[string]interface{}, error) {
	raw, err := jwk.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return unmarshalJSONMap(raw)
}
