// Package rotator implements the RefreshTokenRotator (C11):
// version-based refresh token rotation with theft detection and
// irreversible family revocation.
//
// Grounded on gourdiantoken's atomic rotation primitive
// (pkg/gourdiantoken-master/gourdiantoken.repository.redis.imp.go:
// MarkTokenRotatedAtomic, built on Redis SETNX so the first caller to
// mark a token rotated wins), generalized from a single boolean
// "rotated" flag per token to a monotone per-family version counter so
// theft can be distinguished from ordinary reuse-of-the-latest-token.
package rotator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nordauth/oidcore/internal/core/shard"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

// Backend is the durable half of the rotator; the production backend is
// MongoDB (internal/store), one document per (client_id, user_id),
// written with a plain ReplaceOne upsert. The compare-and-swap guarantee
// gourdiantoken gets from Redis SETNX comes from the Rotator's per-client
// mailbox serializing each Get+Save pair, not from the backend.
type Backend interface {
	Get(clientID, userID string) (*oidctypes.TokenFamily, error)
	Save(f *oidctypes.TokenFamily) error
}

// AuditFunc emits a synchronous audit event; theft_detected and
// family_revoked must be durably recorded before Rotate returns, per
// spec §4.11 and §4.15.
type AuditFunc func(event string, family *oidctypes.TokenFamily, details map[string]interface{})

// Outcome is a successful create/rotate result.
type Outcome struct {
	Version      int64
	NewJTI       string
	ExpiresIn    time.Duration
	AllowedScope []string
}

// ErrKind classifies rotation failures.
type ErrKind string

const (
	ErrNotFound        ErrKind = "invalid_grant"
	ErrExpiredFamily   ErrKind = "invalid_grant"
	ErrTheftDetected   ErrKind = "invalid_grant"
	ErrScopeAmplified  ErrKind = "invalid_scope"
)

// RotateError carries the classification and whether the family was
// revoked as a result. The Token Endpoint reports a revoked family only
// in error_description; its error body has no separate `action` member.
type RotateError struct {
	Kind          ErrKind
	FamilyRevoked bool
	Err           error
}

func (e *RotateError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *RotateError) Unwrap() error { return e.Err }

// Rotator is C11. Create, Rotate and RevokeFamily are serialized per
// client_id shard so concurrent rotate calls for different clients never
// block each other, while calls for the same client are linearized.
// Validate is a plain read of the backend outside the mailbox.
type Rotator struct {
	backend Backend
	mailbox *shard.Mailboxes
	audit   AuditFunc
}

// New builds a Rotator.
func New(backend Backend, shardCount int, audit AuditFunc) *Rotator {
	if audit == nil {
		audit = func(string, *oidctypes.TokenFamily, map[string]interface{}) {}
	}
	return &Rotator{backend: backend, mailbox: shard.New(shardCount), audit: audit}
}

// Create establishes a new family at version 1, called when a token
// response includes offline_access and a refresh token is minted for the
// first time.
func (r *Rotator) Create(userID, clientID string, scope []string, ttl time.Duration) (*Outcome, error) {
	var (
		out *Outcome
		err error
	)
	r.mailbox.Submit(clientID, func() {
		jti := uuid.NewString()
		family := &oidctypes.TokenFamily{
			ClientID:     clientID,
			UserID:       userID,
			Version:      1,
			LastJTI:      jti,
			LastUsedAt:   time.Now(),
			ExpiresAt:    time.Now().Add(ttl),
			AllowedScope: scope,
		}
		if saveErr := r.backend.Save(family); saveErr != nil {
			err = saveErr
			return
		}
		out = &Outcome{Version: 1, NewJTI: jti, ExpiresIn: ttl, AllowedScope: scope}
	})
	if err != nil {
		return nil, fmt.Errorf("rotator: create: %w", err)
	}
	return out, nil
}

// Rotate performs the compare-and-swap rotation described in spec
// §4.11. A version or jti mismatch against the stored family is treated
// as theft: the family is revoked irreversibly and a synchronous audit
// trail is written before this call returns.
func (r *Rotator) Rotate(incomingVersion int64, incomingJTI, userID, clientID string, requestedScope []string) (*Outcome, error) {
	var (
		out     *Outcome
		rotErr  error
	)

	r.mailbox.Submit(clientID, func() {
		family, err := r.backend.Get(clientID, userID)
		if err != nil {
			rotErr = &RotateError{Kind: ErrNotFound, Err: err}
			return
		}
		if family == nil || family.Revoked {
			rotErr = &RotateError{Kind: ErrNotFound, Err: fmt.Errorf("no active family")}
			return
		}
		if family.ExpiresAt.Before(time.Now()) {
			rotErr = &RotateError{Kind: ErrExpiredFamily, Err: fmt.Errorf("family expired")}
			return
		}

		if incomingVersion < family.Version || incomingJTI != family.LastJTI {
			family.Revoked = true
			family.RevokedReason = "refresh_token_reuse"
			if err := r.backend.Save(family); err != nil {
				rotErr = &RotateError{Kind: ErrTheftDetected, FamilyRevoked: true, Err: err}
				return
			}
			r.audit("theft_detected", family, map[string]interface{}{
				"incoming_version": incomingVersion, "incoming_jti": incomingJTI,
			})
			r.audit("family_revoked", family, map[string]interface{}{"reason": family.RevokedReason})
			rotErr = &RotateError{Kind: ErrTheftDetected, FamilyRevoked: true, Err: fmt.Errorf("refresh token reuse detected")}
			return
		}

		allowed := family.AllowedScope
		if len(requestedScope) > 0 {
			if !isSubset(requestedScope, family.AllowedScope) {
				rotErr = &RotateError{Kind: ErrScopeAmplified, Err: fmt.Errorf("requested scope exceeds allowed_scope")}
				return
			}
			allowed = requestedScope
		}

		family.Version++
		family.LastJTI = uuid.NewString()
		family.LastUsedAt = time.Now()
		if err := r.backend.Save(family); err != nil {
			rotErr = &RotateError{Kind: ErrNotFound, Err: err}
			return
		}

		out = &Outcome{
			Version:      family.Version,
			NewJTI:       family.LastJTI,
			ExpiresIn:    time.Until(family.ExpiresAt),
			AllowedScope: allowed,
		}
	})

	if rotErr != nil {
		return nil, rotErr
	}
	return out, nil
}

// RevokeFamily marks a family as revoked for the given reason,
// idempotently, emitting a synchronous audit entry.
func (r *Rotator) RevokeFamily(userID, clientID, reason string) error {
	var err error
	r.mailbox.Submit(clientID, func() {
		family, getErr := r.backend.Get(clientID, userID)
		if getErr != nil {
			err = getErr
			return
		}
		if family == nil || family.Revoked {
			return
		}
		family.Revoked = true
		family.RevokedReason = reason
		if saveErr := r.backend.Save(family); saveErr != nil {
			err = saveErr
			return
		}
		r.audit("family_revoked", family, map[string]interface{}{"reason": reason})
	})
	return err
}

// Validation is the read-only result of Validate, for introspection.
type Validation struct {
	Valid        bool
	Version      int64
	AllowedScope []string
	ExpiresAt    time.Time
}

// Validate reports a family's current state without rotating it.
func (r *Rotator) Validate(userID, clientID string, version int64) (*Validation, error) {
	family, err := r.backend.Get(clientID, userID)
	if err != nil {
		return nil, fmt.Errorf("rotator: validate: %w", err)
	}
	if family == nil || family.Revoked || family.ExpiresAt.Before(time.Now()) {
		return &Validation{Valid: false}, nil
	}
	return &Validation{
		Valid:        version == family.Version,
		Version:      family.Version,
		AllowedScope: family.AllowedScope,
		ExpiresAt:    family.ExpiresAt,
	}, nil
}

func isSubset(requested, allowed []string) bool {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowedSet[s]; !ok {
			return false
		}
	}
	return true
}
