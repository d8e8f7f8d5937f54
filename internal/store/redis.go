package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

// RedisBackends bundles the Redis-backed adapters that share one
// connection: DPoP nonce replay, the PAR store, the authorization code
// store, and access-token revocation. Grounded on
// pkg/gourdiantoken-master/gourdiantoken.repository.redis.imp.go's
// SET-with-TTL / SETNX / GET idiom, generalized from gourdiantoken's
// fixed revoked/rotated key namespaces to one namespace per adapter.
type RedisBackends struct {
	client *redis.Client
}

// NewRedisBackends wraps an already-connected client (see
// third_party/cache.NewRedisConnection).
func NewRedisBackends(client *redis.Client) *RedisBackends {
	return &RedisBackends{client: client}
}

// --- DPoP nonce cache (internal/core/dpop.NonceCache) ---

const dpopNoncePrefix = "dpop:nonce:"

// SeenBefore implements dpop.NonceCache via SETNX: the first caller to
// present (jkt, jti) wins and every subsequent one observes it as seen.
func (b *RedisBackends) SeenBefore(jkt, jti string, window time.Duration) (bool, error) {
	ctx := context.Background()
	key := dpopNoncePrefix + jkt + ":" + jti
	ok, err := b.client.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("store: dpop nonce check: %w", err)
	}
	return !ok, nil
}

// --- PAR store (internal/core/par.Backend) ---

const parPrefix = "par:"

type ParRedisBackend struct{ r *RedisBackends }

func NewParRedisBackend(r *RedisBackends) *ParRedisBackend { return &ParRedisBackend{r: r} }

func (p *ParRedisBackend) Put(req *oidctypes.PARRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("store: encode par request: %w", err)
	}
	key := parPrefix + req.RequestURI
	if err := p.r.client.Set(context.Background(), key, raw, 600*time.Second).Err(); err != nil {
		return fmt.Errorf("store: put par request: %w", err)
	}
	return nil
}

func (p *ParRedisBackend) TakeAndDelete(requestURI string) (*oidctypes.PARRequest, error) {
	ctx := context.Background()
	key := parPrefix + requestURI
	raw, err := p.r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get par request: %w", err)
	}
	_ = p.r.client.Del(ctx, key).Err()
	var req oidctypes.PARRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("store: decode par request: %w", err)
	}
	return &req, nil
}

// --- Authorization code store (internal/core/codestore.Backend) ---

const codePrefix = "authcode:"

type CodeRedisBackend struct{ r *RedisBackends }

func NewCodeRedisBackend(r *RedisBackends) *CodeRedisBackend { return &CodeRedisBackend{r: r} }

func (c *CodeRedisBackend) Put(code *oidctypes.AuthorizationCode) error {
	raw, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("store: encode authorization code: %w", err)
	}
	key := codePrefix + code.Code
	if err := c.r.client.Set(context.Background(), key, raw, 120*time.Second).Err(); err != nil {
		return fmt.Errorf("store: put authorization code: %w", err)
	}
	return nil
}

func (c *CodeRedisBackend) Get(code string) (*oidctypes.AuthorizationCode, error) {
	raw, err := c.r.client.Get(context.Background(), codePrefix+code).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get authorization code: %w", err)
	}
	var rec oidctypes.AuthorizationCode
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: decode authorization code: %w", err)
	}
	return &rec, nil
}

func (c *CodeRedisBackend) MarkUsed(code string, issuedTokenJTI string) error {
	ctx := context.Background()
	key := codePrefix + code
	raw, err := c.r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("store: code %s not found", code)
		}
		return fmt.Errorf("store: get authorization code: %w", err)
	}
	var rec oidctypes.AuthorizationCode
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("store: decode authorization code: %w", err)
	}
	rec.Used = true
	rec.IssuedTokenJTI = issuedTokenJTI
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode authorization code: %w", err)
	}
	ttl := c.r.client.TTL(ctx, key).Val()
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return c.r.client.Set(ctx, key, updated, ttl).Err()
}

// --- Access token revocation table (internal/core/token.RevocationTable) ---

const revokedAccessPrefix = "revoked:access:"

type RevocationRedisBackend struct{ r *RedisBackends }

func NewRevocationRedisBackend(r *RedisBackends) *RevocationRedisBackend {
	return &RevocationRedisBackend{r: r}
}

func (rb *RevocationRedisBackend) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := rb.r.client.Set(ctx, revokedAccessPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("store: revoke access token %s: %w", jti, err)
	}
	return nil
}

func (rb *RevocationRedisBackend) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := rb.r.client.Get(ctx, revokedAccessPrefix+jti).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("store: check revocation for %s: %w", jti, err)
	}
	return true, nil
}
