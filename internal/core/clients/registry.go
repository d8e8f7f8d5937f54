// Package clients implements the Client Registry (C5): loads registered
// client metadata and authenticates token-endpoint requests under
// client_secret_basic, client_secret_post, private_key_jwt, and none.
//
// Grounded on shared/repository.BaseRepository's read-mostly query shape
// for the storage side, and on gourdiantoken's JWT-claims verification
// idiom for the private_key_jwt assertion path.
package clients

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	josejwk "github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

// Store loads client records from durable storage (Postgres via sqlx in
// this repository's internal/store package).
type Store interface {
	GetClient(ctx context.Context, clientID string) (*oidctypes.ClientRecord, error)
}

// ReplayCache prevents a private_key_jwt assertion's jti from being
// reused within its validity window.
type ReplayCache interface {
	SeenBefore(clientID, jti string, window time.Duration) (bool, error)
}

const assertionReplayWindow = 5 * time.Minute

// AuthOutcome is the result of authenticating a token-endpoint request.
type AuthOutcome struct {
	Client        *oidctypes.ClientRecord
	Method        string
	Authenticated bool
}

// Registry is C5.
type Registry struct {
	store       Store
	replay      ReplayCache
	tokenURL    string
}

// New builds a Registry backed by store, using replay to dedupe
// private_key_jwt assertions and tokenURL as the expected `aud` for
// those assertions.
func New(store Store, replay ReplayCache, tokenURL string) *Registry {
	return &Registry{store: store, replay: replay, tokenURL: tokenURL}
}

// Load fetches a ClientRecord by id.
func (r *Registry) Load(ctx context.Context, clientID string) (*oidctypes.ClientRecord, error) {
	rec, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("clients: load %s: %w", clientID, err)
	}
	return rec, nil
}

// Authenticate validates the client credentials present on an
// application/x-www-form-urlencoded token-endpoint request.
func (r *Registry) Authenticate(ctx context.Context, req *http.Request, allowedMethods []string) (*AuthOutcome, error) {
	if user, pass, ok := req.BasicAuth(); ok {
		if !methodAllowed("client_secret_basic", allowedMethods) {
			return nil, fmt.Errorf("invalid_client: client_secret_basic not permitted by active profile")
		}
		return r.authenticateSecret(ctx, user, pass, "client_secret_basic")
	}

	if err := req.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid_request: %w", err)
	}

	if assertion := req.PostForm.Get("client_assertion"); assertion != "" {
		if !methodAllowed("private_key_jwt", allowedMethods) {
			return nil, fmt.Errorf("invalid_client: private_key_jwt not permitted by active profile")
		}
		assertionType := req.PostForm.Get("client_assertion_type")
		if assertionType != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
			return nil, fmt.Errorf("invalid_client: unsupported client_assertion_type")
		}
		return r.authenticatePrivateKeyJWT(ctx, assertion)
	}

	clientID := req.PostForm.Get("client_id")
	if clientID == "" {
		return nil, fmt.Errorf("invalid_client: no client credentials presented")
	}

	clientSecret := req.PostForm.Get("client_secret")
	if clientSecret != "" {
		if !methodAllowed("client_secret_post", allowedMethods) {
			return nil, fmt.Errorf("invalid_client: client_secret_post not permitted by active profile")
		}
		return r.authenticateSecret(ctx, clientID, clientSecret, "client_secret_post")
	}

	if !methodAllowed("none", allowedMethods) {
		return nil, fmt.Errorf("invalid_client: public clients not permitted by active profile")
	}
	rec, err := r.Load(ctx, clientID)
	if err != nil || rec == nil {
		return nil, fmt.Errorf("invalid_client: unknown client")
	}
	if rec.TokenEndpointAuthMethod != "none" {
		return nil, fmt.Errorf("invalid_client: client requires authentication")
	}
	return &AuthOutcome{Client: rec, Method: "none", Authenticated: true}, nil
}

func (r *Registry) authenticateSecret(ctx context.Context, clientID, secret, method string) (*AuthOutcome, error) {
	rec, err := r.Load(ctx, clientID)
	if err != nil || rec == nil {
		return nil, fmt.Errorf("invalid_client: unknown client")
	}
	if rec.ClientSecretHash == "" {
		return nil, fmt.Errorf("invalid_client: client has no secret configured")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.ClientSecretHash), []byte(secret)) != nil {
		return nil, fmt.Errorf("invalid_client: secret mismatch")
	}
	return &AuthOutcome{Client: rec, Method: method, Authenticated: true}, nil
}

// authenticatePrivateKeyJWT verifies a client_assertion JWT against the
// client's own JWKS: iss=sub=client_id, aud=token endpoint, exp in the
// future, jti unseen for this client.
func (r *Registry) authenticatePrivateKeyJWT(ctx context.Context, assertion string) (*AuthOutcome, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(assertion, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("invalid_client: malformed client_assertion")
	}
	claims := unverified.Claims.(jwt.MapClaims)
	iss, _ := claims.GetIssuer()
	sub, _ := claims.GetSubject()
	if iss == "" || iss != sub {
		return nil, fmt.Errorf("invalid_client: iss must equal sub")
	}

	rec, err := r.Load(ctx, iss)
	if err != nil || rec == nil {
		return nil, fmt.Errorf("invalid_client: unknown client")
	}
	if len(rec.JWKS) == 0 {
		return nil, fmt.Errorf("invalid_client: client has no registered jwks")
	}

	parser := jwt.NewParser(jwt.WithLeeway(60 * time.Second))
	verified := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(assertion, verified, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return resolveClientKey(rec.JWKS, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid_client: assertion signature invalid: %w", err)
	}

	aud, _ := verified.GetAudience()
	if !containsString(aud, r.tokenURL) {
		return nil, fmt.Errorf("invalid_client: assertion aud mismatch")
	}
	exp, err := verified.GetExpirationTime()
	if err != nil || exp == nil || exp.Before(time.Now()) {
		return nil, fmt.Errorf("invalid_client: assertion missing or expired exp")
	}

	jti, _ := verified["jti"].(string)
	if jti == "" {
		return nil, fmt.Errorf("invalid_client: assertion missing jti")
	}
	if r.replay != nil {
		seen, err := r.replay.SeenBefore(rec.ClientID, jti, assertionReplayWindow)
		if err != nil {
			return nil, fmt.Errorf("invalid_client: replay check: %w", err)
		}
		if seen {
			return nil, fmt.Errorf("invalid_client: assertion jti replayed")
		}
	}

	return &AuthOutcome{Client: rec, Method: "private_key_jwt", Authenticated: true}, nil
}

func resolveClientKey(jwks map[string]interface{}, kid string) (interface{}, error) {
	raw, err := json.Marshal(jwks)
	if err != nil {
		return nil, err
	}
	var set josejwk.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse client jwks: %w", err)
	}
	for _, k := range set.Keys {
		if kid == "" || k.KeyID == kid {
			return k.Key, nil
		}
	}
	return nil, fmt.Errorf("no matching key for kid %q", kid)
}

// HashSecret bcrypt-hashes a client secret for storage, used by the
// dynamic client registration path (C5a).
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("clients: hash secret: %w", err)
	}
	return string(hash), nil
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// ConstantTimeEqual is exposed for callers outside this package (e.g.
// revocation/introspection) that need the same constant-time comparison
// discipline for secrets, matching spec §4.5.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1 && len(a) == len(b)
}
