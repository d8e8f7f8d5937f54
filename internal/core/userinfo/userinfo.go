// Package userinfo implements the UserInfo Verifier (C12): validates
// the bearer or DPoP-bound access token presented to /userinfo and
// projects the caller's scope onto a claims set.
package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nordauth/oidcore/internal/core/codec"
	"github.com/nordauth/oidcore/internal/core/dpop"
)

// RevocationChecker reports whether an access token jti has been
// revoked ahead of its natural expiry (token revocation, C10b).
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ClaimsSource resolves the durable profile claims for a subject,
// scoped down to whatever the access token's scope permits.
type ClaimsSource interface {
	ClaimsFor(ctx context.Context, sub string, scope []string) (map[string]interface{}, error)
}

// scopeClaims mirrors the standard OIDC scope-to-claims table (OIDC
// Core §5.4); address and phone are intentionally coarse-grained like
// the spec they are served from.
var scopeClaims = map[string][]string{
	"profile": {"name", "given_name", "family_name", "picture", "updated_at"},
	"email":   {"email", "email_verified"},
	"address": {"address"},
	"phone":   {"phone_number", "phone_number_verified"},
}

// Verifier is C12.
type Verifier struct {
	codec       *codec.Codec
	audience    string
	revocations RevocationChecker
	claims      ClaimsSource
}

// New builds a Verifier bound to the codec that minted access tokens
// (so the same KeyManager-backed verification path is reused) and the
// endpoint's own audience identifier.
func New(c *codec.Codec, audience string, revocations RevocationChecker, claims ClaimsSource) *Verifier {
	return &Verifier{codec: c, audience: audience, revocations: revocations, claims: claims}
}

// Result is the projected response body for a successful call.
type Result struct {
	Subject string
	Claims  map[string]interface{}
}

// Handle authenticates req (Bearer or DPoP scheme per RFC 6750 / RFC
// 9449) and returns the scope-projected claims for the token's subject.
func (v *Verifier) Handle(ctx context.Context, req *http.Request, cache dpop.NonceCache) (*Result, error) {
	scheme, token, err := extractToken(req)
	if err != nil {
		return nil, fmt.Errorf("invalid_token: %w", err)
	}

	claims, err := v.codec.Verify(token, v.audience, codec.ContextAccessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid_token: %w", err)
	}

	jti, _ := claims["jti"].(string)
	if v.revocations != nil && jti != "" {
		revoked, err := v.revocations.IsRevoked(ctx, jti)
		if err != nil {
			return nil, fmt.Errorf("invalid_token: revocation check: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("invalid_token: token has been revoked")
		}
	}

	cnf, _ := claims["cnf"].(map[string]interface{})
	jkt, _ := cnf["jkt"].(string)

	switch scheme {
	case "DPoP":
		if jkt == "" {
			return nil, fmt.Errorf("invalid_token: token is not DPoP-bound")
		}
		proof := req.Header.Get("DPoP")
		if proof == "" {
			return nil, fmt.Errorf("invalid_token: missing DPoP proof")
		}
		result, err := dpop.Verify(proof, req.Method, requestURL(req), token, cache)
		if err != nil {
			return nil, fmt.Errorf("invalid_token: %w", err)
		}
		if result.JKT != jkt {
			return nil, fmt.Errorf("invalid_token: dpop proof key does not match token binding")
		}
	case "Bearer":
		if jkt != "" {
			return nil, fmt.Errorf("invalid_token: token requires DPoP, not a bare bearer presentation")
		}
	default:
		return nil, fmt.Errorf("invalid_token: unsupported authorization scheme %q", scheme)
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("invalid_token: token has no subject")
	}

	scopeStr, _ := claims["scope"].(string)
	scope := strings.Fields(scopeStr)

	requestedClaims, _ := claims["requested_claims"].(string)

	projected := map[string]interface{}{"sub": sub}
	if v.claims != nil {
		full, err := v.claims.ClaimsFor(ctx, sub, scope)
		if err != nil {
			return nil, fmt.Errorf("server_error: claims lookup: %w", err)
		}
		for _, s := range scope {
			for _, name := range scopeClaims[s] {
				if val, ok := full[name]; ok {
					projected[name] = val
				}
			}
		}
		for _, name := range individualUserInfoClaims(requestedClaims) {
			if val, ok := full[name]; ok {
				projected[name] = val
			}
		}
	}

	return &Result{Subject: sub, Claims: projected}, nil
}

// individualUserInfoClaims extracts the names requested under the
// claims parameter's userinfo section (OIDC Core §5.5), honored
// regardless of whether the corresponding scope was granted.
func individualUserInfoClaims(raw string) []string {
	if raw == "" {
		return nil
	}
	var req struct {
		UserInfo map[string]interface{} `json:"userinfo"`
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil
	}
	names := make([]string, 0, len(req.UserInfo))
	for name := range req.UserInfo {
		names = append(names, name)
	}
	return names
}

func extractToken(req *http.Request) (scheme, token string, err error) {
	h := req.Header.Get("Authorization")
	if h == "" {
		return "", "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed Authorization header")
	}
	return parts[0], strings.TrimSpace(parts[1]), nil
}

func requestURL(req *http.Request) string {
	scheme := "https"
	if req.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + req.Host + req.URL.RequestURI()
}
