// Package session implements the interactive-login session resolver the
// Authorization Endpoint (C8) depends on: a signed cookie carrying the
// already-authenticated subject, auth_time, acr, and granted consent
// scopes, so Process can decide login_required/consent_required without
// owning a user database itself.
//
// Grounded on shared/middleware.JWTMiddleware's cookie-carried-JWT shape
// (GenerateAccessToken/ValidateAccessToken over a single HMAC secret),
// generalized from a fixed UserID/Username/Email claim set to the
// Subject/AuthTime/ACR/ConsentScopes bundle the Authorization Endpoint's
// Session type needs, and re-pointed from a single static secret to
// whatever HMAC key the deployment configures for first-party login
// cookies (independent of the KeyManager's asymmetric signing keys,
// since this token never leaves the provider's own login flow).
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nordauth/oidcore/internal/core/authorize"
)

// ParamKey is the reserved authorize.Request parameter the HTTP layer
// populates with the raw session cookie value before calling
// Process, since SessionResolver.Resolve only ever sees the request's
// parameter bundle, not the originating *http.Request.
const ParamKey = "_session_cookie"

// Claims is the payload carried inside the session cookie.
type Claims struct {
	Subject       string   `json:"sub"`
	AuthTime      int64    `json:"auth_time"`
	ACR           string   `json:"acr"`
	ConsentScopes []string `json:"consent_scopes"`
	jwt.RegisteredClaims
}

// CookieResolver implements authorize.SessionResolver over a signed
// session cookie. It never touches a user store: issuing the cookie in
// the first place is the first-party login UI's job, entirely outside
// this authorization core's scope.
type CookieResolver struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
}

// NewCookieResolver builds a CookieResolver signing/verifying cookies
// with secret, stamping iss=issuer, good for lifetime from issuance.
func NewCookieResolver(secret []byte, issuer string, lifetime time.Duration) *CookieResolver {
	if lifetime <= 0 {
		lifetime = 12 * time.Hour
	}
	return &CookieResolver{secret: secret, issuer: issuer, lifetime: lifetime}
}

// Issue mints a new session cookie value for a just-authenticated user,
// called by the first-party login handler this package does not itself
// provide.
func (r *CookieResolver) Issue(subject, acr string, authTime time.Time, consentScopes []string) (string, error) {
	now := time.Now()
	claims := Claims{
		Subject:       subject,
		AuthTime:      authTime.Unix(),
		ACR:           acr,
		ConsentScopes: consentScopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("session: issue: %w", err)
	}
	return signed, nil
}

// Resolve implements authorize.SessionResolver: it looks for the
// reserved ParamKey the HTTP layer stashed the cookie value under,
// verifies it, and returns the authorize.Session it carries. A missing
// or invalid cookie resolves to (nil, nil) — "no active session" per
// authorize.Process's own contract, not an error.
func (r *CookieResolver) Resolve(ctx context.Context, params map[string]string) (*authorize.Session, error) {
	raw := params[ParamKey]
	if raw == "" {
		return nil, nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, nil
	}
	if r.issuer != "" && claims.Issuer != r.issuer {
		return nil, nil
	}

	return &authorize.Session{
		Subject:       claims.Subject,
		AuthTime:      time.Unix(claims.AuthTime, 0),
		ACR:           claims.ACR,
		ConsentScopes: claims.ConsentScopes,
	}, nil
}
