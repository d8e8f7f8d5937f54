// Package token implements the Token Endpoint (C10): grant_type
// dispatch for authorization_code and refresh_token, plus the
// supplemented introspection (RFC 7662) and revocation (RFC 7009)
// operations served from the same surface.
//
// Grounded on the teacher's logic-layer request/response shape
// (services/gateway logic packages take a request DTO and return a
// response DTO or a classified error), generalized here from CRUD verbs
// to the OAuth2 grant dispatch table.
package token

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nordauth/oidcore/internal/core/clients"
	"github.com/nordauth/oidcore/internal/core/codec"
	"github.com/nordauth/oidcore/internal/core/codestore"
	"github.com/nordauth/oidcore/internal/core/dpop"
	"github.com/nordauth/oidcore/internal/core/pairwise"
	"github.com/nordauth/oidcore/internal/core/pkce"
	"github.com/nordauth/oidcore/internal/core/profile"
	"github.com/nordauth/oidcore/internal/core/rotator"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

// Error is a classified token-endpoint failure, rendered as the
// standard OAuth2 JSON error body (RFC 6749 §5.2).
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Description) }

// RevocationTable records access-token jtis that must be rejected
// ahead of their natural expiry, filled in by the revocation operation
// and consulted by the UserInfo Verifier.
type RevocationTable interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// IntrospectionTarget resolves whatever token state introspection needs
// beyond what's in the JWT itself (e.g. a revoked refresh family).
type IntrospectionTarget interface {
	FamilyValid(ctx context.Context, clientID, userID string, version int64) (bool, error)
}

// Deps bundles every component the Token Endpoint drives.
type Deps struct {
	Clients    *clients.Registry
	Codes      *codestore.Store
	Codec      *codec.Codec
	Profiles   *profile.Engine
	Rotator    *rotator.Rotator
	Revocation RevocationTable
	Intro      IntrospectionTarget
	DPoPNonces dpop.NonceCache
	Issuer     string

	// PairwiseSalt is mixed into every pairwise subject computed for a
	// ClientRecord with subject_type=pairwise (OIDC Core §8.1). It must
	// stay constant for the life of the deployment; rotating it changes
	// every pairwise client's effective subject identifier.
	PairwiseSalt string
}

// Endpoint is C10.
type Endpoint struct {
	deps Deps
}

// New builds an Endpoint.
func New(deps Deps) *Endpoint {
	return &Endpoint{deps: deps}
}

// TokenResponse is the successful RFC 6749 §5.1 response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Handle dispatches a token-endpoint request by grant_type, per spec
// §4.10.1 (authorization_code) and §4.10.2 (refresh_token). Handle parses
// the request body into req.PostForm itself.
func (e *Endpoint) Handle(ctx context.Context, req *http.Request) (*TokenResponse, error) {
	if err := req.ParseForm(); err != nil {
		return nil, &Error{Code: "invalid_request", Description: err.Error()}
	}

	current := e.deps.Profiles.Current()
	outcome, err := e.deps.Clients.Authenticate(ctx, req, current.TokenEndpointAuthMethods)
	if err != nil {
		return nil, &Error{Code: "invalid_client", Description: err.Error()}
	}

	dpopProof := req.Header.Get("DPoP")
	var dpopJKT string
	if dpopProof != "" {
		result, err := dpop.Verify(dpopProof, req.Method, requestURL(req), "", e.deps.DPoPNonces)
		if err != nil {
			return nil, &Error{Code: "invalid_dpop_proof", Description: err.Error()}
		}
		dpopJKT = result.JKT
	} else if current.RequireDPoP {
		return nil, &Error{Code: "invalid_request", Description: "DPoP proof is required by the active profile"}
	}

	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		return e.authorizationCodeGrant(ctx, req, outcome.Client, dpopJKT, current)
	case "refresh_token":
		return e.refreshTokenGrant(ctx, req, outcome.Client, dpopJKT, current)
	default:
		return nil, &Error{Code: "unsupported_grant_type", Description: "grant_type must be authorization_code or refresh_token"}
	}
}

func (e *Endpoint) authorizationCodeGrant(ctx context.Context, req *http.Request, client *oidctypes.ClientRecord, dpopJKT string, current profile.SettingsProfile) (*TokenResponse, error) {
	clientID := client.ClientID
	code := req.PostForm.Get("code")
	if code == "" {
		return nil, &Error{Code: "invalid_request", Description: "missing code"}
	}
	redirectURI := req.PostForm.Get("redirect_uri")
	issuedJTI := uuid.NewString()

	result, record, err := e.deps.Codes.Consume(code, issuedJTI)
	if err != nil {
		return nil, &Error{Code: "server_error", Description: err.Error()}
	}
	switch result {
	case codestore.NotFound:
		return nil, &Error{Code: "invalid_grant", Description: "unknown, expired, or already-exercised code"}
	case codestore.Reused:
		if e.deps.Revocation != nil && record.IssuedTokenJTI != "" {
			_ = e.deps.Revocation.Revoke(ctx, record.IssuedTokenJTI, time.Now().Add(current.AccessTokenTTL))
		}
		if e.deps.Rotator != nil {
			_ = e.deps.Rotator.RevokeFamily(record.Sub, record.ClientID, "authorization_code_reuse")
		}
		return nil, &Error{Code: "invalid_grant", Description: "authorization code was already used; associated tokens have been revoked"}
	}

	if record.ClientID != clientID {
		return nil, &Error{Code: "invalid_grant", Description: "code was not issued to this client"}
	}
	if redirectURI != "" && redirectURI != record.RedirectURI {
		return nil, &Error{Code: "invalid_grant", Description: "redirect_uri does not match the authorization request"}
	}

	verifier := req.PostForm.Get("code_verifier")
	if record.CodeChallenge != "" {
		if verifier == "" {
			return nil, &Error{Code: "invalid_grant", Description: "missing code_verifier"}
		}
		ok, err := pkce.Verify(record.CodeChallenge, record.CodeChallengeMethod, verifier, current.PKCEMethods)
		if err != nil || !ok {
			return nil, &Error{Code: "invalid_grant", Description: "PKCE verification failed"}
		}
	}

	if record.DPoPJKT != "" && record.DPoPJKT != dpopJKT {
		return nil, &Error{Code: "invalid_grant", Description: "DPoP key does not match the authorization request binding"}
	}

	return e.issueTokens(ctx, record.Sub, client, record.Scope, dpopJKT, record.Nonce, record.ACR, record.AuthTime, issuedJTI, record.ClaimsJSON, true, current)
}

func (e *Endpoint) refreshTokenGrant(ctx context.Context, req *http.Request, client *oidctypes.ClientRecord, dpopJKT string, current profile.SettingsProfile) (*TokenResponse, error) {
	clientID := client.ClientID
	refreshToken := req.PostForm.Get("refresh_token")
	if refreshToken == "" {
		return nil, &Error{Code: "invalid_request", Description: "missing refresh_token"}
	}
	version, jti, userID, err := e.parseRefreshToken(refreshToken)
	if err != nil {
		return nil, &Error{Code: "invalid_grant", Description: "malformed refresh_token"}
	}

	var requestedScope []string
	if raw := req.PostForm.Get("scope"); raw != "" {
		requestedScope = strings.Fields(raw)
	}

	out, err := e.deps.Rotator.Rotate(version, jti, userID, clientID, requestedScope)
	if err != nil {
		var rerr *rotator.RotateError
		if asRotateError(err, &rerr) {
			if rerr.FamilyRevoked {
				if e.deps.Revocation != nil {
					_ = e.deps.Revocation.Revoke(ctx, jti, time.Now().Add(current.AccessTokenTTL))
				}
				return nil, &Error{Code: string(rerr.Kind), Description: "refresh token reuse detected; the token family has been revoked"}
			}
			if rerr.Kind == rotator.ErrScopeAmplified {
				return nil, &Error{Code: "invalid_grant", Description: rerr.Error()}
			}
			return nil, &Error{Code: string(rerr.Kind), Description: rerr.Error()}
		}
		return nil, &Error{Code: "invalid_grant", Description: err.Error()}
	}

	issuedJTI := uuid.NewString()
	resp, err := e.issueTokens(ctx, userID, client, out.AllowedScope, dpopJKT, "", "", time.Time{}, issuedJTI, "", false, current)
	if err != nil {
		return nil, err
	}
	rotated, err := e.signRefreshToken(out.Version, out.NewJTI, userID, clientID, out.AllowedScope, current.RefreshTokenTTL)
	if err != nil {
		return nil, &Error{Code: "server_error", Description: err.Error()}
	}
	resp.RefreshToken = rotated
	return resp, nil
}

func (e *Endpoint) issueTokens(ctx context.Context, localSub string, client *oidctypes.ClientRecord, scope []string, dpopJKT, nonce, acr string, authTime time.Time, accessJTI string, claimsJSON string, createFamily bool, current profile.SettingsProfile) (*TokenResponse, error) {
	clientID := client.ClientID
	sub, err := e.effectiveSubject(client, localSub)
	if err != nil {
		return nil, &Error{Code: "server_error", Description: err.Error()}
	}

	now := time.Now()
	accessClaims := map[string]interface{}{
		"iss":       e.deps.Issuer,
		"sub":       sub,
		"aud":       e.deps.Issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(current.AccessTokenTTL).Unix(),
		"jti":       accessJTI,
		"scope":     strings.Join(scope, " "),
		"client_id": clientID,
	}
	if dpopJKT != "" {
		accessClaims["cnf"] = map[string]interface{}{"jkt": dpopJKT}
	}
	if claimsJSON != "" {
		accessClaims["requested_claims"] = claimsJSON
	}
	accessToken, err := e.deps.Codec.Sign(accessClaims)
	if err != nil {
		return nil, &Error{Code: "server_error", Description: err.Error()}
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   tokenType(dpopJKT),
		ExpiresIn:   int64(current.AccessTokenTTL.Seconds()),
		Scope:       strings.Join(scope, " "),
	}

	if containsString(scope, "openid") {
		idClaims := map[string]interface{}{
			"iss": e.deps.Issuer,
			"sub": sub,
			"aud": clientID,
			"iat": now.Unix(),
			"exp": now.Add(15 * time.Minute).Unix(),
		}
		if nonce != "" {
			idClaims["nonce"] = nonce
		}
		if acr != "" {
			idClaims["acr"] = acr
		}
		if !authTime.IsZero() {
			idClaims["auth_time"] = authTime.Unix()
		}
		atHash, err := codec.ATHash(accessToken, e.deps.Codec.Keys.ActiveKey().Alg)
		if err == nil {
			idClaims["at_hash"] = atHash
		}
		idToken, err := e.deps.Codec.Sign(idClaims)
		if err != nil {
			return nil, &Error{Code: "server_error", Description: err.Error()}
		}
		resp.IDToken = idToken
	}

	if createFamily && containsString(scope, "offline_access") && e.deps.Rotator != nil {
		family, err := e.deps.Rotator.Create(localSub, clientID, scope, current.RefreshTokenTTL)
		if err != nil {
			return nil, &Error{Code: "server_error", Description: err.Error()}
		}
		refreshToken, err := e.signRefreshToken(family.Version, family.NewJTI, localSub, clientID, scope, current.RefreshTokenTTL)
		if err != nil {
			return nil, &Error{Code: "server_error", Description: err.Error()}
		}
		resp.RefreshToken = refreshToken
	}

	return resp, nil
}

// effectiveSubject returns the sub claim value to expose to client,
// rewriting it to a pairwise identifier when the client is registered
// with subject_type=pairwise (OIDC Core §8.1).
func (e *Endpoint) effectiveSubject(client *oidctypes.ClientRecord, localSub string) (string, error) {
	if client.SubjectType != "pairwise" {
		return localSub, nil
	}
	sector, err := pairwise.Sector(client.SectorIdentifierURI, client.RedirectURIs)
	if err != nil {
		return "", fmt.Errorf("token: resolve pairwise sector: %w", err)
	}
	return pairwise.Subject(sector, localSub, e.deps.PairwiseSalt), nil
}

func tokenType(dpopJKT string) string {
	if dpopJKT != "" {
		return "DPoP"
	}
	return "Bearer"
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func requestURL(req *http.Request) string {
	scheme := "https"
	if req.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + req.Host + req.URL.RequestURI()
}

// signRefreshToken mints the refresh token as a C2-signed JWT per spec
// §6: rtv carries the Rotator's family version, jti the token's own
// identity, sub/client_id/scope what the access token grant out of it
// may carry. The Rotator's version compare-and-swap is still what
// detects replay; the signature is what stops a client from forging or
// tampering with the version/jti/scope it carries.
func (e *Endpoint) signRefreshToken(version int64, jti, userID, clientID string, scope []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := map[string]interface{}{
		"iss":       e.deps.Issuer,
		"sub":       userID,
		"aud":       clientID,
		"client_id": clientID,
		"scope":     strings.Join(scope, " "),
		"rtv":       version,
		"jti":       jti,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	return e.deps.Codec.Sign(claims)
}

// parseRefreshToken verifies tok as a refresh token JWT and extracts
// the rtv/jti/sub claims the Rotator's compare-and-swap needs. A token
// missing rtv is not a refresh token at all, signed or not.
func (e *Endpoint) parseRefreshToken(tok string) (version int64, jti, userID string, err error) {
	claims, err := e.deps.Codec.Verify(tok, "", codec.ContextRefreshToken, nil)
	if err != nil {
		return 0, "", "", err
	}
	rtv, ok := claims["rtv"]
	if !ok {
		return 0, "", "", fmt.Errorf("token: missing rtv claim")
	}
	version, err = claimInt64(rtv)
	if err != nil {
		return 0, "", "", err
	}
	jti, _ = claims["jti"].(string)
	userID, _ = claims.GetSubject()
	if jti == "" || userID == "" {
		return 0, "", "", fmt.Errorf("token: refresh token missing jti or sub")
	}
	return version, jti, userID, nil
}

// claimInt64 coerces a JWT numeric claim, which arrives as float64 once
// decoded through encoding/json, back to an integer.
func claimInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("token: rtv claim has unexpected type %T", v)
	}
}

func asRotateError(err error, target **rotator.RotateError) bool {
	re, ok := err.(*rotator.RotateError)
	if !ok {
		return false
	}
	*target = re
	return true
}
