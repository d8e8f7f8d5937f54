package token

import (
	"context"
	"net/http"
	"strings"

	"github.com/nordauth/oidcore/internal/core/codec"
)

// IntrospectionResponse is the RFC 7662 §2.2 response body. Every
// token-level failure in Introspect (failed verification, revoked jti,
// invalid refresh family) returns {active: false} in this shape; a
// malformed form, failed client authentication, or missing token
// parameter returns an OAuth2 error instead.
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Iss       string   `json:"iss,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Aud       []string `json:"aud,omitempty"`
}

// Introspect implements RFC 7662: reports whether token (access or
// refresh) is currently active. Only the resource's registered clients
// may introspect, authenticated the same way as the token grant.
func (e *Endpoint) Introspect(ctx context.Context, req *http.Request) (*IntrospectionResponse, error) {
	if err := req.ParseForm(); err != nil {
		return nil, &Error{Code: "invalid_request", Description: err.Error()}
	}
	current := e.deps.Profiles.Current()
	if _, err := e.deps.Clients.Authenticate(ctx, req, current.TokenEndpointAuthMethods); err != nil {
		return nil, &Error{Code: "invalid_client", Description: err.Error()}
	}

	tok := req.PostForm.Get("token")
	if tok == "" {
		return nil, &Error{Code: "invalid_request", Description: "missing token"}
	}

	claims, err := e.deps.Codec.Verify(tok, "", codec.ContextAccessToken, nil)
	if err != nil {
		return &IntrospectionResponse{Active: false}, nil
	}

	if rtv, ok := claims["rtv"]; ok {
		version, verr := claimInt64(rtv)
		userID, _ := claims.GetSubject()
		clientID, _ := claims["client_id"].(string)
		if verr != nil || userID == "" || e.deps.Rotator == nil {
			return &IntrospectionResponse{Active: false}, nil
		}
		v, err := e.deps.Rotator.Validate(userID, clientID, version)
		if err != nil || v == nil || !v.Valid {
			return &IntrospectionResponse{Active: false}, nil
		}
		return &IntrospectionResponse{
			Active:    true,
			Scope:     strings.Join(v.AllowedScope, " "),
			ClientID:  clientID,
			Sub:       userID,
			Exp:       v.ExpiresAt.Unix(),
			TokenType: "refresh_token",
		}, nil
	}

	jti, _ := claims["jti"].(string)
	if e.deps.Revocation != nil && jti != "" {
		revoked, err := e.deps.Revocation.IsRevoked(ctx, jti)
		if err != nil || revoked {
			return &IntrospectionResponse{Active: false}, nil
		}
	}

	sub, _ := claims.GetSubject()
	iss, _ := claims.GetIssuer()
	aud, _ := claims.GetAudience()
	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()
	scope, _ := claims["scope"].(string)
	clientID, _ := claims["client_id"].(string)

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     scope,
		ClientID:  clientID,
		Sub:       sub,
		Iss:       iss,
		Aud:       aud,
		TokenType: "access_token",
	}
	if exp != nil {
		resp.Exp = exp.Unix()
	}
	if iat != nil {
		resp.Iat = iat.Unix()
	}
	return resp, nil
}
