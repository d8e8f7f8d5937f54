package token

import (
	"context"
	"net/http"
	"time"

	"github.com/nordauth/oidcore/internal/core/codec"
)

// Revoke implements RFC 7009: revokes an access or refresh token. Per
// §2.2, revocation of a token that is already invalid, or that the
// client does not own, still returns success so the endpoint never
// leaks whether a token exists.
func (e *Endpoint) Revoke(ctx context.Context, req *http.Request) error {
	if err := req.ParseForm(); err != nil {
		return &Error{Code: "invalid_request", Description: err.Error()}
	}
	current := e.deps.Profiles.Current()
	outcome, err := e.deps.Clients.Authenticate(ctx, req, current.TokenEndpointAuthMethods)
	if err != nil {
		return &Error{Code: "invalid_client", Description: err.Error()}
	}

	tok := req.PostForm.Get("token")
	if tok == "" {
		return &Error{Code: "invalid_request", Description: "missing token"}
	}

	claims, err := e.deps.Codec.Verify(tok, "", codec.ContextAccessToken, nil)
	if err != nil {
		return nil
	}

	if rtv, ok := claims["rtv"]; ok {
		version, verr := claimInt64(rtv)
		userID, _ := claims.GetSubject()
		if verr != nil || userID == "" {
			return nil
		}
		if e.deps.Rotator != nil {
			v, vErr := e.deps.Rotator.Validate(userID, outcome.Client.ClientID, version)
			if vErr == nil && v != nil && v.Valid {
				_ = e.deps.Rotator.RevokeFamily(userID, outcome.Client.ClientID, "client_requested_revocation")
			}
		}
		return nil
	}

	if clientID, _ := claims["client_id"].(string); clientID != "" && clientID != outcome.Client.ClientID {
		return nil
	}
	jti, _ := claims["jti"].(string)
	exp, _ := claims.GetExpirationTime()
	if jti != "" && e.deps.Revocation != nil {
		expiresAt := time.Now().Add(time.Hour)
		if exp != nil {
			expiresAt = exp.Time
		}
		_ = e.deps.Revocation.Revoke(ctx, jti, expiresAt)
	}
	return nil
}
