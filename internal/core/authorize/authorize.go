// Package authorize implements the Authorization Endpoint (C8): the
// twelve-step validation and code-minting pipeline that every other
// front-door component (C3, C4, C5, C6, C7, C9) feeds into.
//
// Grounded on the teacher's handler/logic split (services/gateway
// handler+logic pairs take a decoded request struct, run a single
// logic.*Logic method, and return a response or error), collapsed here
// into one Process call since the pipeline is a single linear sequence
// rather than a CRUD verb.
package authorize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nordauth/oidcore/internal/core/clients"
	"github.com/nordauth/oidcore/internal/core/codestore"
	"github.com/nordauth/oidcore/internal/core/dpop"
	"github.com/nordauth/oidcore/internal/core/par"
	"github.com/nordauth/oidcore/internal/core/profile"
	"github.com/nordauth/oidcore/internal/core/reqobj"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

// Request is the raw, not-yet-validated parameter bundle: the query
// string for a GET, or the decoded form body for a POST, with a pushed
// request_uri resolved in by the caller before Process is invoked.
type Request struct {
	Params          map[string]string
	RequestURI      string // non-empty when this came from PAR
	ClientKeyHeader string // JKT of the DPoP proof presented with this request, if any
}

// SessionResolver resolves the end-user session backing an interactive
// authorization request. In production this is backed by whatever
// first-party login/consent UI fronts this endpoint; Process treats a
// nil Session as "no active session" and reports LoginRequired.
type SessionResolver interface {
	Resolve(ctx context.Context, params map[string]string) (*Session, error)
}

// Session describes the authenticated end-user and the consent already
// on file, as resolved by the SessionResolver.
type Session struct {
	Subject       string
	AuthTime      time.Time
	ACR           string
	ConsentScopes []string
}

// Outcome is the result of a successful authorization request: a 302
// redirect carrying either a code or an error per OAuth 2.0 §4.1.2/§4.1.2.1.
type Outcome struct {
	RedirectURI string
	Code        string
	State       string
	Issuer      string // set when the active profile requires FAPI 2.0's iss echo
}

// Error is a classified authorization failure. Errors discovered before
// the redirect_uri has been validated must never be redirected (spec
// §4.8's safety rule) and are surfaced as RedirectSafe=false.
type Error struct {
	Code         string // OAuth2 error code, e.g. "invalid_request", "login_required"
	Description  string
	RedirectURI  string
	State        string
	RedirectSafe bool
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Description) }

// Deps bundles every component the endpoint depends on.
type Deps struct {
	Clients     *clients.Registry
	PAR         *par.Store
	Codes       *codestore.Store
	Profiles    *profile.Engine
	KeyResolver reqobj.ClientKeyResolver
	Sessions    SessionResolver
	DPoPNonces  dpop.NonceCache
	Issuer      string
}

// Endpoint is C8.
type Endpoint struct {
	deps Deps
}

// New builds an Endpoint.
func New(deps Deps) *Endpoint {
	return &Endpoint{deps: deps}
}

// Process runs the full request-validation and code-issuance pipeline
// described in spec §4.8, in this order: PAR resolution, client_id
// lookup, JAR overlay (which needs the client's keys), redirect_uri
// validation (errors up to here are never redirected), then
// response_type, scope, PKCE, FAPI, and session checks (safe to
// redirect on failure).
func (e *Endpoint) Process(ctx context.Context, req Request) (*Outcome, error) {
	params := req.Params

	// Step 1: resolve a pushed request, if this is a PAR-backed call.
	if req.RequestURI != "" {
		pushed, err := e.deps.PAR.Consume(req.RequestURI)
		if err != nil {
			return nil, &Error{Code: "server_error", Description: err.Error()}
		}
		if pushed == nil {
			return nil, &Error{Code: "invalid_request", Description: "unknown or expired request_uri"}
		}
		if cid := params["client_id"]; cid != "" && cid != pushed.ClientID {
			return nil, &Error{Code: "invalid_request", Description: "client_id does not match pushed request"}
		}
		merged := make(map[string]string, len(pushed.Params)+len(params))
		for k, v := range pushed.Params {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		params = merged
	}

	// Step 2: client_id must resolve to a registered client before
	// anything else is trusted, including the redirect_uri itself.
	clientID := params["client_id"]
	if clientID == "" {
		return nil, &Error{Code: "invalid_request", Description: "missing client_id"}
	}
	client, err := e.deps.Clients.Load(ctx, clientID)
	if err != nil || client == nil {
		return nil, &Error{Code: "invalid_request", Description: "unknown client_id"}
	}

	// Step 3: JAR overlay, now that we can resolve the client's key.
	if reqJWT := params["request"]; reqJWT != "" {
		current := e.deps.Profiles.Current()
		bundle, err := reqobj.Parse(ctx, reqJWT, client, e.deps.KeyResolver, current.AllowNoneAlgorithm)
		if err != nil {
			return nil, &Error{Code: "invalid_request_object", Description: err.Error()}
		}
		params = reqobj.Overlay(params, bundle)
	}

	// Step 4: redirect_uri must be an exact, registered match. Only
	// after this succeeds is it safe to deliver errors by redirect.
	redirectURI := params["redirect_uri"]
	if !containsString(client.RedirectURIs, redirectURI) {
		return nil, &Error{Code: "invalid_request", Description: "redirect_uri is not registered for this client"}
	}
	state := params["state"]

	fail := func(code, desc string) (*Outcome, error) {
		return nil, &Error{Code: code, Description: desc, RedirectURI: redirectURI, State: state, RedirectSafe: true}
	}

	// Step 5: response_type.
	if params["response_type"] != "code" {
		return fail("unsupported_response_type", "only response_type=code is supported")
	}

	// Step 6: scope/PKCE/FAPI per the active profile.
	current := e.deps.Profiles.Current()
	scope := strings.Fields(params["scope"])
	if !containsString(scope, "openid") {
		return fail("invalid_scope", "openid scope is required")
	}

	codeChallenge := params["code_challenge"]
	codeChallengeMethod := params["code_challenge_method"]
	if codeChallengeMethod == "" {
		codeChallengeMethod = "plain"
	}
	if client.RequirePKCE || current.RequirePAR {
		if codeChallenge == "" {
			return fail("invalid_request", "code_challenge is required")
		}
		if !current.PKCEMethodAllowed(codeChallengeMethod) {
			return fail("invalid_request", fmt.Sprintf("code_challenge_method %q not permitted", codeChallengeMethod))
		}
	}

	if current.RequirePAR && req.RequestURI == "" {
		return fail("invalid_request", "this profile requires Pushed Authorization Requests")
	}

	// Step 7: nonce required when response_type includes id_token; this
	// profile only issues code, so nonce is optional but, if present,
	// must be bound onto the minted code for the token response.
	nonce := params["nonce"]

	// Step 8: prompt/max_age and session resolution. prompt=none with
	// no session is an immediate, redirect-safe login_required error per
	// OIDC Core §3.1.2.1. acr_values and id_token_hint are not read or
	// validated here.
	prompt := params["prompt"]
	var session *Session
	if e.deps.Sessions != nil {
		session, err = e.deps.Sessions.Resolve(ctx, params)
		if err != nil {
			return nil, &Error{Code: "server_error", Description: err.Error(), RedirectURI: redirectURI, State: state, RedirectSafe: true}
		}
	}
	if session == nil {
		if prompt == "none" {
			return fail("login_required", "no active session and prompt=none was requested")
		}
		return fail("login_required", "interactive authentication is required")
	}
	if prompt == "login" {
		return fail("login_required", "prompt=login requires a fresh authentication")
	}
	if maxAge := params["max_age"]; maxAge != "" {
		if d, perr := time.ParseDuration(maxAge + "s"); perr == nil && time.Since(session.AuthTime) > d {
			return fail("login_required", "authentication exceeds max_age")
		}
	}
	if !isSubset(scope, session.ConsentScopes) {
		if prompt == "none" {
			return fail("consent_required", "requested scope exceeds granted consent and prompt=none was requested")
		}
		return fail("consent_required", "user consent is required for the requested scope")
	}

	// Step 9: DPoP binding, if the client presented a proof at this
	// front channel (FAPI 2.0 DPoP profile binds the authorization code
	// to the same key used at the token endpoint).
	dpopJKT := req.ClientKeyHeader

	// Step 10: claims parameter must parse as an object containing only
	// userinfo/id_token sections (§4.8 step 7); this endpoint does not
	// itself interpret individual claim requests, only validates the
	// shape and carries the raw JSON for the Token/UserInfo layers to
	// project.
	claimsJSON := params["claims"]
	if err := validateClaimsParam(claimsJSON); err != nil {
		return fail("invalid_request", err.Error())
	}

	// Step 11: mint the code.
	code := &oidctypes.AuthorizationCode{
		Code:                uuid.NewString(),
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		Sub:                 session.Subject,
		Nonce:               nonce,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		ClaimsJSON:          claimsJSON,
		DPoPJKT:             dpopJKT,
		ACR:                 session.ACR,
		AuthTime:            session.AuthTime,
	}
	if err := e.deps.Codes.Put(code); err != nil {
		return nil, &Error{Code: "server_error", Description: err.Error(), RedirectURI: redirectURI, State: state, RedirectSafe: true}
	}

	// Step 12: redirect with the code.
	out := &Outcome{RedirectURI: redirectURI, Code: code.Code, State: state}
	if current.RequireFAPIIss {
		out.Issuer = e.deps.Issuer
	}
	return out, nil
}

// RedirectURL renders an Outcome as a fully-formed redirect target.
func (o *Outcome) RedirectURL() string {
	u, err := url.Parse(o.RedirectURI)
	if err != nil {
		return o.RedirectURI
	}
	q := u.Query()
	q.Set("code", o.Code)
	if o.State != "" {
		q.Set("state", o.State)
	}
	if o.Issuer != "" {
		q.Set("iss", o.Issuer)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RedirectURL renders a redirect-safe Error as a redirect target
// carrying an OAuth2 error response; callers must check RedirectSafe
// first and render a direct HTTP error page otherwise.
func (e *Error) RedirectURL() string {
	u, err := url.Parse(e.RedirectURI)
	if err != nil {
		return e.RedirectURI
	}
	q := u.Query()
	q.Set("error", e.Code)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.State != "" {
		q.Set("state", e.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// validateClaimsParam enforces OIDC Core §5.5's claims request shape: a
// JSON object whose only top-level members are userinfo and id_token.
// An empty parameter is valid (no individual claims requested).
func validateClaimsParam(raw string) error {
	if raw == "" {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return fmt.Errorf("claims parameter must be a JSON object")
	}
	for key := range obj {
		if key != "userinfo" && key != "id_token" {
			return fmt.Errorf("claims parameter may only contain userinfo and id_token sections")
		}
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func isSubset(requested, granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	for _, r := range requested {
		if r == "openid" {
			continue
		}
		if _, ok := grantedSet[r]; !ok {
			return false
		}
	}
	return true
}

