package authorize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/core/clients"
	"github.com/nordauth/oidcore/internal/core/codestore"
	"github.com/nordauth/oidcore/internal/core/par"
	"github.com/nordauth/oidcore/internal/core/profile"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

type memClientStore struct {
	records map[string]*oidctypes.ClientRecord
}

func (m *memClientStore) GetClient(_ context.Context, clientID string) (*oidctypes.ClientRecord, error) {
	return m.records[clientID], nil
}

type alwaysSession struct {
	session *Session
}

func (a *alwaysSession) Resolve(_ context.Context, _ map[string]string) (*Session, error) {
	return a.session, nil
}

func setupTestEndpoint(t *testing.T, session *Session) (*Endpoint, *oidctypes.ClientRecord) {
	t.Helper()
	client := &oidctypes.ClientRecord{
		ClientID:                "client-1",
		RedirectURIs:            []string{"https://app.example.com/cb"},
		TokenEndpointAuthMethod: "client_secret_basic",
		RequirePKCE:             true,
	}
	registry := clients.New(&memClientStore{records: map[string]*oidctypes.ClientRecord{"client-1": client}}, nil, "https://issuer.example.com/token")
	profiles := profile.NewEngine(profile.BasicOP)

	var sessions SessionResolver
	if session != nil {
		sessions = &alwaysSession{session: session}
	}

	ep := New(Deps{
		Clients:  registry,
		PAR:      par.New(par.NewMemoryBackend(), 2),
		Codes:    codestore.New(codestore.NewMemoryBackend(), 2, nil),
		Profiles: profiles,
		Sessions: sessions,
		Issuer:   "https://issuer.example.com",
	})
	return ep, client
}

func validParams() map[string]string {
	return map[string]string{
		"client_id":             "client-1",
		"redirect_uri":          "https://app.example.com/cb",
		"response_type":         "code",
		"scope":                 "openid profile",
		"state":                 "xyz",
		"code_challenge":        "a-reasonably-long-code-verifier-challenge-value-1234",
		"code_challenge_method": "S256",
	}
}

func TestProcess_HappyPathIssuesCode(t *testing.T) {
	session := &Session{Subject: "user-1", AuthTime: time.Now(), ConsentScopes: []string{"openid", "profile"}}
	ep, _ := setupTestEndpoint(t, session)

	out, err := ep.Process(context.Background(), Request{Params: validParams()})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Code)
	assert.Equal(t, "xyz", out.State)
	assert.Contains(t, out.RedirectURL(), "code=")
}

func TestProcess_UnknownClientIsRejectedBeforeRedirect(t *testing.T) {
	ep, _ := setupTestEndpoint(t, nil)
	params := validParams()
	params["client_id"] = "does-not-exist"

	_, err := ep.Process(context.Background(), Request{Params: params})
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.False(t, authErr.RedirectSafe, "an unresolved client must never be redirected to")
}

func TestProcess_UnregisteredRedirectURIIsRejectedBeforeRedirect(t *testing.T) {
	ep, _ := setupTestEndpoint(t, nil)
	params := validParams()
	params["redirect_uri"] = "https://evil.example.com/cb"

	_, err := ep.Process(context.Background(), Request{Params: params})
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.False(t, authErr.RedirectSafe)
}

func TestProcess_MissingPKCEChallengeIsRedirectSafe(t *testing.T) {
	session := &Session{Subject: "user-1", AuthTime: time.Now(), ConsentScopes: []string{"openid", "profile"}}
	ep, _ := setupTestEndpoint(t, session)
	params := validParams()
	delete(params, "code_challenge")

	_, err := ep.Process(context.Background(), Request{Params: params})
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.RedirectSafe)
	assert.Equal(t, "invalid_request", authErr.Code)
}

func TestProcess_NoSessionAndPromptNoneYieldsLoginRequired(t *testing.T) {
	ep, _ := setupTestEndpoint(t, nil)
	params := validParams()
	params["prompt"] = "none"

	_, err := ep.Process(context.Background(), Request{Params: params})
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "login_required", authErr.Code)
	assert.True(t, authErr.RedirectSafe)
}

func TestProcess_ConsentScopeMismatchRequiresConsent(t *testing.T) {
	session := &Session{Subject: "user-1", AuthTime: time.Now(), ConsentScopes: []string{"openid"}}
	ep, _ := setupTestEndpoint(t, session)

	_, err := ep.Process(context.Background(), Request{Params: validParams()})
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "consent_required", authErr.Code)
}

func TestProcess_ClaimsParameterWithUnknownSectionIsRejected(t *testing.T) {
	session := &Session{Subject: "user-1", AuthTime: time.Now(), ConsentScopes: []string{"openid", "profile"}}
	ep, _ := setupTestEndpoint(t, session)
	params := validParams()
	params["claims"] = `{"userinfo":{"email":null},"not_a_real_section":{}}`

	_, err := ep.Process(context.Background(), Request{Params: params})
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_request", authErr.Code)
	assert.True(t, authErr.RedirectSafe)
}

func TestProcess_ClaimsParameterIsCarriedOntoTheMintedCode(t *testing.T) {
	session := &Session{Subject: "user-1", AuthTime: time.Now(), ConsentScopes: []string{"openid", "profile"}}
	ep, _ := setupTestEndpoint(t, session)
	params := validParams()
	params["claims"] = `{"userinfo":{"email":null}}`

	out, err := ep.Process(context.Background(), Request{Params: params})
	require.NoError(t, err)

	_, record, err := ep.deps.Codes.Consume(out.Code, "issued-jti")
	require.NoError(t, err)
	assert.Equal(t, params["claims"], record.ClaimsJSON)
}

func TestProcess_ClientKeyHeaderIsBoundOntoTheMintedCode(t *testing.T) {
	session := &Session{Subject: "user-1", AuthTime: time.Now(), ConsentScopes: []string{"openid", "profile"}}
	ep, _ := setupTestEndpoint(t, session)

	out, err := ep.Process(context.Background(), Request{Params: validParams(), ClientKeyHeader: "jkt-value-from-dpop-header"})
	require.NoError(t, err)

	_, record, err := ep.deps.Codes.Consume(out.Code, "issued-jti")
	require.NoError(t, err)
	assert.Equal(t, "jkt-value-from-dpop-header", record.DPoPJKT)
}

func TestProcess_PushedAuthorizationRequestIsConsumedOnce(t *testing.T) {
	session := &Session{Subject: "user-1", AuthTime: time.Now(), ConsentScopes: []string{"openid", "profile"}}
	ep, _ := setupTestEndpoint(t, session)

	uri, err := ep.deps.PAR.Put("client-1", validParams())
	require.NoError(t, err)

	out, err := ep.Process(context.Background(), Request{RequestURI: uri})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Code)

	_, err = ep.Process(context.Background(), Request{RequestURI: uri})
	require.Error(t, err)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_request", authErr.Code)
}
