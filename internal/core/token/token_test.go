package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/core/clients"
	"github.com/nordauth/oidcore/internal/core/codec"
	"github.com/nordauth/oidcore/internal/core/codestore"
	"github.com/nordauth/oidcore/internal/core/keymanager"
	"github.com/nordauth/oidcore/internal/core/profile"
	"github.com/nordauth/oidcore/internal/core/rotator"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

type memClientStore struct {
	records map[string]*oidctypes.ClientRecord
}

func (m *memClientStore) GetClient(_ context.Context, clientID string) (*oidctypes.ClientRecord, error) {
	return m.records[clientID], nil
}

type memRevocationTable struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newMemRevocationTable() *memRevocationTable {
	return &memRevocationTable{revoked: make(map[string]time.Time)}
}

func (m *memRevocationTable) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = expiresAt
	return nil
}

func (m *memRevocationTable) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func setupTestEndpoint(t *testing.T) (*Endpoint, *oidctypes.ClientRecord, *codestore.Store, *memRevocationTable) {
	t.Helper()

	secretHash, err := clients.HashSecret("s3cret-value")
	require.NoError(t, err)
	client := &oidctypes.ClientRecord{
		ClientID:                "client-1",
		ClientSecretHash:        secretHash,
		RedirectURIs:            []string{"https://app.example.com/cb"},
		TokenEndpointAuthMethod: "client_secret_basic",
	}
	registry := clients.New(&memClientStore{records: map[string]*oidctypes.ClientRecord{"client-1": client}}, nil, "https://issuer.example.com/token")

	keys, err := keymanager.New(keymanager.Config{Algorithm: "RS256"}, nil)
	require.NoError(t, err)
	c := codec.New("https://issuer.example.com", keys, false)

	codes := codestore.New(codestore.NewMemoryBackend(), 2, nil)
	profiles := profile.NewEngine(profile.BasicOP)
	revocation := newMemRevocationTable()
	rot := rotator.New(rotator.NewMemoryBackend(), 2, nil)

	ep := New(Deps{
		Clients:    registry,
		Codes:      codes,
		Codec:      c,
		Profiles:   profiles,
		Rotator:    rot,
		Revocation: revocation,
		Issuer:     "https://issuer.example.com",
	})
	return ep, client, codes, revocation
}

func formRequest(t *testing.T, values url.Values, basicUser, basicPass string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://issuer.example.com/token", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicUser != "" {
		req.SetBasicAuth(basicUser, basicPass)
	}
	return req
}

func TestHandle_AuthorizationCodeGrant_IssuesAccessAndIDToken(t *testing.T) {
	ep, _, codes, _ := setupTestEndpoint(t)

	code := &oidctypes.AuthorizationCode{
		Code:        "auth-code-1",
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/cb",
		Scope:       []string{"openid", "profile"},
		Sub:         "user-1",
		AuthTime:    time.Now(),
	}
	require.NoError(t, codes.Put(code))

	values := url.Values{"grant_type": {"authorization_code"}, "code": {"auth-code-1"}, "redirect_uri": {"https://app.example.com/cb"}}
	resp, err := ep.Handle(context.Background(), formRequest(t, values, "client-1", "s3cret-value"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.IDToken)
	assert.Equal(t, "Bearer", resp.TokenType)
}

func TestHandle_AuthorizationCodeGrant_RejectsReplayedCode(t *testing.T) {
	ep, _, codes, revocation := setupTestEndpoint(t)

	code := &oidctypes.AuthorizationCode{
		Code:        "auth-code-2",
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/cb",
		Scope:       []string{"openid"},
		Sub:         "user-1",
		AuthTime:    time.Now(),
	}
	require.NoError(t, codes.Put(code))

	values := url.Values{"grant_type": {"authorization_code"}, "code": {"auth-code-2"}, "redirect_uri": {"https://app.example.com/cb"}}
	_, err := ep.Handle(context.Background(), formRequest(t, values, "client-1", "s3cret-value"))
	require.NoError(t, err)

	_, err = ep.Handle(context.Background(), formRequest(t, values, "client-1", "s3cret-value"))
	require.Error(t, err)
	var tokErr *Error
	require.ErrorAs(t, err, &tokErr)
	assert.Equal(t, "invalid_grant", tokErr.Code)
	_ = revocation
}

func TestHandle_OfflineAccessGrantsRefreshToken_ThenRotatesAndRejectsReuse(t *testing.T) {
	ep, _, codes, _ := setupTestEndpoint(t)

	code := &oidctypes.AuthorizationCode{
		Code:        "auth-code-3",
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/cb",
		Scope:       []string{"openid", "offline_access"},
		Sub:         "user-1",
		AuthTime:    time.Now(),
	}
	require.NoError(t, codes.Put(code))

	values := url.Values{"grant_type": {"authorization_code"}, "code": {"auth-code-3"}, "redirect_uri": {"https://app.example.com/cb"}}
	first, err := ep.Handle(context.Background(), formRequest(t, values, "client-1", "s3cret-value"))
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	refreshValues := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {first.RefreshToken}}
	second, err := ep.Handle(context.Background(), formRequest(t, refreshValues, "client-1", "s3cret-value"))
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	reuse, err := ep.Handle(context.Background(), formRequest(t, refreshValues, "client-1", "s3cret-value"))
	assert.Nil(t, reuse)
	require.Error(t, err)
	var tokErr *Error
	require.ErrorAs(t, err, &tokErr)
	assert.Equal(t, "invalid_grant", tokErr.Code)
}

func TestHandle_RefreshTokenIsASignedJWTCarryingRtvAndJti(t *testing.T) {
	ep, _, codes, _ := setupTestEndpoint(t)

	code := &oidctypes.AuthorizationCode{
		Code:        "auth-code-rt",
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/cb",
		Scope:       []string{"openid", "offline_access"},
		Sub:         "user-1",
		AuthTime:    time.Now(),
	}
	require.NoError(t, codes.Put(code))

	values := url.Values{"grant_type": {"authorization_code"}, "code": {"auth-code-rt"}, "redirect_uri": {"https://app.example.com/cb"}}
	resp, err := ep.Handle(context.Background(), formRequest(t, values, "client-1", "s3cret-value"))
	require.NoError(t, err)
	require.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, 3, len(strings.Split(resp.RefreshToken, ".")), "a refresh token must be a compact JWS, not an opaque string")

	claims, err := ep.deps.Codec.Verify(resp.RefreshToken, "", codec.ContextRefreshToken, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, claims["rtv"])
	assert.NotEmpty(t, claims["jti"])
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, "client-1", claims["client_id"])
}

func TestIntrospect_ActiveAccessToken(t *testing.T) {
	ep, _, codes, _ := setupTestEndpoint(t)

	code := &oidctypes.AuthorizationCode{
		Code: "auth-code-4", ClientID: "client-1", RedirectURI: "https://app.example.com/cb",
		Scope: []string{"openid"}, Sub: "user-1", AuthTime: time.Now(),
	}
	require.NoError(t, codes.Put(code))
	resp, err := ep.Handle(context.Background(), formRequest(t, url.Values{
		"grant_type": {"authorization_code"}, "code": {"auth-code-4"}, "redirect_uri": {"https://app.example.com/cb"},
	}, "client-1", "s3cret-value"))
	require.NoError(t, err)

	intro, err := ep.Introspect(context.Background(), formRequest(t, url.Values{"token": {resp.AccessToken}}, "client-1", "s3cret-value"))
	require.NoError(t, err)
	assert.True(t, intro.Active)
	assert.Equal(t, "user-1", intro.Sub)
}

func TestRevoke_AccessTokenBecomesInactiveOnIntrospection(t *testing.T) {
	ep, _, codes, _ := setupTestEndpoint(t)

	code := &oidctypes.AuthorizationCode{
		Code: "auth-code-5", ClientID: "client-1", RedirectURI: "https://app.example.com/cb",
		Scope: []string{"openid"}, Sub: "user-1", AuthTime: time.Now(),
	}
	require.NoError(t, codes.Put(code))
	resp, err := ep.Handle(context.Background(), formRequest(t, url.Values{
		"grant_type": {"authorization_code"}, "code": {"auth-code-5"}, "redirect_uri": {"https://app.example.com/cb"},
	}, "client-1", "s3cret-value"))
	require.NoError(t, err)

	err = ep.Revoke(context.Background(), formRequest(t, url.Values{"token": {resp.AccessToken}}, "client-1", "s3cret-value"))
	require.NoError(t, err)

	intro, err := ep.Introspect(context.Background(), formRequest(t, url.Values{"token": {resp.AccessToken}}, "client-1", "s3cret-value"))
	require.NoError(t, err)
	assert.False(t, intro.Active)
}
