package userinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/core/codec"
	"github.com/nordauth/oidcore/internal/core/keymanager"
)

type memClaimsSource struct {
	claims map[string]map[string]interface{}
}

func (m *memClaimsSource) ClaimsFor(_ context.Context, sub string, _ []string) (map[string]interface{}, error) {
	return m.claims[sub], nil
}

func setupVerifier(t *testing.T, source ClaimsSource) (*Verifier, *codec.Codec) {
	t.Helper()
	km, err := keymanager.New(keymanager.Config{Algorithm: "RS256"}, nil)
	require.NoError(t, err)
	c := codec.New("https://issuer.example", km, false)
	return New(c, "https://issuer.example/userinfo", nil, source), c
}

func accessTokenClaims(sub, scope, requestedClaims string) map[string]interface{} {
	now := time.Now()
	claims := map[string]interface{}{
		"iss":   "https://issuer.example",
		"sub":   sub,
		"aud":   "https://issuer.example/userinfo",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"scope": scope,
	}
	if requestedClaims != "" {
		claims["requested_claims"] = requestedClaims
	}
	return claims
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "https://issuer.example/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHandle_ProjectsGrantedScopeClaimsOnly(t *testing.T) {
	source := &memClaimsSource{claims: map[string]map[string]interface{}{
		"user-1": {"name": "Ada Lovelace", "email": "ada@example.com"},
	}}
	v, c := setupVerifier(t, source)

	token, err := c.Sign(accessTokenClaims("user-1", "openid profile", ""))
	require.NoError(t, err)

	result, err := v.Handle(context.Background(), bearerRequest(token), nil)
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.Subject)
	assert.Equal(t, "Ada Lovelace", result.Claims["name"])
	assert.NotContains(t, result.Claims, "email", "email scope was not granted")
}

func TestHandle_HonorsIndividuallyRequestedClaimOutsideGrantedScope(t *testing.T) {
	source := &memClaimsSource{claims: map[string]map[string]interface{}{
		"user-1": {"name": "Ada Lovelace", "email": "ada@example.com"},
	}}
	v, c := setupVerifier(t, source)

	token, err := c.Sign(accessTokenClaims("user-1", "openid", `{"userinfo":{"email":null}}`))
	require.NoError(t, err)

	result, err := v.Handle(context.Background(), bearerRequest(token), nil)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", result.Claims["email"])
	assert.NotContains(t, result.Claims, "name", "name was neither scoped nor individually requested")
}

func TestHandle_MalformedRequestedClaimsIsIgnoredNotFatal(t *testing.T) {
	source := &memClaimsSource{claims: map[string]map[string]interface{}{
		"user-1": {"email": "ada@example.com"},
	}}
	v, c := setupVerifier(t, source)

	token, err := c.Sign(accessTokenClaims("user-1", "openid", `not-json`))
	require.NoError(t, err)

	result, err := v.Handle(context.Background(), bearerRequest(token), nil)
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.Subject)
	assert.NotContains(t, result.Claims, "email")
}
