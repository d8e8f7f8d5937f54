package clients

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	josejwk "github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

type memoryStore struct {
	byID map[string]*oidctypes.ClientRecord
}

func (m *memoryStore) GetClient(_ context.Context, clientID string) (*oidctypes.ClientRecord, error) {
	rec, ok := m.byID[clientID]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

type memoryReplay struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryReplay) SeenBefore(clientID, jti string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	key := clientID + ":" + jti
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func formRequest(t *testing.T, values url.Values) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://as.example/token", strings.NewReader(values.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAuthenticate_ClientSecretPost(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	store := &memoryStore{byID: map[string]*oidctypes.ClientRecord{
		"c1": {ClientID: "c1", ClientSecretHash: hash, TokenEndpointAuthMethod: "client_secret_post"},
	}}
	reg := New(store, &memoryReplay{}, "https://as.example/token")

	req := formRequest(t, url.Values{"client_id": {"c1"}, "client_secret": {"s3cret"}})
	out, err := reg.Authenticate(context.Background(), req, []string{"client_secret_post"})
	require.NoError(t, err)
	assert.True(t, out.Authenticated)
	assert.Equal(t, "client_secret_post", out.Method)
}

func TestAuthenticate_ClientSecretPost_WrongSecret(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	store := &memoryStore{byID: map[string]*oidctypes.ClientRecord{
		"c1": {ClientID: "c1", ClientSecretHash: hash},
	}}
	reg := New(store, &memoryReplay{}, "https://as.example/token")

	req := formRequest(t, url.Values{"client_id": {"c1"}, "client_secret": {"wrong"}})
	_, err = reg.Authenticate(context.Background(), req, []string{"client_secret_post"})
	assert.Error(t, err)
}

func TestAuthenticate_NoneMethod_PublicClient(t *testing.T) {
	store := &memoryStore{byID: map[string]*oidctypes.ClientRecord{
		"public-1": {ClientID: "public-1", TokenEndpointAuthMethod: "none"},
	}}
	reg := New(store, &memoryReplay{}, "https://as.example/token")

	req := formRequest(t, url.Values{"client_id": {"public-1"}})
	out, err := reg.Authenticate(context.Background(), req, []string{"none"})
	require.NoError(t, err)
	assert.Equal(t, "none", out.Method)
}

func TestAuthenticate_NoneMethod_RejectedWhenProfileForbidsIt(t *testing.T) {
	store := &memoryStore{byID: map[string]*oidctypes.ClientRecord{
		"public-1": {ClientID: "public-1", TokenEndpointAuthMethod: "none"},
	}}
	reg := New(store, &memoryReplay{}, "https://as.example/token")

	req := formRequest(t, url.Values{"client_id": {"public-1"}})
	_, err := reg.Authenticate(context.Background(), req, []string{"private_key_jwt"})
	assert.Error(t, err)
}

func TestAuthenticate_PrivateKeyJWT(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pubJWK := josejwk.JSONWebKey{Key: &priv.PublicKey, KeyID: "k1", Algorithm: "ES256", Use: "sig"}
	set := josejwk.JSONWebKeySet{Keys: []josejwk.JSONWebKey{pubJWK}}
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	var jwksMap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &jwksMap))

	store := &memoryStore{byID: map[string]*oidctypes.ClientRecord{
		"conf-1": {ClientID: "conf-1", TokenEndpointAuthMethod: "private_key_jwt", JWKS: jwksMap},
	}}
	reg := New(store, &memoryReplay{}, "https://as.example/token")

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "conf-1", "sub": "conf-1", "aud": "https://as.example/token",
		"exp": now.Add(time.Minute).Unix(), "iat": now.Unix(), "jti": "assertion-1",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = "k1"
	assertion, err := tok.SignedString(priv)
	require.NoError(t, err)

	req := formRequest(t, url.Values{
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {assertion},
	})
	out, err := reg.Authenticate(context.Background(), req, []string{"private_key_jwt"})
	require.NoError(t, err)
	assert.Equal(t, "private_key_jwt", out.Method)

	req2 := formRequest(t, url.Values{
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {assertion},
	})
	_, err = reg.Authenticate(context.Background(), req2, []string{"private_key_jwt"})
	assert.Error(t, err, "replayed jti must be rejected")
}
