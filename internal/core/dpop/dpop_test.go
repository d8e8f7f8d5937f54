package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	josejwk "github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintProof(t *testing.T, htm, htu string, iat time.Time, accessToken string) (string, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pubJWK := josejwk.JSONWebKey{Key: &priv.PublicKey, Algorithm: "ES256", Use: "sig"}
	raw, err := pubJWK.MarshalJSON()
	require.NoError(t, err)
	var jwkMap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &jwkMap))

	claims := jwt.MapClaims{
		"htm": htm,
		"htu": htu,
		"iat": iat.Unix(),
		"jti": uuid.NewString(),
	}
	if accessToken != "" {
		sum := sha256.Sum256([]byte(accessToken))
		claims["ath"] = base64.RawURLEncoding.EncodeToString(sum[:])
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = jwkMap

	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed, priv
}

func TestVerify_AcceptsWellFormedProof(t *testing.T) {
	proof, _ := mintProof(t, "POST", "https://as.example/token", time.Now(), "")
	cache := newMemoryNonceCache()

	res, err := Verify(proof, "post", "https://as.example/token?foo=bar", "", cache)
	require.NoError(t, err)
	assert.NotEmpty(t, res.JKT)
}

func TestVerify_RejectsReplayedJTI(t *testing.T) {
	proof, _ := mintProof(t, "POST", "https://as.example/token", time.Now(), "")
	cache := newMemoryNonceCache()

	_, err := Verify(proof, "POST", "https://as.example/token", "", cache)
	require.NoError(t, err)

	_, err = Verify(proof, "POST", "https://as.example/token", "", cache)
	assert.Error(t, err)
}

func TestVerify_RejectsMethodMismatch(t *testing.T) {
	proof, _ := mintProof(t, "POST", "https://as.example/token", time.Now(), "")
	_, err := Verify(proof, "GET", "https://as.example/token", "", newMemoryNonceCache())
	assert.Error(t, err)
}

func TestVerify_RejectsStaleIat(t *testing.T) {
	proof, _ := mintProof(t, "POST", "https://as.example/token", time.Now().Add(-5*time.Minute), "")
	_, err := Verify(proof, "POST", "https://as.example/token", "", newMemoryNonceCache())
	assert.Error(t, err)
}

func TestVerify_ChecksAccessTokenBinding(t *testing.T) {
	proof, _ := mintProof(t, "GET", "https://as.example/userinfo", time.Now(), "the-access-token")
	res, err := Verify(proof, "GET", "https://as.example/userinfo", "the-access-token", newMemoryNonceCache())
	require.NoError(t, err)
	assert.NotEmpty(t, res.JKT)

	_, err = Verify(proof, "GET", "https://as.example/userinfo", "different-token", newMemoryNonceCache())
	assert.Error(t, err)
}

func TestVerify_RejectsPrivateKeyInJWKHeader(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	privJWK := josejwk.JSONWebKey{Key: priv, Algorithm: "ES256", Use: "sig"}
	raw, err := privJWK.MarshalJSON()
	require.NoError(t, err)
	var jwkMap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &jwkMap))

	claims := jwt.MapClaims{
		"htm": "GET",
		"htu": "https://as.example/x",
		"iat": time.Now().Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = jwkMap
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	_, err = Verify(signed, "GET", "https://as.example/x", "", newMemoryNonceCache())
	assert.Error(t, err)
}
