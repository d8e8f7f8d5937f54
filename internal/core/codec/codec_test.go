package codec

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/core/keymanager"
)

func setupTestCodec(t *testing.T, alg string, allowNone bool) *Codec {
	t.Helper()
	km, err := keymanager.New(keymanager.Config{Algorithm: alg}, nil)
	require.NoError(t, err)
	return New("https://issuer.example", km, allowNone)
}

func claimsFor(sub, aud string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": "https://issuer.example",
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	for _, alg := range []string{"RS256", "ES256", "RS384", "ES384", "RS512", "ES512"} {
		t.Run(alg, func(t *testing.T) {
			c := setupTestCodec(t, alg, false)
			signed, err := c.Sign(claimsFor("user-1", "client-1"))
			require.NoError(t, err)

			claims, err := c.Verify(signed, "client-1", ContextAccessToken, nil)
			require.NoError(t, err)
			assert.Equal(t, "user-1", claims["sub"])
		})
	}
}

func TestVerify_RejectsBitFlip(t *testing.T) {
	c := setupTestCodec(t, "RS256", false)
	signed, err := c.Sign(claimsFor("user-1", "client-1"))
	require.NoError(t, err)

	tampered := signed[:len(signed)-2] + "xx"
	_, err = c.Verify(tampered, "client-1", ContextAccessToken, nil)
	assert.Error(t, err)
}

func TestVerify_RejectsWrongAudience(t *testing.T) {
	c := setupTestCodec(t, "RS256", false)
	signed, err := c.Sign(claimsFor("user-1", "client-1"))
	require.NoError(t, err)

	_, err = c.Verify(signed, "someone-else", ContextAccessToken, nil)
	require.Error(t, err)
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrBadClaims, verr.Kind)
}

func TestVerify_RejectsAlgNone(t *testing.T) {
	c := setupTestCodec(t, "RS256", false)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claimsFor("user-1", "client-1"))
	signed, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.Verify(signed, "client-1", ContextAccessToken, nil)
	require.Error(t, err)
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrAlgNotAllowed, verr.Kind)
}

func TestVerify_AllowsAlgNoneInDevelopmentMode(t *testing.T) {
	c := setupTestCodec(t, "RS256", true)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claimsFor("user-1", "client-1"))
	signed, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := c.Verify(signed, "client-1", ContextAccessToken, nil)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestVerify_RejectsDisallowedAlgorithm(t *testing.T) {
	c := setupTestCodec(t, "RS256", false)
	signed, err := c.Sign(claimsFor("user-1", "client-1"))
	require.NoError(t, err)

	_, err = c.Verify(signed, "client-1", ContextAccessToken, []string{"ES256"})
	assert.Error(t, err)
}

func TestATHash_VariesByAlgorithm(t *testing.T) {
	h256, err := ATHash("token-value", "RS256")
	require.NoError(t, err)
	h512, err := ATHash("token-value", "RS512")
	require.NoError(t, err)
	assert.NotEqual(t, h256, h512)
	assert.NotEmpty(t, h256)
}
