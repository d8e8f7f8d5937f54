package reqobj

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

type staticResolver struct {
	key interface{}
}

func (s staticResolver) ResolveKey(_ context.Context, _ *oidctypes.ClientRecord, _ string) (interface{}, error) {
	return s.key, nil
}

func TestParse_SignedRequestObject(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	claims := jwt.MapClaims{"client_id": "c1", "redirect_uri": "https://rp/cb", "state": "S"}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)

	bundle, err := Parse(context.Background(), signed, &oidctypes.ClientRecord{ClientID: "c1"}, staticResolver{key: &priv.PublicKey}, false)
	require.NoError(t, err)
	assert.Equal(t, "c1", bundle["client_id"])
	assert.Equal(t, "S", bundle["state"])
}

func TestParse_RejectsAlgNoneInProduction(t *testing.T) {
	claims := jwt.MapClaims{"client_id": "c1"}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Parse(context.Background(), signed, &oidctypes.ClientRecord{ClientID: "c1"}, staticResolver{}, false)
	assert.Error(t, err)
}

func TestOverlay_RequestObjectWins(t *testing.T) {
	base := map[string]string{"scope": "openid", "state": "from-query"}
	ro := map[string]string{"state": "from-request-object"}
	merged := Overlay(base, ro)
	assert.Equal(t, "from-request-object", merged["state"])
	assert.Equal(t, "openid", merged["scope"])
}
