package keymanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := New(cfg, nil)
	require.NoError(t, err)
	return m
}

func TestNew_MintsActiveKeyWhenStoreEmpty(t *testing.T) {
	m := setupTestManager(t, Config{Algorithm: "RS256"})

	active := m.ActiveKey()
	require.NotNil(t, active)
	assert.True(t, active.Active)
	assert.Equal(t, "RS256", active.Alg)
	assert.NotEmpty(t, active.Kid)
}

func TestRotate_DeactivatesPreviousAndKeepsItInJWKS(t *testing.T) {
	m := setupTestManager(t, Config{Algorithm: "ES256", RetentionWindow: time.Hour})

	first := m.ActiveKey()
	second, err := m.Rotate()
	require.NoError(t, err)

	assert.NotEqual(t, first.Kid, second.Kid)
	assert.True(t, second.Active)

	reloadedFirst := m.Get(first.Kid)
	require.NotNil(t, reloadedFirst)
	assert.False(t, reloadedFirst.Active)
	require.NotNil(t, reloadedFirst.RetiredAt)

	jwks := m.AllPublicJWKs()
	assert.Len(t, jwks, 2)
}

func TestAllPublicJWKs_EvictsPastRetention(t *testing.T) {
	m := setupTestManager(t, Config{Algorithm: "RS256", RetentionWindow: 1 * time.Millisecond})

	old := m.ActiveKey()
	_, err := m.Rotate()
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	jwks := m.AllPublicJWKs()
	assert.Len(t, jwks, 1)

	_, err = m.Rotate()
	require.NoError(t, err)
	assert.Nil(t, m.Get(old.Kid))
}

func TestShouldRotate(t *testing.T) {
	m := setupTestManager(t, Config{Algorithm: "RS256", RotationInterval: time.Hour})
	assert.False(t, m.ShouldRotate())

	m.lastRotation = time.Now().Add(-2 * time.Hour)
	assert.True(t, m.ShouldRotate())
}

func TestGenerateKey_RejectsUnsupportedAlgorithm(t *testing.T) {
	_, err := generateKey("HS256")
	assert.Error(t, err)
}

func TestGenerateKey_AllSupportedAlgorithms(t *testing.T) {
	for _, alg := range []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"} {
		t.Run(alg, func(t *testing.T) {
			k, err := generateKey(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, k.Alg)
			assert.NotEmpty(t, k.PublicJWK)
		})
	}
}
