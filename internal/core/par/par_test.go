package par

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutConsume_SingleUse(t *testing.T) {
	store := New(NewMemoryBackend(), 4)

	uri, err := store.Put("c1", map[string]string{"scope": "openid", "state": "S"})
	require.NoError(t, err)
	assert.Contains(t, uri, "urn:ietf:params:oauth:request_uri:")

	req, err := store.Consume(uri)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "c1", req.ClientID)
	assert.Equal(t, "openid", req.Params["scope"])

	req2, err := store.Consume(uri)
	require.NoError(t, err)
	assert.Nil(t, req2, "second consume must return nothing")
}

func TestConsume_UnknownURI(t *testing.T) {
	store := New(NewMemoryBackend(), 4)
	req, err := store.Consume("urn:ietf:params:oauth:request_uri:nope")
	require.NoError(t, err)
	assert.Nil(t, req)
}
