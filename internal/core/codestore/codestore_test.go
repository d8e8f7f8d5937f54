package codestore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

func TestConsume_FreshThenReuseDetected(t *testing.T) {
	var reusedRecord *oidctypes.AuthorizationCode
	store := New(NewMemoryBackend(), 4, func(r *oidctypes.AuthorizationCode) { reusedRecord = r })

	rec := &oidctypes.AuthorizationCode{Code: "abc", ClientID: "c1"}
	require.NoError(t, store.Put(rec))

	result, got, err := store.Consume("abc", "jti-1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, result)
	assert.Equal(t, "jti-1", got.IssuedTokenJTI)

	result2, got2, err := store.Consume("abc", "jti-2")
	require.NoError(t, err)
	assert.Equal(t, Reused, result2)
	assert.Equal(t, "jti-1", got2.IssuedTokenJTI)
	require.NotNil(t, reusedRecord)
	assert.Equal(t, "jti-1", reusedRecord.IssuedTokenJTI)
}

func TestConsume_NotFound(t *testing.T) {
	store := New(NewMemoryBackend(), 4, nil)
	result, rec, err := store.Consume("missing", "jti")
	require.NoError(t, err)
	assert.Equal(t, NotFound, result)
	assert.Nil(t, rec)
}

func TestConsume_ExactlyOnceUnderConcurrency(t *testing.T) {
	store := New(NewMemoryBackend(), 8, nil)
	require.NoError(t, store.Put(&oidctypes.AuthorizationCode{Code: "race"}))

	const attempts = 50
	results := make([]ConsumeResult, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			r, _, err := store.Consume("race", "jti")
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		if r == Fresh {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one concurrent consumer should see Fresh")
}
