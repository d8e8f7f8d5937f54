package rotator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

func setupTestRotator(t *testing.T) (*Rotator, func() []string) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []string
	)
	r := New(NewMemoryBackend(), 4, func(event string, _ *oidctypes.TokenFamily, _ map[string]interface{}) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})
	return r, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), events...)
	}
}

func TestCreateThenRotate_VersionIncreasesWithNoGaps(t *testing.T) {
	r, _ := setupTestRotator(t)

	created, err := r.Create("user-1", "client-1", []string{"openid", "profile"}, time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.Version)

	rotated, err := r.Rotate(created.Version, created.NewJTI, "user-1", "client-1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rotated.Version)
	assert.NotEqual(t, created.NewJTI, rotated.NewJTI)

	rotated2, err := r.Rotate(rotated.Version, rotated.NewJTI, "user-1", "client-1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rotated2.Version)
}

func TestRotate_ReuseOfSupersededTokenRevokesFamily(t *testing.T) {
	r, events := setupTestRotator(t)

	created, err := r.Create("user-1", "client-1", []string{"openid"}, time.Hour)
	require.NoError(t, err)

	_, err = r.Rotate(created.Version, created.NewJTI, "user-1", "client-1", nil)
	require.NoError(t, err)

	_, err = r.Rotate(created.Version, created.NewJTI, "user-1", "client-1", nil)
	require.Error(t, err)
	var rerr *RotateError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.FamilyRevoked)

	logged := events()
	assert.Contains(t, logged, "theft_detected")
	assert.Contains(t, logged, "family_revoked")

	validation, err := r.Validate("user-1", "client-1", 2)
	require.NoError(t, err)
	assert.False(t, validation.Valid, "family must remain revoked")
}

func TestRotate_ScopeAmplificationRejectedWithoutRevocation(t *testing.T) {
	r, _ := setupTestRotator(t)

	created, err := r.Create("user-1", "client-1", []string{"openid", "profile"}, time.Hour)
	require.NoError(t, err)

	_, err = r.Rotate(created.Version, created.NewJTI, "user-1", "client-1", []string{"openid", "profile", "admin"})
	require.Error(t, err)
	var rerr *RotateError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrScopeAmplified, rerr.Kind)
	assert.False(t, rerr.FamilyRevoked)

	validation, err := r.Validate("user-1", "client-1", created.Version)
	require.NoError(t, err)
	assert.True(t, validation.Valid, "family must not be revoked by a rejected scope request")
}

func TestRotate_ConcurrentRotationsDetectExactlyOneTheft(t *testing.T) {
	r, events := setupTestRotator(t)
	created, err := r.Create("user-1", "client-1", []string{"openid"}, time.Hour)
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	wg.Add(attempts)
	successes := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := r.Rotate(created.Version, created.NewJTI, "user-1", "client-1", nil)
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, ok := range successes {
		if ok {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount, "exactly one concurrent rotation from the same starting version should succeed")

	thefts := 0
	for _, e := range events() {
		if e == "theft_detected" {
			thefts++
		}
	}
	assert.Equal(t, 1, thefts, "exactly one concurrent rotation should be detected as theft")
}
