package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStoreRoundTrip verifies values survive a reopen and expire after their ttl.
func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, "test.db", "releases")
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put("forever", []string{"0.3.10", "0.4.0"}, 0))
	require.NoError(t, store.Put("short", 42, time.Minute))

	var versions []string
	require.NoError(t, store.Get("forever", &versions))
	assert.Equal(t, []string{"0.3.10", "0.4.0"}, versions)

	var number int
	require.NoError(t, store.Get("short", &number))
	assert.Equal(t, 42, number)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, store.Get("short", &number), ErrCacheMiss)
	assert.ErrorIs(t, store.Get("absent", &number), ErrCacheMiss)

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"forever", "short"}, keys)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, "test.db", "releases")
	require.NoError(t, err)
	defer reopened.Close()
	versions = nil
	require.NoError(t, reopened.Get("forever", &versions))
	assert.Len(t, versions, 2)

	require.NoError(t, reopened.Delete("forever"))
	assert.ErrorIs(t, reopened.Get("forever", &versions), ErrCacheMiss)
}
