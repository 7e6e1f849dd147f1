package secrets

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provtools/userbot/pkg/logging"
)

// fakeSource counts fetches and serves a fixed credential table.
type fakeSource struct {
	mu      sync.Mutex
	fetches map[string]int
	table   map[string]Credentials
	err     error
}

func newFakeSource(table map[string]Credentials) *fakeSource {
	return &fakeSource{fetches: make(map[string]int), table: table}
}

func (f *fakeSource) Fetch(_ context.Context, identifier string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[identifier]++
	if f.err != nil {
		return Credentials{}, f.err
	}
	creds, ok := f.table[identifier]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %s", ErrSecretNotFound, identifier)
	}
	return creds, nil
}

func (f *fakeSource) fetchCount(identifier string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[identifier]
}

func TestCache_LookupCachesHits(t *testing.T) {
	source := newFakeSource(map[string]Credentials{
		"acme": {Email: "bot@acme.com", Password: "secret"},
	})
	cache := NewCache(source, logging.NewNop())

	for i := 0; i < 3; i++ {
		creds, err := cache.Lookup(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, "bot@acme.com", creds.Email)
	}

	assert.Equal(t, 1, source.fetchCount("acme"), "repeat lookups must not refetch")
	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestCache_LookupKeyIsCaseInsensitive(t *testing.T) {
	source := newFakeSource(map[string]Credentials{
		"acme": {Email: "bot@acme.com", Password: "secret"},
	})
	cache := NewCache(source, logging.NewNop())

	_, err := cache.Lookup(context.Background(), "acme")
	require.NoError(t, err)
	_, err = cache.Lookup(context.Background(), "  ACME ")
	require.NoError(t, err)
	assert.Equal(t, 1, source.fetchCount("acme"))
}

func TestCache_LookupMissIsNotCached(t *testing.T) {
	source := newFakeSource(nil)
	cache := NewCache(source, logging.NewNop())

	_, err := cache.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	_, err = cache.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, 2, source.fetchCount("ghost"), "failed lookups are retried")
}

func TestCache_LookupEmptyIdentifier(t *testing.T) {
	cache := NewCache(newFakeSource(nil), logging.NewNop())
	_, err := cache.Lookup(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestCache_Prewarm(t *testing.T) {
	source := newFakeSource(map[string]Credentials{
		"acme":   {Email: "bot@acme.com", Password: "a"},
		"globex": {Email: "bot@globex.com", Password: "b"},
	})
	cache := NewCache(source, logging.NewNop())

	err := cache.Prewarm(context.Background(), []string{"acme", "globex", "ghost"}, 2)
	require.NoError(t, err, "individual fetch failures must not fail the prewarm")

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.False(t, stats.LastPrewarm.IsZero())

	// Prewarmed entries serve without another fetch.
	creds, err := cache.Lookup(context.Background(), "globex")
	require.NoError(t, err)
	assert.Equal(t, "bot@globex.com", creds.Email)
	assert.Equal(t, 1, source.fetchCount("globex"))
}

func TestCache_Clear(t *testing.T) {
	source := newFakeSource(map[string]Credentials{
		"acme": {Email: "bot@acme.com", Password: "a"},
	})
	cache := NewCache(source, logging.NewNop())

	_, err := cache.Lookup(context.Background(), "acme")
	require.NoError(t, err)
	cache.Clear()
	assert.Equal(t, 0, cache.Stats().Entries)

	_, err = cache.Lookup(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, source.fetchCount("acme"))
}
