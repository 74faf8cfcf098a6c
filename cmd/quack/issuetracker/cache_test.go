package issuetracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTracker struct {
	Disabled
	calls int
	err   error
}

func (c *countingTracker) SuggestIssues(_ context.Context, projectID, text string) ([]types.Issue, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []types.Issue{{ID: projectID + "-" + text}}, nil
}

func TestCachingTracker_SuggestIssues(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := &countingTracker{}
	cache := NewCachingTracker(backend, CacheConfig{Enabled: true, TTL: time.Minute}, zerolog.Nop())
	defer cache.Stop()
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	first, err := cache.SuggestIssues(ctx, "QA", "login")
	require.NoError(t, err)
	assert.Equal(t, []types.Issue{{ID: "QA-login"}}, first)

	// same text modulo case and spacing is a hit
	second, err := cache.SuggestIssues(ctx, "QA", "  LOGIN ")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.calls)

	// other project is a miss
	_, err = cache.SuggestIssues(ctx, "OPS", "login")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
	assert.Equal(t, 2, cache.Len())

	// expired entry is refreshed
	now = now.Add(2 * time.Minute)
	_, err = cache.SuggestIssues(ctx, "QA", "login")
	require.NoError(t, err)
	assert.Equal(t, 3, backend.calls)
}

func TestCachingTracker_ErrorsAreNotCached(t *testing.T) {
	backend := &countingTracker{err: errors.New("tracker down")}
	cache := NewCachingTracker(backend, CacheConfig{Enabled: true, TTL: time.Minute}, zerolog.Nop())
	defer cache.Stop()

	_, err := cache.SuggestIssues(context.Background(), "QA", "x")
	require.Error(t, err)
	_, err = cache.SuggestIssues(context.Background(), "QA", "x")
	require.Error(t, err)
	assert.Equal(t, 2, backend.calls)
	assert.Zero(t, cache.Len())
}

func TestCachingTracker_Disabled(t *testing.T) {
	backend := &countingTracker{}
	cache := NewCachingTracker(backend, CacheConfig{}, zerolog.Nop())
	defer cache.Stop()

	for i := 0; i < 3; i++ {
		_, err := cache.SuggestIssues(context.Background(), "QA", "x")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, backend.calls)
}

func TestCachingTracker_Cleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := &countingTracker{}
	cache := NewCachingTracker(backend, CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 2}, zerolog.Nop())
	defer cache.Stop()
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		_, err := cache.SuggestIssues(ctx, "QA", text)
		require.NoError(t, err)
		now = now.Add(time.Second)
	}

	cache.cleanup()
	assert.Equal(t, 2, cache.Len())

	// oldest entry was evicted
	_, err := cache.SuggestIssues(ctx, "QA", "a")
	require.NoError(t, err)
	assert.Equal(t, 4, backend.calls)

	now = now.Add(time.Hour)
	cache.cleanup()
	assert.Zero(t, cache.Len())
}

func TestCachingTracker_DelegatesOtherCalls(t *testing.T) {
	cache := NewCachingTracker(Disabled{}, DefaultCacheConfig(), zerolog.Nop())
	defer cache.Stop()

	_, err := cache.GetIssue(context.Background(), "QA-1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	cache.Stop()
	assert.NotPanics(t, cache.Stop)
}
