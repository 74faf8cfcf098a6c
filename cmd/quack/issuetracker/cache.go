package issuetracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/greatbit/quack/cmd/quack/types"
	"github.com/rs/zerolog"
)

// CacheConfig controls the suggestion cache
type CacheConfig struct {
	// Enabled determines if caching is active
	Enabled bool

	// TTL is how long a suggestion list is served from the cache
	TTL time.Duration

	// MaxSize is the maximum number of cached lists, oldest are evicted first.
	// 0 means unlimited
	MaxSize int

	// CleanupInterval defines how often expired entries are removed
	CleanupInterval time.Duration
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:         true,
		TTL:             5 * time.Minute,
		MaxSize:         1000,
		CleanupInterval: time.Minute,
	}
}

type cachedSuggestions struct {
	issues    []types.Issue
	createdAt time.Time
	expiresAt time.Time
}

// CachingTracker wraps a Tracker and caches its suggestions per project and text
type CachingTracker struct {
	Tracker
	entries  sync.Map // key -> *cachedSuggestions
	config   CacheConfig
	log      zerolog.Logger
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewCachingTracker creates the cache and starts its cleanup routine
func NewCachingTracker(tracker Tracker, config CacheConfig, log zerolog.Logger) *CachingTracker {
	c := &CachingTracker{
		Tracker:  tracker,
		config:   config,
		log:      log.With().Str("component", "suggestion_cache").Logger(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go c.startCleanupRoutine()
		c.log.Info().
			Dur("interval", config.CleanupInterval).
			Int("max_size", config.MaxSize).
			Dur("ttl", config.TTL).
			Msg("Started suggestion cache cleanup routine")
	}

	return c
}

// SuggestIssues serves suggestions from the cache, asking the tracker on a miss
func (c *CachingTracker) SuggestIssues(ctx context.Context, projectID, text string) ([]types.Issue, error) {
	if !c.config.Enabled {
		return c.Tracker.SuggestIssues(ctx, projectID, text)
	}

	key := c.generateCacheKey(projectID, text)
	if entry, ok := c.entries.Load(key); ok {
		cached := entry.(*cachedSuggestions)
		if c.now().Before(cached.expiresAt) {
			c.log.Debug().Str("key", key).Msg("Serving suggestions from cache")
			return append([]types.Issue(nil), cached.issues...), nil
		}
		c.entries.Delete(key)
	}

	issues, err := c.Tracker.SuggestIssues(ctx, projectID, text)
	if err != nil {
		return nil, err
	}

	now := c.now()
	c.entries.Store(key, &cachedSuggestions{
		issues:    append([]types.Issue(nil), issues...),
		createdAt: now,
		expiresAt: now.Add(c.config.TTL),
	})
	return issues, nil
}

func (c *CachingTracker) generateCacheKey(projectID, text string) string {
	hasher := sha256.New()
	hasher.Write([]byte(projectID + "\x00" + strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *CachingTracker) startCleanupRoutine() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			c.log.Info().Msg("Stopping suggestion cache cleanup routine")
			return
		}
	}
}

func (c *CachingTracker) cleanup() {
	type keyed struct {
		key       interface{}
		createdAt time.Time
	}

	var (
		expired int
		evicted int
		now     = c.now()
		live    []keyed
	)

	c.entries.Range(func(key, value interface{}) bool {
		cached := value.(*cachedSuggestions)
		if !now.Before(cached.expiresAt) {
			c.entries.Delete(key)
			expired++
		} else {
			live = append(live, keyed{key: key, createdAt: cached.createdAt})
		}
		return true
	})

	if c.config.MaxSize > 0 && len(live) > c.config.MaxSize {
		sort.Slice(live, func(i, j int) bool {
			return live[i].createdAt.Before(live[j].createdAt)
		})
		for _, entry := range live[:len(live)-c.config.MaxSize] {
			c.entries.Delete(entry.key)
			evicted++
		}
	}

	c.log.Debug().
		Int("expired_removed", expired).
		Int("size_limit_removed", evicted).
		Int("remaining_entries", len(live)-evicted).
		Msg("Completed suggestion cache cleanup")
}

// Len returns the number of cached suggestion lists
func (c *CachingTracker) Len() int {
	n := 0
	c.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Stop ends the cleanup routine and clears the cache
func (c *CachingTracker) Stop() {
	c.stopOnce.Do(func() {
		if c.config.Enabled && c.config.CleanupInterval > 0 {
			close(c.stopChan)
		}
		c.entries.Range(func(key, _ interface{}) bool {
			c.entries.Delete(key)
			return true
		})
		c.log.Info().Msg("Suggestion cache cleared and stopped")
	})
}
