package records

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"example.com/progression/internal/domain"
)

type cacheKey struct {
	accountID string
	exercise  string
}

type cacheEntry struct {
	max   float64
	found bool
}

// CachedHistory memoises per (account, exercise) maxima in front of a History
// for read-only queries. Entries expire after ttl so writes made by other
// processes become visible. Edits and deletions of stored sets must call
// Invalidate; new sets call Observe so the cached value only ever rises with
// appends.
type CachedHistory struct {
	next  History
	cache *expirable.LRU[cacheKey, cacheEntry]

	// generation advances on every Observe and Invalidate so that a store read
	// racing with a commit never caches the pre-commit maximum.
	mu         sync.Mutex
	generation uint64
}

// NewCachedHistory wraps next with an LRU of the given size whose entries live for ttl.
func NewCachedHistory(next History, size int, ttl time.Duration) (*CachedHistory, error) {
	if size <= 0 {
		return nil, errors.New("personal record cache size must be positive")
	}
	if ttl <= 0 {
		return nil, errors.New("personal record cache ttl must be positive")
	}
	return &CachedHistory{
		next:  next,
		cache: expirable.NewLRU[cacheKey, cacheEntry](size, nil, ttl),
	}, nil
}

func keyFor(accountID, exercise string) cacheKey {
	return cacheKey{accountID: accountID, exercise: domain.NormalizeExercise(exercise)}
}

// MaxEstimatedOneRepMax implements History.
func (c *CachedHistory) MaxEstimatedOneRepMax(ctx context.Context, accountID, exercise string) (float64, bool, error) {
	key := keyFor(accountID, exercise)
	if entry, ok := c.cache.Get(key); ok {
		return entry.max, entry.found, nil
	}

	c.mu.Lock()
	seen := c.generation
	c.mu.Unlock()

	max, found, err := c.next.MaxEstimatedOneRepMax(ctx, accountID, key.exercise)
	if err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	if c.generation == seen {
		c.cache.Add(key, cacheEntry{max: max, found: found})
	}
	c.mu.Unlock()
	return max, found, nil
}

// Observe folds a newly stored set into a cached entry. Uncached keys are left
// alone and will be aggregated on the next read.
func (c *CachedHistory) Observe(accountID, exercise string, estimated float64) {
	key := keyFor(accountID, exercise)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	entry, ok := c.cache.Peek(key)
	if !ok {
		return
	}
	if !entry.found || estimated > entry.max {
		c.cache.Add(key, cacheEntry{max: estimated, found: true})
	}
}

// Invalidate drops the cached maximum after a set is edited or deleted.
func (c *CachedHistory) Invalidate(accountID, exercise string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Remove(keyFor(accountID, exercise))
}

// InvalidateAccount drops every cached maximum for accountID.
func (c *CachedHistory) InvalidateAccount(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for _, key := range c.cache.Keys() {
		if key.accountID == accountID {
			c.cache.Remove(key)
		}
	}
}

// Len reports the number of cached entries.
func (c *CachedHistory) Len() int {
	return c.cache.Len()
}
