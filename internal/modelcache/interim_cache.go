// Package modelcache holds trained classifiers in memory. Both caches are
// constructed explicitly and passed to the services that use them.
package modelcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/birdsearch/internal/classifier"
)

type InterimEntry struct {
	Classifier classifier.Classifier
	Iteration  int
}

// InterimCache keeps the latest interim classifier per session. Entries
// expire after ttl and are evicted explicitly when a session is finalized.
type InterimCache struct {
	cache *expirable.LRU[string, InterimEntry]
}

func NewInterimCache(size int, ttl time.Duration) *InterimCache {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &InterimCache{cache: expirable.NewLRU[string, InterimEntry](size, nil, ttl)}
}

func (c *InterimCache) Put(sessionID string, iteration int, clf classifier.Classifier) {
	c.cache.Add(sessionID, InterimEntry{Classifier: clf, Iteration: iteration})
}

func (c *InterimCache) Get(sessionID string) (InterimEntry, bool) {
	return c.cache.Get(sessionID)
}

func (c *InterimCache) Evict(sessionID string) bool {
	return c.cache.Remove(sessionID)
}

func (c *InterimCache) Len() int {
	return c.cache.Len()
}
