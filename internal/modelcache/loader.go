package modelcache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xxxsen/birdsearch/internal/classifier"
)

type LoadFunc func(ctx context.Context, key string) (classifier.Classifier, error)

type loadEntry struct {
	once sync.Once
	clf  classifier.Classifier
	err  error
}

// Loader memoizes LoadFunc per key: concurrent callers for the same key
// share one load. Failed loads are forgotten so a later call retries.
type Loader struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *loadEntry]
	load    LoadFunc
}

func NewLoader(size int, load LoadFunc) (*Loader, error) {
	if size <= 0 {
		size = 32
	}
	entries, err := lru.New[string, *loadEntry](size)
	if err != nil {
		return nil, err
	}
	return &Loader{entries: entries, load: load}, nil
}

func (l *Loader) Get(ctx context.Context, key string) (classifier.Classifier, error) {
	l.mu.Lock()
	entry, ok := l.entries.Get(key)
	if !ok {
		entry = &loadEntry{}
		l.entries.Add(key, entry)
	}
	l.mu.Unlock()

	entry.once.Do(func() {
		entry.clf, entry.err = l.load(ctx, key)
	})
	if entry.err != nil {
		l.mu.Lock()
		if cur, ok := l.entries.Peek(key); ok && cur == entry {
			l.entries.Remove(key)
		}
		l.mu.Unlock()
		return nil, entry.err
	}
	return entry.clf, nil
}

func (l *Loader) Forget(key string) {
	l.mu.Lock()
	l.entries.Remove(key)
	l.mu.Unlock()
}
