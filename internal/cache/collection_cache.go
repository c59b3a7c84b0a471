package cache

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/calcore/internal/models"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// TokenSource answers the store's current sync token for a collection path.
type TokenSource interface {
	CurrentToken(ctx context.Context, path string) (string, error)
}

// Stats counts cache outcomes for operational monitoring. The counters never
// affect control flow.
type Stats struct {
	ops *prometheus.CounterVec
}

// NewStats registers the cache counters on the given registry.
func NewStats(reg prometheus.Registerer) *Stats {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_cache_operations_total",
		Help: "Collection cache outcomes by kind",
	}, []string{"outcome"})
	if reg != nil {
		reg.MustRegister(ops)
	}
	return &Stats{ops: ops}
}

func (s *Stats) count(outcome string) {
	if s == nil || s.ops == nil {
		return
	}
	s.ops.WithLabelValues(outcome).Inc()
}

type entry struct {
	col     *models.Collection
	token   string
	checked bool
}

// CollectionCache is the per-session cache of access-wrapped collections,
// keyed by path. Entries are trusted verbatim while checked; after a flush
// each entry pays exactly one token comparison before being reused. The cache
// is owned by one logical session and is not safe for concurrent sessions.
type CollectionCache struct {
	entries map[string]*entry
	tokens  TokenSource
	stats   *Stats
}

// New constructs an empty cache over a token source.
func New(tokens TokenSource, stats *Stats) *CollectionCache {
	return &CollectionCache{
		entries: make(map[string]*entry),
		tokens:  tokens,
		stats:   stats,
	}
}

// Get returns the cached collection for path, revalidating unchecked entries
// against the store's current token. A nil result is a miss: the caller
// refetches, re-wraps and Puts.
func (c *CollectionCache) Get(ctx context.Context, path string) (*models.Collection, error) {
	e, ok := c.entries[path]
	if !ok {
		c.stats.count("miss")
		return nil, nil
	}
	if e.checked {
		c.stats.count("hit")
		return e.col, nil
	}

	current, err := c.tokens.CurrentToken(ctx, path)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrCollectionNotFound.Code) {
			delete(c.entries, path)
			c.stats.count("refetch")
			return nil, nil
		}
		return nil, err
	}
	if current != e.token {
		delete(c.entries, path)
		c.stats.count("refetch")
		return nil, nil
	}
	e.checked = true
	c.stats.count("hit")
	return e.col, nil
}

// GetToken returns the cached collection only when its token matches exactly.
// Batch child listings use this to skip the per-entry synch round trip.
func (c *CollectionCache) GetToken(path, token string) *models.Collection {
	e, ok := c.entries[path]
	if !ok || e.token != token {
		c.stats.count("miss")
		return nil
	}
	c.stats.count("hit")
	return e.col
}

// Put caches a collection under its path, marked checked.
func (c *CollectionCache) Put(col *models.Collection) {
	if col == nil {
		return
	}
	c.entries[col.Path] = &entry{col: col, token: col.Token(), checked: true}
}

// Remove evicts a single path.
func (c *CollectionCache) Remove(path string) {
	delete(c.entries, path)
}

// Flush marks every entry unchecked, forcing one revalidation per entry on
// next access. Called on every transaction boundary.
func (c *CollectionCache) Flush() {
	for _, e := range c.entries {
		e.checked = false
	}
	c.stats.count("flush")
}

// Clear evicts everything; used when access rules change globally.
func (c *CollectionCache) Clear() {
	c.entries = make(map[string]*entry)
	c.stats.count("flush")
}

// Len reports the number of cached entries.
func (c *CollectionCache) Len() int {
	return len(c.entries)
}
