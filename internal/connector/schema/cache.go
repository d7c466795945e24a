// Package schema implements the connector engine's schema cache: a
// content-addressed, concurrency-safe store of parsed Avro schemas keyed by
// (service, resource), loaded lazily on first demand and held for the
// process lifetime.
package schema

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"go.flowcatalyst.tech/internal/connector"
)

// Fetcher loads the raw schema text for a resource reference from its
// backing service (Pub/Sub Schema Registry or a Mongo schema collection).
type Fetcher interface {
	Fetch(ctx context.Context, ref connector.ResourceReference) (text string, fields []string, err error)
}

// Cache memoizes SchemaRecords by (service, resource). Concurrent misses
// for the same key coalesce into a single upstream fetch via singleflight,
// matching spec.md §4.2 and §9.
type Cache struct {
	fetchers map[connector.Provider]Fetcher

	mu      sync.RWMutex
	entries map[connector.ResourceReference]*connector.SchemaRecord

	group singleflight.Group
}

// NewCache builds a Cache backed by the given per-provider fetchers. Only
// Mongo and Pub/Sub fetchers are meaningful; other providers never appear
// as schema sources.
func NewCache(fetchers map[connector.Provider]Fetcher) *Cache {
	return &Cache{
		fetchers: fetchers,
		entries:  make(map[connector.ResourceReference]*connector.SchemaRecord),
	}
}

// Get returns the cached SchemaRecord for ref, fetching and parsing it on
// first demand. Schemas are never mutated after first population; a
// concurrent caller that loses the fetch race simply receives the winner's
// result.
func (c *Cache) Get(ctx context.Context, provider connector.Provider, id connector.SchemaID, ref connector.ResourceReference) (*connector.SchemaRecord, error) {
	c.mu.RLock()
	if rec, ok := c.entries[ref]; ok {
		c.mu.RUnlock()
		return rec, nil
	}
	c.mu.RUnlock()

	fetcher, ok := c.fetchers[provider]
	if !ok {
		return nil, connector.InternalInvariant("schema.cache", errUnsupportedProvider(provider))
	}

	key := ref.ServiceName + "/" + ref.Resource
	result, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the singleflight key in case another caller
		// populated it while we queued behind the group lock.
		c.mu.RLock()
		if rec, ok := c.entries[ref]; ok {
			c.mu.RUnlock()
			return rec, nil
		}
		c.mu.RUnlock()

		text, fields, err := fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, connector.SchemaFetch("schema.cache", err)
		}
		rec := &connector.SchemaRecord{
			ID:     id,
			Ref:    ref,
			Text:   text,
			Fields: fields,
		}
		c.mu.Lock()
		c.entries[ref] = rec
		c.mu.Unlock()
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*connector.SchemaRecord), nil
}

// Invalidate drops a cached entry. Explicit invalidation is not part of the
// public engine contract (spec.md §4.2 calls it out of scope) but is useful
// for tests that need to force a re-fetch.
func (c *Cache) Invalidate(ref connector.ResourceReference) {
	c.mu.Lock()
	delete(c.entries, ref)
	c.mu.Unlock()
}

type errUnsupportedProvider connector.Provider

func (e errUnsupportedProvider) Error() string {
	return "schema cache: unsupported provider " + string(e)
}
