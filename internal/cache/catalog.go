// Package cache memoizes product catalog lookups in process.
package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

var (
	// ErrCacheMiss is returned when a key is not found in cache
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheExpired is returned when a cached value has expired
	ErrCacheExpired = errors.New("cache expired")
)

// DefaultLookupTimeout bounds a shared source lookup
const DefaultLookupTimeout = 10 * time.Second

// ProductSource is the catalog being cached (ProductRepository in production)
type ProductSource interface {
	ProductsForConditions(ctx context.Context, labels []domain.ConditionLabel) ([]domain.Product, error)
}

type entry struct {
	products  []domain.Product
	expiresAt time.Time
}

// CatalogCache keeps the products for each condition set for a TTL.
// Concurrent misses on the same set share one source lookup; failed lookups
// are not cached.
type CatalogCache struct {
	source        ProductSource
	ttl           time.Duration
	lookupTimeout time.Duration
	now           func() time.Time
	group         singleflight.Group
	mu            sync.RWMutex
	entries       map[string]entry
}

func NewCatalogCache(source ProductSource, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		source:        source,
		ttl:           ttl,
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
		entries:       make(map[string]entry),
	}
}

func (c *CatalogCache) ProductsForConditions(ctx context.Context, labels []domain.ConditionLabel) ([]domain.Product, error) {
	key := cacheKey(labels)

	if products, err := c.get(key); err == nil {
		return products, nil
	}

	// The shared lookup outlives any single caller; each caller still stops
	// waiting when its own context ends
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()

		products, err := c.source.ProductsForConditions(lookupCtx, labels)
		if err != nil {
			return nil, err
		}
		c.set(key, products)
		return products, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]domain.Product)), nil
	}
}

// get retrieves the products cached for key
func (c *CatalogCache) get(key string) ([]domain.Product, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, ErrCacheExpired
	}
	return clone(e.products), nil
}

func (c *CatalogCache) set(key string, products []domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{products: clone(products), expiresAt: c.now().Add(c.ttl)}
}

// Clear removes all entries from cache
func (c *CatalogCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	return n
}

// CleanupExpired removes all expired entries
func (c *CatalogCache) CleanupExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len counts cached condition sets, expired ones included
func (c *CatalogCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cacheKey is order and duplicate insensitive
func cacheKey(labels []domain.ConditionLabel) string {
	parts := make([]string, 0, len(labels))
	seen := make(map[domain.ConditionLabel]bool, len(labels))
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		parts = append(parts, string(l))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func clone(products []domain.Product) []domain.Product {
	if products == nil {
		return nil
	}
	out := make([]domain.Product, len(products))
	copy(out, products)
	return out
}
