package attach

import (
	"context"
	"fmt"
	"sync"

	"notekit/internal/markup"
	"notekit/internal/resource"
)

type ResourceInfo struct {
	Item       resource.Resource
	LocalState resource.LocalState
}

// Cache remembers resources resolved from note bodies so rendering the same
// note repeatedly does not hit the store again. Entries live until Clear.
type Cache struct {
	store Store

	mu      sync.Mutex
	entries map[string]ResourceInfo
}

func NewCache(store Store) *Cache {
	return &Cache{store: store, entries: map[string]ResourceInfo{}}
}

// Resolve returns an entry for every resource id linked from body. Ids
// already cached are served without a store read.
func (c *Cache) Resolve(ctx context.Context, body string) (map[string]ResourceInfo, error) {
	out := map[string]ResourceInfo{}
	ids := markup.LinkedResourceIDs(body)
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		if info, ok := c.get(id); ok {
			out[id] = info
			continue
		}
		item, err := c.store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load resource %s: %w", id, err)
		}
		state, err := c.store.LocalState(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("local state %s: %w", id, err)
		}
		info := ResourceInfo{Item: item, LocalState: state}
		c.put(id, info)
		out[id] = info
	}
	return out, nil
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = map[string]ResourceInfo{}
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(id string) (ResourceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.entries[id]
	return info, ok
}

func (c *Cache) put(id string, info ResourceInfo) {
	c.mu.Lock()
	c.entries[id] = info
	c.mu.Unlock()
}
