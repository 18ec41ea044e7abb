package resolve

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/3-lines-studio/kiln/internal/core"
)

// Cache holds the assets of one build pass keyed by canonical path. Insertion
// is mutually exclusive per path: concurrent resolutions of the same file
// share one load and observe one *core.Asset.
type Cache struct {
	mu     sync.RWMutex
	assets map[string]*core.Asset
	group  singleflight.Group
}

func NewCache() *Cache {
	return &Cache{assets: make(map[string]*core.Asset)}
}

func (c *Cache) Get(path string) (*core.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[path]
	return a, ok
}

// LoadOrCreate returns the cached asset for path or runs create once. The
// boolean is true only for the caller whose create call produced the asset.
func (c *Cache) LoadOrCreate(path string, create func() (*core.Asset, error)) (*core.Asset, bool, error) {
	if a, ok := c.Get(path); ok {
		return a, false, nil
	}

	created := false
	v, err, _ := c.group.Do(path, func() (any, error) {
		if a, ok := c.Get(path); ok {
			return a, nil
		}
		a, err := create()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.assets[path] = a
		c.mu.Unlock()
		created = true
		return a, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*core.Asset), created, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets)
}

// Assets returns every cached asset sorted by path.
func (c *Cache) Assets() []*core.Asset {
	c.mu.RLock()
	out := make([]*core.Asset, 0, len(c.assets))
	for _, a := range c.assets {
		out = append(out, a)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
