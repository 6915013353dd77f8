package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"metatable/internal/apperr"
)

// Loader reads table descriptors from the schema store.
type Loader interface {
	// LoadTable returns the descriptor with its columns, or nil if no
	// table is registered under code.
	LoadTable(ctx context.Context, code string) (*TableDescriptor, error)

	// ChildTableCodes lists tables whose parent table code is parent.
	ChildTableCodes(ctx context.Context, parent string) ([]string, error)
}

// Catalog caches table descriptors process-wide. Entries are filled on
// first reference and live until invalidated.
type Catalog struct {
	loader Loader
	group  singleflight.Group

	mu     sync.RWMutex
	tables map[string]*TableDescriptor
	gen    uint64
}

func NewCatalog(loader Loader) *Catalog {
	return &Catalog{
		loader: loader,
		tables: make(map[string]*TableDescriptor),
	}
}

// Resolve returns the descriptor for code, loading it on a cache miss.
func (c *Catalog) Resolve(ctx context.Context, code string) (*TableDescriptor, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.InvalidArgumentf("table code is required")
	}

	c.mu.RLock()
	t, ok := c.tables[code]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := c.group.Do(code, func() (any, error) {
		// Waiters share this load; one caller's cancellation must not fail them all.
		loaded, err := c.loader.LoadTable(context.WithoutCancel(ctx), code)
		if err != nil {
			return nil, fmt.Errorf("load table %s: %w", code, err)
		}
		if loaded == nil {
			return nil, apperr.NotFoundf("table %s not found", code)
		}
		c.mu.Lock()
		// A load that raced an invalidation must not repopulate the cache.
		if c.gen == gen {
			c.tables[code] = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TableDescriptor), nil
}

// Invalidate drops the cached entry for code, or every entry when code is empty.
func (c *Catalog) Invalidate(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if code == "" {
		c.tables = make(map[string]*TableDescriptor)
		return
	}
	delete(c.tables, code)
	c.group.Forget(code)
}

// FindChildren returns every table whose parent table code is parent.
func (c *Catalog) FindChildren(ctx context.Context, parent string) ([]*TableDescriptor, error) {
	codes, err := c.loader.ChildTableCodes(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("find children of %s: %w", parent, err)
	}
	children := make([]*TableDescriptor, 0, len(codes))
	for _, code := range codes {
		t, err := c.Resolve(ctx, code)
		if err != nil {
			return nil, err
		}
		children = append(children, t)
	}
	return children, nil
}

// Cached reports the codes currently held, for diagnostics.
func (c *Catalog) Cached() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	codes := make([]string, 0, len(c.tables))
	for code := range c.tables {
		codes = append(codes, code)
	}
	return codes
}
