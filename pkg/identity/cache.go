package identity

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize bounds each per-concern cache. Project trees are small; the
// bound only matters when the backing provider serves a large directory.
const cacheSize = 1024

// Cached wraps an Identity with LRU caches per lookup kind.
type Cached struct {
	backend Identity

	resolved *lru.Cache[string, string]
	chains   *lru.Cache[string, []string]
	names    *lru.Cache[string, string]
}

// NewCached wraps backend with lookup caches.
func NewCached(backend Identity) (*Cached, error) {
	resolved, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	chains, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	names, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Cached{
		backend:  backend,
		resolved: resolved,
		chains:   chains,
		names:    names,
	}, nil
}

// ResolveProject resolves through the cache. Failed lookups are not cached
// so a later directory update is picked up.
func (c *Cached) ResolveProject(ctx context.Context, ident string) (string, error) {
	if id, ok := c.resolved.Get(ident); ok {
		return id, nil
	}
	id, err := c.backend.ResolveProject(ctx, ident)
	if err != nil {
		return "", err
	}
	c.resolved.Add(ident, id)
	return id, nil
}

// ProjectParentChain resolves through the cache.
func (c *Cached) ProjectParentChain(ctx context.Context, id string) ([]string, error) {
	if chain, ok := c.chains.Get(id); ok {
		out := make([]string, len(chain))
		copy(out, chain)
		return out, nil
	}
	chain, err := c.backend.ProjectParentChain(ctx, id)
	if err != nil {
		return nil, err
	}
	c.chains.Add(id, chain)
	out := make([]string, len(chain))
	copy(out, chain)
	return out, nil
}

// ProjectName resolves through the cache.
func (c *Cached) ProjectName(ctx context.Context, id string) (string, error) {
	if name, ok := c.names.Get(id); ok {
		return name, nil
	}
	name, err := c.backend.ProjectName(ctx, id)
	if err != nil {
		return "", err
	}
	c.names.Add(id, name)
	return name, nil
}

// Projects lists from the backend; listing is rare and not cached.
func (c *Cached) Projects(ctx context.Context) ([]Project, error) {
	return c.backend.Projects(ctx)
}
