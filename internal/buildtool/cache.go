package buildtool

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/devbridge/internal/config"
	"github.com/conneroisu/devbridge/internal/logging"
)

// Cache holds the ResolvedConfig of the current bind. Concurrent first
// callers share a single resolution.
type Cache struct {
	tool   Tool
	logger logging.Logger

	group singleflight.Group

	mu         sync.RWMutex
	value      *ResolvedConfig
	generation uint64
}

// NewCache creates an empty cache resolving through tool.
func NewCache(tool Tool, logger logging.Logger) *Cache {
	return &Cache{tool: tool, logger: logger}
}

// Get returns the cached configuration, resolving it on first use.
func (c *Cache) Get(ctx context.Context, req Request, inline *config.InlineBuildConfig) ResolvedConfig {
	c.mu.RLock()
	if c.value != nil {
		v := *c.value
		c.mu.RUnlock()
		return v
	}
	generation := c.generation
	c.mu.RUnlock()

	v, _, _ := c.group.Do("resolve", func() (interface{}, error) {
		c.mu.RLock()
		if c.value != nil && c.generation == generation {
			v := *c.value
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		resolved := Resolve(ctx, c.tool, req, inline, c.logger)

		// A cancelled caller degrades its own result to a fallback, which
		// must not outlive the call. A Reset while resolving discards the
		// stale result.
		if ctx.Err() != nil {
			return resolved, nil
		}

		c.mu.Lock()
		if c.generation == generation {
			c.value = &resolved
		}
		c.mu.Unlock()

		return resolved, nil
	})

	return v.(ResolvedConfig)
}

// Reset drops the cached configuration.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.value = nil
	c.generation++
	c.mu.Unlock()
	c.group.Forget("resolve")
}
