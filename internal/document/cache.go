package document

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of templates kept by a TemplateCache.
const DefaultCacheSize = 128

// TemplateCache keeps compiled templates of the output directory in memory.
// Entries are keyed by their slash-separated path relative to the directory.
// A hit is only served while the file's size and modification time are
// unchanged, so a missed eviction costs a re-read and never a stale page.
type TemplateCache struct {
	root    string
	entries *lru.Cache[string, template]
}

type template struct {
	content []byte
	modTime time.Time
	size    int64
}

// NewTemplateCache creates a cache for templates under root, the directory
// Invalidate receives absolute paths of.
func NewTemplateCache(root string, size int) (*TemplateCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, template](size)
	if err != nil {
		return nil, err
	}
	return &TemplateCache{root: root, entries: entries}, nil
}

// Read returns the template name of fsys, reading it on a miss or when the
// file changed since it was cached.
func (c *TemplateCache) Read(fsys fs.FS, name string) ([]byte, error) {
	// Stat before reading: content read afterwards is at least as new as the
	// recorded version, so a concurrent rewrite is caught on the next Read.
	info, err := fs.Stat(fsys, name)
	if err != nil {
		c.entries.Remove(name)
		return nil, err
	}

	if cached, ok := c.entries.Get(name); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.content, nil
	}

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	c.entries.Add(name, template{content: content, modTime: info.ModTime(), size: info.Size()})
	return content, nil
}

// Invalidate evicts the template at the absolute path. Changes to anything
// but a single HTML file drop every entry.
func (c *TemplateCache) Invalidate(path string) {
	rel, err := filepath.Rel(c.root, path)
	if err != nil || strings.HasPrefix(rel, "..") || !strings.HasSuffix(rel, ".html") {
		c.entries.Purge()
		return
	}
	c.entries.Remove(filepath.ToSlash(rel))
}

// Len returns the number of cached templates.
func (c *TemplateCache) Len() int {
	return c.entries.Len()
}
