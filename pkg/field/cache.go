package field

import (
	"path/filepath"
	"sync"
)

// Cache loads each field map file once and hands out the shared instance.
type Cache struct {
	mu     sync.Mutex
	fields map[string]*Field
	loader func(path string) (*Field, error)
}

// NewCache returns a cache reading files with Load.
func NewCache() *Cache {
	return &Cache{fields: make(map[string]*Field), loader: Load}
}

// Get returns the field stored at path, loading it on first use.
func (c *Cache) Get(path string) (*Field, error) {
	key := filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.fields[key]; ok {
		return f, nil
	}
	f, err := c.loader(key)
	if err != nil {
		return nil, err
	}
	c.fields[key] = f
	return f, nil
}

// Put registers an in-memory field under a key, for fields not backed by a file.
func (c *Cache) Put(key string, f *Field) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields[filepath.Clean(key)] = f
}

// Len returns the number of distinct fields held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fields)
}
