package workflow

import (
	"sync"
)

// Context is the run-scoped key/value store passed to every item invocation,
// plus the handles items need to reach the manager API and emit progress.
// Entries written by one item (e.g. the confirmed migration hash for a cycle)
// are read by a later item in the same cycle; the map lives only for the run.
type Context struct {
	mu       sync.RWMutex
	values   map[string]interface{}
	manager  ManagerAPI
	progress func(item TimelineItem, data map[string]interface{})
}

// NewContext creates a fresh run context.
func NewContext(api ManagerAPI, progress func(item TimelineItem, data map[string]interface{})) *Context {
	return &Context{
		values:   make(map[string]interface{}),
		manager:  api,
		progress: progress,
	}
}

// Manager returns the remote management API handle.
func (c *Context) Manager() ManagerAPI {
	return c.manager
}

// Set stores a value under the given key.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get retrieves a value by key.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, exists := c.values[key]
	return value, exists
}

// GetString retrieves a string value by key.
func (c *Context) GetString(key string) (string, bool) {
	value, exists := c.Get(key)
	if !exists {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// GetBool retrieves a boolean value by key.
func (c *Context) GetBool(key string) (bool, bool) {
	value, exists := c.Get(key)
	if !exists {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// Delete removes a key from the context.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// EmitProgress forwards live progress from a polling item to the engine's
// event hook. It has no return value and no effect on control flow.
func (c *Context) EmitProgress(item TimelineItem, data map[string]interface{}) {
	if c.progress != nil {
		c.progress(item, data)
	}
}
