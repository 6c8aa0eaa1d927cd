package cache

import (
	"context"
	"sync"
	"time"

	"github.com/thebtf/recall/internal/clock"
)

type entry struct {
	value string
	at    time.Time
}

// MemoryCache is the in-process fallback used when no Redis address is
// configured. Entries expire after the TTL and each list is capped.
type MemoryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	clk      clock.Clock
	commands map[string][]entry
	files    map[string][]entry
}

// NewMemoryCache creates an in-process activity cache.
func NewMemoryCache(ttl time.Duration, clk clock.Clock) *MemoryCache {
	return &MemoryCache{
		ttl:      ttl,
		clk:      clk,
		commands: make(map[string][]entry),
		files:    make(map[string][]entry),
	}
}

// AddCommand records a command for the folder, newest first.
func (c *MemoryCache) AddCommand(_ context.Context, folderID, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[folderID] = c.push(c.commands[folderID], command)
	return nil
}

// AddFiles records touched files for the folder, newest first.
func (c *MemoryCache) AddFiles(_ context.Context, folderID string, files []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.files[folderID]
	for _, f := range files {
		list = c.push(list, f)
	}
	c.files[folderID] = list
	return nil
}

// RecentCommands returns unexpired commands, newest first.
func (c *MemoryCache) RecentCommands(_ context.Context, folderID string, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[folderID] = c.prune(c.commands[folderID])
	return values(c.commands[folderID], limit), nil
}

// RecentFiles returns unexpired files, newest first.
func (c *MemoryCache) RecentFiles(_ context.Context, folderID string, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[folderID] = c.prune(c.files[folderID])
	return values(c.files[folderID], limit), nil
}

// Close releases nothing for the in-process cache.
func (c *MemoryCache) Close() error { return nil }

// push prepends an entry and trims to the cap. Caller holds the lock.
func (c *MemoryCache) push(list []entry, value string) []entry {
	list = append([]entry{{value: value, at: c.clk.Now()}}, list...)
	if len(list) > maxEntries {
		list = list[:maxEntries]
	}
	return list
}

// prune drops entries older than the TTL. Caller holds the lock.
func (c *MemoryCache) prune(list []entry) []entry {
	cutoff := c.clk.Now().Add(-c.ttl)
	kept := list[:0]
	for _, e := range list {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

func values(list []entry, limit int) []string {
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]string, 0, limit)
	for _, e := range list[:limit] {
		out = append(out, e.value)
	}
	return out
}
