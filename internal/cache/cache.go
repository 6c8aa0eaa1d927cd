// Package cache keeps the short-lived activity window the pattern detectors
// read: recent commands and recently touched files per folder. Backed by
// Redis when an address is configured, by an in-process map otherwise.
package cache

import (
	"context"
	"time"

	"github.com/thebtf/recall/internal/clock"
)

// maxEntries bounds each per-folder list regardless of TTL.
const maxEntries = 100

// ActivityCache records and serves the detector look-back window.
type ActivityCache interface {
	AddCommand(ctx context.Context, folderID, command string) error
	AddFiles(ctx context.Context, folderID string, files []string) error
	RecentCommands(ctx context.Context, folderID string, limit int) ([]string, error)
	RecentFiles(ctx context.Context, folderID string, limit int) ([]string, error)
	Close() error
}

// New returns a Redis-backed cache when addr is non-empty, an in-process one
// otherwise.
func New(addr string, ttl time.Duration) ActivityCache {
	if addr != "" {
		return NewRedisCache(addr, ttl)
	}
	return NewMemoryCache(ttl, clock.System())
}
