package cache

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisCache shares the look-back window across capture-agent and daemon
// processes through Redis lists.
type RedisCache struct {
	pool *redis.Pool
	ttl  time.Duration
}

// NewRedisCache creates a Redis-backed activity cache.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr)
		},
	}
	return &RedisCache{pool: pool, ttl: ttl}
}

func commandKey(folderID string) string { return "recall:cmd:" + folderID }
func fileKey(folderID string) string    { return "recall:files:" + folderID }

// AddCommand records a command for the folder.
func (c *RedisCache) AddCommand(ctx context.Context, folderID, command string) error {
	return c.push(ctx, commandKey(folderID), []string{command})
}

// AddFiles records touched files for the folder.
func (c *RedisCache) AddFiles(ctx context.Context, folderID string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	return c.push(ctx, fileKey(folderID), files)
}

// RecentCommands returns unexpired commands, newest first.
func (c *RedisCache) RecentCommands(ctx context.Context, folderID string, limit int) ([]string, error) {
	return c.list(ctx, commandKey(folderID), limit)
}

// RecentFiles returns unexpired files, newest first.
func (c *RedisCache) RecentFiles(ctx context.Context, folderID string, limit int) ([]string, error) {
	return c.list(ctx, fileKey(folderID), limit)
}

// Close drains the connection pool.
func (c *RedisCache) Close() error {
	return c.pool.Close()
}

func (c *RedisCache) push(ctx context.Context, key string, vals []string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := redis.Args{}.Add(key).AddFlat(vals)
	if _, err := conn.Do("LPUSH", args...); err != nil {
		return err
	}
	if _, err := conn.Do("LTRIM", key, 0, maxEntries-1); err != nil {
		return err
	}
	_, err = conn.Do("EXPIRE", key, int(c.ttl.Seconds()))
	return err
}

func (c *RedisCache) list(ctx context.Context, key string, limit int) ([]string, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if limit <= 0 {
		limit = maxEntries
	}
	vals, err := redis.Strings(conn.Do("LRANGE", key, 0, limit-1))
	if err != nil {
		return nil, err
	}
	return vals, nil
}
