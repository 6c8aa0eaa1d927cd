package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/recall/internal/clock"
)

func TestMemoryCache_NewestFirst(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	c := NewMemoryCache(5*time.Minute, clk)
	ctx := context.Background()

	require.NoError(t, c.AddCommand(ctx, "demo_abc123", "go test ./..."))
	clk.Advance(time.Second)
	require.NoError(t, c.AddCommand(ctx, "demo_abc123", "git commit"))

	got, err := c.RecentCommands(ctx, "demo_abc123", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"git commit", "go test ./..."}, got)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	c := NewMemoryCache(5*time.Minute, clk)
	ctx := context.Background()

	require.NoError(t, c.AddCommand(ctx, "demo_abc123", "stale command"))
	clk.Advance(4 * time.Minute)
	require.NoError(t, c.AddCommand(ctx, "demo_abc123", "fresh command"))
	clk.Advance(2 * time.Minute)

	got, err := c.RecentCommands(ctx, "demo_abc123", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh command"}, got)
}

func TestMemoryCache_LimitAndIsolation(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	c := NewMemoryCache(5*time.Minute, clk)
	ctx := context.Background()

	require.NoError(t, c.AddFiles(ctx, "demo_abc123", []string{"a.go", "b.go", "c.go"}))
	require.NoError(t, c.AddFiles(ctx, "other_def456", []string{"x.go"}))

	got, err := c.RecentFiles(ctx, "demo_abc123", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	other, err := c.RecentFiles(ctx, "other_def456", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.go"}, other)

	empty, err := c.RecentCommands(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
