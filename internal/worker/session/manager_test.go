package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/recall/internal/cache"
	"github.com/thebtf/recall/internal/clock"
	"github.com/thebtf/recall/internal/config"
	gormstore "github.com/thebtf/recall/internal/db/gorm"
	"github.com/thebtf/recall/pkg/models"
)

func newTestManager(t *testing.T, clk clock.Clock) *Manager {
	t.Helper()

	store, err := gormstore.NewStore(gormstore.Config{
		Path:     filepath.Join(t.TempDir(), "recall.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.DefaultProjectPath = "/home/dev/fallback"

	activity := cache.NewMemoryCache(time.Minute, clk)
	m := NewManager(cfg, gormstore.NewFolderStore(store), gormstore.NewSessionStore(store), activity, clk)
	t.Cleanup(m.Shutdown)
	return m
}

func TestResolve_CreatesFolderAndSessionLazily(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	a, created, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, a.SessionID)
	assert.Equal(t, models.FolderIDForPath("/home/dev/demo"), a.FolderID)
	assert.Equal(t, "/home/dev/demo", a.ProjectPath)
}

func TestResolve_ReusesOpenSession(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	first, _, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	second, created, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestResolve_TerminalsShareTheFolderSession(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	a, _, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)
	b, created, err := m.Resolve(context.Background(), "term-2", "/home/dev/demo")
	require.NoError(t, err)

	assert.False(t, created, "one active session per folder")
	assert.Equal(t, a.SessionID, b.SessionID)
}

func TestResolve_EmptyPathUsesDefault(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	a, _, err := m.Resolve(context.Background(), "term-1", "")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/fallback", a.ProjectPath)
}

func TestFinalize_ClosesAndForgets(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	a, _, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)

	sess, err := m.Finalize(context.Background(), a.SessionID, "shipped the login form")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, sess.Status)
	assert.Equal(t, "shipped the login form", sess.Summary.String)

	// The terminal mapping is gone, so the next capture opens a new session.
	b, created, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestFinalize_UnknownSession(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	_, err := m.Finalize(context.Background(), "no-such-session", "")
	assert.ErrorIs(t, err, gormstore.ErrSessionNotOpen)
}

func TestSweepIdle_FinalizesStaleSessions(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	a, _, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)

	// Within the window the sweep leaves the session alone.
	clk.Advance(29 * time.Minute)
	closed, err := m.SweepIdle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, closed)

	clk.Advance(2 * time.Minute)
	closed, err = m.SweepIdle(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{a.SessionID}, closed)

	b, created, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestTouch_KeepsSessionAlive(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)

	a, _, err := m.Resolve(context.Background(), "term-1", "/home/dev/demo")
	require.NoError(t, err)

	clk.Advance(20 * time.Minute)
	require.NoError(t, m.Touch(context.Background(), "term-1"))

	// 35 minutes after start but only 15 after the touch.
	clk.Advance(15 * time.Minute)
	closed, err := m.SweepIdle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, closed)
	_ = a
}

func TestInit_StartsWatcherOnce(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	m := newTestManager(t, clk)
	projectDir := t.TempDir()

	sess, created, err := m.Init(context.Background(), "term-1", projectDir, true)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, sess)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
	assert.Len(t, m.watchers, 1)

	// A second init for the same folder does not double-start.
	_, created, err = m.Init(context.Background(), "term-1", projectDir, true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, m.watchers, 1)
}
