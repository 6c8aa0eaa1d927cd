package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/recall/internal/cache"
	"github.com/thebtf/recall/internal/clock"
)

func TestProjectWatcher_RecordsModifiedFiles(t *testing.T) {
	root := t.TempDir()
	activity := cache.NewMemoryCache(time.Minute, clock.System())

	w, err := New("demo_abc123", root, activity)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	assert.Eventually(t, func() bool {
		files, err := activity.RecentFiles(context.Background(), "demo_abc123", 10)
		return err == nil && len(files) == 1 && files[0] == "main.go"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestProjectWatcher_IgnoresHiddenAndNoiseDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	activity := cache.NewMemoryCache(time.Minute, clock.System())

	w, err := New("demo_abc123", root, activity)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.go"), []byte("package kept\n"), 0o644))

	assert.Eventually(t, func() bool {
		files, err := activity.RecentFiles(context.Background(), "demo_abc123", 10)
		return err == nil && len(files) == 1 && files[0] == "kept.go"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestProjectWatcher_StopReturnsDuringEventBurst(t *testing.T) {
	root := t.TempDir()
	activity := cache.NewMemoryCache(time.Minute, clock.System())

	w, err := New("demo_abc123", root, activity)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	// Keep the event loop busy while Stop runs.
	burstDone := make(chan struct{})
	go func() {
		defer close(burstDone)
		for i := 0; i < 200; i++ {
			_ = os.WriteFile(filepath.Join(root, "busy.go"), []byte("package busy\n"), 0o644)
		}
	}()

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while events were in flight")
	}
	<-burstDone

	// Stop is idempotent.
	assert.NoError(t, w.Stop())
}

func TestIgnoredFile(t *testing.T) {
	assert.True(t, ignoredFile(".env"))
	assert.True(t, ignoredFile("main.go~"))
	assert.True(t, ignoredFile(filepath.Join("node_modules", "pkg", "index.js")))
	assert.True(t, ignoredFile(filepath.Join(".idea", "workspace.xml")))
	assert.False(t, ignoredFile("main.go"))
	assert.False(t, ignoredFile(filepath.Join("internal", "db", "store.go")))
}
