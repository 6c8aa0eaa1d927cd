// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// newTestStore opens a fresh SQLite store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "recall_gorm_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := NewStore(Config{
		Path:     filepath.Join(tmpDir, "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Ping())
	require.Equal(t, "sqlite", store.Dialect())

	var journalMode string
	err := store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error
	require.NoError(t, err)
	require.Equal(t, "wal", journalMode)

	tables := []string{
		"context_folders",
		"context_sessions",
		"claude_conversations",
		"detected_patterns",
		"learned_insights",
	}
	for _, table := range tables {
		require.True(t, store.DB.Migrator().HasTable(table), "table %q does not exist", table)
	}
}

func TestMigrationIdempotency(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recall_gorm_idempotency_*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	cfg := Config{Path: dbPath, LogLevel: logger.Silent}

	store1, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	// Reopening must replay no migrations and leave the schema intact.
	store2, err := NewStore(cfg)
	require.NoError(t, err)
	defer store2.Close()
	require.True(t, store2.DB.Migrator().HasTable("claude_conversations"))
}

func TestFolderStore_EnsureFolderIdempotent(t *testing.T) {
	store := newTestStore(t)
	folders := NewFolderStore(store)
	ctx := context.Background()

	f1, err := folders.EnsureFolder(ctx, "/tmp/projects/demo")
	require.NoError(t, err)
	require.NotEmpty(t, f1.ID)
	require.Equal(t, "demo", f1.Name)

	f2, err := folders.EnsureFolder(ctx, "/tmp/projects/demo")
	require.NoError(t, err)
	require.Equal(t, f1.ID, f2.ID)
	require.Equal(t, f1.CreatedAtEpoch, f2.CreatedAtEpoch, "re-ensure must not rewrite the row")

	n, err := folders.CountFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestSessionStore_EnsureOpenSession(t *testing.T) {
	store := newTestStore(t)
	folders := NewFolderStore(store)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	folder, err := folders.EnsureFolder(ctx, "/tmp/projects/demo")
	require.NoError(t, err)

	now := time.Now()
	idle := 30 * time.Minute

	s1, created, err := sessions.EnsureOpenSession(ctx, folder.ID, "term-1", idle, now)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "term-1", s1.TerminalSessionID.String)

	// Within the idle window the same session is reused.
	s2, created, err := sessions.EnsureOpenSession(ctx, folder.ID, "term-1", idle, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, s1.ID, s2.ID)

	// Past the idle window the old session is finalized and a new one opens.
	later := now.Add(idle + time.Minute)
	s3, created, err := sessions.EnsureOpenSession(ctx, folder.ID, "term-2", idle, later)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, s1.ID, s3.ID)

	old, err := sessions.GetSession(ctx, s1.ID)
	require.NoError(t, err)
	require.False(t, old.IsOpen())
	require.True(t, old.EndTimeEpoch.Valid)
}

func TestSessionStore_SchemaEnforcesOneActiveSession(t *testing.T) {
	store := newTestStore(t)
	folders := NewFolderStore(store)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	folder, err := folders.EnsureFolder(ctx, "/tmp/projects/demo")
	require.NoError(t, err)

	now := time.Now()
	open, created, err := sessions.EnsureOpenSession(ctx, folder.ID, "term-1", time.Hour, now)
	require.NoError(t, err)
	require.True(t, created)

	// A second active row for the folder is rejected by the partial unique
	// index, even when it bypasses EnsureOpenSession entirely.
	err = store.DB.Exec(
		`INSERT INTO context_sessions (id, folder_id, start_time, start_time_epoch, last_activity_epoch, status)
		 VALUES (?, ?, ?, ?, ?, 'active')`,
		"sess-dupe", folder.ID, now.Format(time.RFC3339), now.UnixMilli(), now.UnixMilli()).Error
	require.Error(t, err, "second active session for a folder must violate the schema")

	// Completed sessions do not occupy the slot.
	err = store.DB.Exec(
		`INSERT INTO context_sessions (id, folder_id, start_time, start_time_epoch, last_activity_epoch, status)
		 VALUES (?, ?, ?, ?, ?, 'completed')`,
		"sess-old", folder.ID, now.Format(time.RFC3339), now.UnixMilli(), now.UnixMilli()).Error
	require.NoError(t, err)

	// A writer losing the insert race adopts the winner instead of erroring.
	again, created, err := sessions.EnsureOpenSession(ctx, folder.ID, "term-2", time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, open.ID, again.ID)
}

func TestSessionStore_FinalizeSession(t *testing.T) {
	store := newTestStore(t)
	folders := NewFolderStore(store)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	folder, err := folders.EnsureFolder(ctx, "/tmp/projects/demo")
	require.NoError(t, err)

	now := time.Now()
	open, _, err := sessions.EnsureOpenSession(ctx, folder.ID, "term-1", time.Hour, now)
	require.NoError(t, err)

	done, err := sessions.FinalizeSession(ctx, open.ID, "wired the parser", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "completed", string(done.Status))
	require.Equal(t, "wired the parser", done.Summary.String)

	// Finalizing twice fails: the session is no longer open.
	_, err = sessions.FinalizeSession(ctx, open.ID, "", now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrSessionNotOpen)

	// Unknown session behaves the same.
	_, err = sessions.FinalizeSession(ctx, "nope", "", now)
	require.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestSessionStore_TouchIgnoresStaleWatermarks(t *testing.T) {
	store := newTestStore(t)
	folders := NewFolderStore(store)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	folder, err := folders.EnsureFolder(ctx, "/tmp/projects/demo")
	require.NoError(t, err)

	now := time.Now()
	open, _, err := sessions.EnsureOpenSession(ctx, folder.ID, "", time.Hour, now)
	require.NoError(t, err)

	newer := now.Add(time.Minute).UnixMilli()
	require.NoError(t, sessions.TouchSession(ctx, open.ID, newer))

	// An out-of-order touch must not move the watermark backwards.
	require.NoError(t, sessions.TouchSession(ctx, open.ID, now.UnixMilli()))

	got, err := sessions.GetSession(ctx, open.ID)
	require.NoError(t, err)
	require.Equal(t, newer, got.LastActivityEpoch)
}

func TestSessionStore_FinalizeIdleSessions(t *testing.T) {
	store := newTestStore(t)
	folders := NewFolderStore(store)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	now := time.Now()

	fA, err := folders.EnsureFolder(ctx, "/tmp/projects/alpha")
	require.NoError(t, err)
	fB, err := folders.EnsureFolder(ctx, "/tmp/projects/beta")
	require.NoError(t, err)

	idleSession, _, err := sessions.EnsureOpenSession(ctx, fA.ID, "", time.Hour, now.Add(-time.Hour))
	require.NoError(t, err)
	freshSession, _, err := sessions.EnsureOpenSession(ctx, fB.ID, "", time.Hour, now)
	require.NoError(t, err)

	cutoff := now.Add(-30 * time.Minute).UnixMilli()
	closed, err := sessions.FinalizeIdleSessions(ctx, cutoff, now)
	require.NoError(t, err)
	require.Equal(t, []string{idleSession.ID}, closed)

	stillOpen, err := sessions.GetSession(ctx, freshSession.ID)
	require.NoError(t, err)
	require.True(t, stillOpen.IsOpen())
}
