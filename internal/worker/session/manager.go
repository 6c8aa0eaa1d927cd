// Package session maps terminal session IDs onto open context sessions and
// drives the idle lifecycle: lazy creation on first capture, wall-clock idle
// finalization, explicit finalize with summary.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/cache"
	"github.com/thebtf/recall/internal/clock"
	"github.com/thebtf/recall/internal/config"
	gormstore "github.com/thebtf/recall/internal/db/gorm"
	"github.com/thebtf/recall/internal/watcher"
	"github.com/thebtf/recall/pkg/models"
)

// Active is the in-memory view of one terminal's open session.
type Active struct {
	SessionID   string
	FolderID    string
	ProjectPath string
	LastSeen    time.Time
}

// Manager owns the terminal-to-session mapping. All database writes go
// through the stores; the map is only a routing shortcut and is rebuilt
// lazily after restart.
type Manager struct {
	cfg      *config.Config
	folders  *gormstore.FolderStore
	sessions *gormstore.SessionStore
	activity cache.ActivityCache
	clk      clock.Clock

	mu       sync.Mutex
	active   map[string]*Active                 // terminal session id -> session
	watchers map[string]*watcher.ProjectWatcher // folder id -> watcher
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, folders *gormstore.FolderStore, sessions *gormstore.SessionStore, activity cache.ActivityCache, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System()
	}
	return &Manager{
		cfg:      cfg,
		folders:  folders,
		sessions: sessions,
		activity: activity,
		clk:      clk,
		active:   make(map[string]*Active),
		watchers: make(map[string]*watcher.ProjectWatcher),
	}
}

// Resolve returns the open session for a terminal, creating folder and
// session on first sight. An empty projectPath falls back to the configured
// default. The second return reports whether a new session was created.
func (m *Manager) Resolve(ctx context.Context, terminalSessionID, projectPath string) (*Active, bool, error) {
	now := m.clk.Now()

	m.mu.Lock()
	if a, ok := m.active[terminalSessionID]; ok && now.Sub(a.LastSeen) <= m.cfg.SessionIdleTimeout() {
		a.LastSeen = now
		m.mu.Unlock()
		return a, false, nil
	}
	m.mu.Unlock()

	if projectPath == "" {
		projectPath = m.cfg.DefaultProjectPath
	}
	folder, err := m.folders.EnsureFolder(ctx, projectPath)
	if err != nil {
		return nil, false, err
	}
	sess, created, err := m.sessions.EnsureOpenSession(ctx, folder.ID, terminalSessionID, m.cfg.SessionIdleTimeout(), now)
	if err != nil {
		return nil, false, err
	}

	a := &Active{
		SessionID:   sess.ID,
		FolderID:    folder.ID,
		ProjectPath: folder.ProjectPath,
		LastSeen:    now,
	}
	m.mu.Lock()
	if terminalSessionID != "" {
		m.active[terminalSessionID] = a
	}
	m.mu.Unlock()

	if created {
		log.Info().
			Str("session_id", sess.ID).
			Str("folder_id", folder.ID).
			Str("terminal_session_id", terminalSessionID).
			Msg("Opened context session")
	}
	return a, created, nil
}

// Init handles an explicit session-init request: ensures the session and
// optionally starts a project watcher for the folder.
func (m *Manager) Init(ctx context.Context, terminalSessionID, projectPath string, enableWatcher bool) (*models.ContextSession, bool, error) {
	a, created, err := m.Resolve(ctx, terminalSessionID, projectPath)
	if err != nil {
		return nil, false, err
	}
	if enableWatcher {
		m.startWatcher(ctx, a.FolderID, a.ProjectPath)
	}
	sess, err := m.sessions.GetSession(ctx, a.SessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, created, nil
}

// startWatcher spins up at most one watcher per folder. Watcher trouble is
// logged, never surfaced: the watcher only enriches detection.
func (m *Manager) startWatcher(ctx context.Context, folderID, projectPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[folderID]; ok {
		return
	}
	w, err := watcher.New(folderID, projectPath, m.activity)
	if err != nil {
		log.Warn().Err(err).Str("folder_id", folderID).Msg("Could not create project watcher")
		return
	}
	if err := w.Start(ctx); err != nil {
		log.Warn().Err(err).Str("folder_id", folderID).Msg("Could not start project watcher")
		return
	}
	m.watchers[folderID] = w
}

// Touch advances the session's activity watermark in memory and in the
// store.
func (m *Manager) Touch(ctx context.Context, terminalSessionID string) error {
	now := m.clk.Now()
	m.mu.Lock()
	a, ok := m.active[terminalSessionID]
	if ok {
		a.LastSeen = now
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.sessions.TouchSession(ctx, a.SessionID, now.UnixMilli())
}

// Finalize closes a session explicitly, recording the optional summary, and
// forgets any terminal mapping pointing at it.
func (m *Manager) Finalize(ctx context.Context, sessionID, summary string) (*models.ContextSession, error) {
	sess, err := m.sessions.FinalizeSession(ctx, sessionID, summary, m.clk.Now())
	if err != nil {
		return nil, err
	}
	m.forget(sessionID)
	return sess, nil
}

// SweepIdle finalizes every session idle past the configured timeout.
// Returns the closed session IDs.
func (m *Manager) SweepIdle(ctx context.Context) ([]string, error) {
	now := m.clk.Now()
	cutoff := now.Add(-m.cfg.SessionIdleTimeout()).UnixMilli()
	closed, err := m.sessions.FinalizeIdleSessions(ctx, cutoff, now)
	if err != nil {
		return nil, err
	}
	for _, id := range closed {
		m.forget(id)
		log.Info().Str("session_id", id).Msg("Finalized idle session")
	}
	return closed, nil
}

// forget drops every terminal mapping that points at sessionID.
func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	for term, a := range m.active {
		if a.SessionID == sessionID {
			delete(m.active, term)
		}
	}
	m.mu.Unlock()
}

// Shutdown stops the project watchers. Open sessions stay open: a restart
// within the idle window resumes them, and the idle sweep closes the rest.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[string]*watcher.ProjectWatcher)
	m.mu.Unlock()

	for folderID, w := range watchers {
		if err := w.Stop(); err != nil {
			log.Warn().Err(err).Str("folder_id", folderID).Msg("Error stopping project watcher")
		}
	}
}
