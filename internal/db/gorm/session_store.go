// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/recall/pkg/models"
)

// ErrSessionNotOpen is returned when finalizing a session that is missing or
// already completed.
var ErrSessionNotOpen = errors.New("session is not open")

// SessionStore provides context-session database operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// EnsureOpenSession returns the folder's active session, rotating to a fresh
// one when the current session has been idle longer than idleTimeout. At
// most one session per folder is active. The second return reports whether a
// new session was created.
func (s *SessionStore) EnsureOpenSession(ctx context.Context, folderID, terminalSessionID string, idleTimeout time.Duration, now time.Time) (*models.ContextSession, bool, error) {
	var (
		out     *models.ContextSession
		created bool
	)
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		var row ContextSession
		err := tx.Where("folder_id = ? AND status = ?", folderID, models.SessionStatusActive).
			Order("start_time_epoch DESC").
			First(&row).Error
		switch {
		case err == nil:
			if now.UnixMilli()-row.LastActivityEpoch <= idleTimeout.Milliseconds() {
				// Adopt the terminal session id when the open session was
				// created without one.
				if terminalSessionID != "" && !row.TerminalSessionID.Valid {
					row.TerminalSessionID = nullString(terminalSessionID)
					if err := tx.Model(&ContextSession{}).Where("id = ?", row.ID).
						Update("terminal_session_id", row.TerminalSessionID).Error; err != nil {
						return err
					}
				}
				out = toModelSession(&row)
				return nil
			}
			// Idle past the threshold: close it and open a fresh one.
			if err := finalizeSessionTx(tx, row.ID, "", now); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No open session; fall through to create.
		default:
			return err
		}

		fresh := models.NewContextSession(folderID, terminalSessionID)
		fresh.StartTime = now.Format(time.RFC3339)
		fresh.StartTimeEpoch = now.UnixMilli()
		fresh.LastActivityEpoch = now.UnixMilli()
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(fromModelSession(fresh))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent writer opened the folder's session first; the
			// partial unique index on (folder_id) WHERE active kept this
			// insert out. Adopt the winner.
			var winner ContextSession
			if err := tx.Where("folder_id = ? AND status = ?", folderID, models.SessionStatusActive).
				Order("start_time_epoch DESC").
				First(&winner).Error; err != nil {
				return err
			}
			out = toModelSession(&winner)
			return nil
		}
		out = fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("ensure open session: %w", err)
	}
	return out, created, nil
}

// FinalizeSession closes an open session, freezing its stats and recording
// the optional summary. Returns ErrSessionNotOpen when the session is
// missing or already completed.
func (s *SessionStore) FinalizeSession(ctx context.Context, sessionID, summary string, now time.Time) (*models.ContextSession, error) {
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		return finalizeSessionTx(tx, sessionID, summary, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

// finalizeSessionTx recomputes session stats and marks the session
// completed, all within the caller's transaction.
func finalizeSessionTx(tx *gorm.DB, sessionID, summary string, now time.Time) error {
	if err := recomputeSessionStatsTx(tx, sessionID); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"end_time":       now.Format(time.RFC3339),
		"end_time_epoch": now.UnixMilli(),
		"status":         models.SessionStatusCompleted,
	}
	if summary != "" {
		updates["summary"] = summary
	}
	res := tx.Model(&ContextSession{}).
		Where("id = ? AND status = ?", sessionID, models.SessionStatusActive).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotOpen
	}
	return nil
}

// recomputeSessionStatsTx refreshes total_conversations and success_rate
// from the conversations table. NULL success values stay out of the average
// so unknown outcomes never count as failures.
func recomputeSessionStatsTx(tx *gorm.DB, sessionID string) error {
	return tx.Exec(`UPDATE context_sessions SET
		total_conversations = (SELECT COUNT(*) FROM claude_conversations WHERE session_id = ?),
		success_rate = (SELECT COALESCE(AVG(success), 0) FROM claude_conversations WHERE session_id = ? AND success IS NOT NULL)
		WHERE id = ?`, sessionID, sessionID, sessionID).Error
}

// TouchSession advances a session's last-activity watermark. Stale touches
// (older than the stored watermark) are ignored.
func (s *SessionStore) TouchSession(ctx context.Context, sessionID string, epoch int64) error {
	return s.store.DB.WithContext(ctx).Model(&ContextSession{}).
		Where("id = ? AND last_activity_epoch < ?", sessionID, epoch).
		Update("last_activity_epoch", epoch).Error
}

// GetSession retrieves a session by ID. Returns nil when not found.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*models.ContextSession, error) {
	var row ContextSession
	err := s.store.DB.WithContext(ctx).Where("id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// OpenSession returns the folder's active session, or nil when the folder
// has none.
func (s *SessionStore) OpenSession(ctx context.Context, folderID string) (*models.ContextSession, error) {
	var row ContextSession
	err := s.store.DB.WithContext(ctx).
		Where("folder_id = ? AND status = ?", folderID, models.SessionStatusActive).
		Order("start_time_epoch DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// LatestOpenSession returns the most recently started active session across
// all folders, or nil when none is open.
func (s *SessionStore) LatestOpenSession(ctx context.Context) (*models.ContextSession, error) {
	var row ContextSession
	err := s.store.DB.WithContext(ctx).
		Where("status = ?", models.SessionStatusActive).
		Order("start_time_epoch DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelSession(&row), nil
}

// RecentSessions returns the folder's sessions ordered by start time,
// newest first.
func (s *SessionStore) RecentSessions(ctx context.Context, folderID string, limit int) ([]*models.ContextSession, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []ContextSession
	err := s.store.DB.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Order("start_time_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.ContextSession, 0, len(rows))
	for i := range rows {
		out = append(out, toModelSession(&rows[i]))
	}
	return out, nil
}

// FinalizeIdleSessions closes every active session whose last activity
// predates cutoffEpoch. Returns the IDs of the sessions that were closed.
// Driven by the wall-clock sweep, not by request handling.
func (s *SessionStore) FinalizeIdleSessions(ctx context.Context, cutoffEpoch int64, now time.Time) ([]string, error) {
	var closed []string
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&ContextSession{}).
			Where("status = ? AND last_activity_epoch < ?", models.SessionStatusActive, cutoffEpoch).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := finalizeSessionTx(tx, id, "", now); err != nil {
				return err
			}
		}
		closed = ids
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finalize idle sessions: %w", err)
	}
	return closed, nil
}

// CountSessions returns the number of sessions, scoped to a folder when
// folderID is non-empty.
func (s *SessionStore) CountSessions(ctx context.Context, folderID string) (int64, error) {
	q := s.store.DB.WithContext(ctx).Model(&ContextSession{})
	if folderID != "" {
		q = q.Where("folder_id = ?", folderID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// sessionBrief converts a session row into the compact resumption view.
func sessionBrief(row *ContextSession) models.SessionBrief {
	brief := models.SessionBrief{
		ID:                 row.ID,
		StartTimeEpoch:     row.StartTimeEpoch,
		TotalConversations: row.TotalConversations,
		SuccessRate:        row.SuccessRate,
	}
	if row.EndTimeEpoch.Valid {
		brief.EndTimeEpoch = row.EndTimeEpoch.Int64
	}
	if row.Summary.Valid {
		brief.Summary = row.Summary.String
	}
	return brief
}
