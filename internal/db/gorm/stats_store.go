// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/pkg/models"
)

// collaboratorWindow bounds how far back collaborator updates reach.
const collaboratorWindow = 24 * time.Hour

// replyExcerptLen bounds the reply excerpt in collaborator updates.
const replyExcerptLen = 160

// StatsStore serves the read-side aggregates: stats and resumption context.
// It never writes.
type StatsStore struct {
	store         *Store
	folders       *FolderStore
	sessions      *SessionStore
	conversations *ConversationStore
	patterns      *PatternStore
	insights      *InsightStore
}

// NewStatsStore creates a new stats store.
func NewStatsStore(store *Store) *StatsStore {
	return &StatsStore{
		store:         store,
		folders:       NewFolderStore(store),
		sessions:      NewSessionStore(store),
		conversations: NewConversationStore(store),
		patterns:      NewPatternStore(store),
		insights:      NewInsightStore(store),
	}
}

// GetStats aggregates counts and the global success rate, scoped to a folder
// when folderID is non-empty. Pattern data that cannot be read is reported
// as zero and listed in Degraded instead of failing the whole response.
func (s *StatsStore) GetStats(ctx context.Context, folderID string) (*models.Stats, error) {
	stats := &models.Stats{}

	var err error
	if stats.TotalFolders, err = s.folders.CountFolders(ctx); err != nil {
		return nil, fmt.Errorf("count folders: %w", err)
	}
	if stats.TotalSessions, err = s.sessions.CountSessions(ctx, folderID); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if stats.TotalConversations, err = s.conversations.CountConversations(ctx, folderID); err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}
	if stats.SuccessRate, err = s.conversations.GlobalSuccessRate(ctx, folderID); err != nil {
		return nil, fmt.Errorf("success rate: %w", err)
	}

	if stats.TotalPatterns, err = s.patterns.CountPatterns(ctx, folderID); err != nil {
		log.Warn().Err(err).Msg("Pattern stats unavailable, reporting zero")
		stats.TotalPatterns = 0
		stats.Degraded = append(stats.Degraded, "patterns")
	}

	if folderID != "" {
		open, err := s.sessions.OpenSession(ctx, folderID)
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		if open != nil {
			stats.CurrentSession = open.ID
		}
	}

	return stats, nil
}

// GetResumptionContext assembles what a fresh session should know about
// prior work in the folder: previous session briefs, recent turns from other
// sessions, suggested actions and a continuity score.
func (s *StatsStore) GetResumptionContext(ctx context.Context, folderID, currentSessionID string, now time.Time) (*models.ResumptionContext, error) {
	out := &models.ResumptionContext{
		PreviousSessions:    []models.SessionBrief{},
		CollaboratorUpdates: []models.CollaboratorUpdate{},
		SuggestedActions:    []string{},
	}

	var rows []ContextSession
	q := s.store.DB.WithContext(ctx).Where("folder_id = ?", folderID)
	if currentSessionID != "" {
		q = q.Where("id <> ?", currentSessionID)
	}
	if err := q.Order("start_time_epoch DESC").Limit(5).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("previous sessions: %w", err)
	}
	for i := range rows {
		out.PreviousSessions = append(out.PreviousSessions, sessionBrief(&rows[i]))
	}

	since := now.Add(-collaboratorWindow).UnixMilli()
	convs, err := s.conversations.ConversationsForFolder(ctx, folderID, since, currentSessionID, 10)
	if err != nil {
		return nil, fmt.Errorf("collaborator updates: %w", err)
	}
	for _, c := range convs {
		out.CollaboratorUpdates = append(out.CollaboratorUpdates, models.CollaboratorUpdate{
			SessionID:      c.SessionID,
			UserInput:      c.UserInput,
			ReplyExcerpt:   excerpt(c.ClaudeReply, replyExcerptLen),
			TimestampEpoch: c.TimestampEpoch,
		})
	}

	out.SuggestedActions = s.suggestActions(ctx, folderID, rows)
	out.ContinuityScore = continuityScore(rows, now)

	return out, nil
}

// suggestActions derives next-step hints from the latest summary and the
// folder's most frequent error patterns. Best effort: lookup failures yield
// fewer suggestions, never an error.
func (s *StatsStore) suggestActions(ctx context.Context, folderID string, sessions []ContextSession) []string {
	actions := []string{}

	for i := range sessions {
		if sessions[i].Summary.Valid && sessions[i].Summary.String != "" {
			actions = append(actions, "Resume where the last session left off: "+excerpt(sessions[i].Summary.String, 120))
			break
		}
	}

	errPatterns, err := s.patterns.PatternsByType(ctx, folderID, models.PatternErrorSolution, 3)
	if err != nil {
		log.Warn().Err(err).Str("folder_id", folderID).Msg("Pattern suggestions unavailable")
		return actions
	}
	for _, p := range errPatterns {
		if p.Frequency >= 2 {
			actions = append(actions, "Watch for recurring error: "+excerpt(p.Description, 120))
		}
	}

	insights, err := s.insights.ListInsights(ctx, folderID, 2)
	if err != nil {
		log.Warn().Err(err).Str("folder_id", folderID).Msg("Insight suggestions unavailable")
		return actions
	}
	for _, ins := range insights {
		actions = append(actions, "Apply known insight: "+excerpt(ins.Title, 120))
	}

	return actions
}

// continuityScore blends recency of the latest activity with how much prior
// work exists in the folder. Range [0, 1].
func continuityScore(sessions []ContextSession, now time.Time) float64 {
	if len(sessions) == 0 {
		return 0
	}
	var latest int64
	for i := range sessions {
		if sessions[i].LastActivityEpoch > latest {
			latest = sessions[i].LastActivityEpoch
		}
	}
	hours := float64(now.UnixMilli()-latest) / float64(time.Hour.Milliseconds())
	recency := 1 - hours/72
	if recency < 0 {
		recency = 0
	}
	volume := float64(len(sessions)) / 5
	if volume > 1 {
		volume = 1
	}
	return 0.6*recency + 0.4*volume
}

// excerpt truncates s to max runes, appending an ellipsis when cut.
func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
