// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/recall/pkg/models"
)

// ConversationStore provides conversation database operations.
type ConversationStore struct {
	store *Store
}

// NewConversationStore creates a new conversation store.
func NewConversationStore(store *Store) *ConversationStore {
	return &ConversationStore{store: store}
}

// StoreConversations persists one session's extracted turns in a single
// transaction. Records that fail validation are rejected individually while
// the rest of the batch commits. Redelivered turns hit the turn_key unique
// index and are skipped, so retried batches never duplicate rows. Session
// stats are recomputed in the same transaction.
func (s *ConversationStore) StoreConversations(ctx context.Context, sessionID string, convs []*models.Conversation) (stored, rejected int, err error) {
	if len(convs) == 0 {
		return 0, 0, nil
	}
	err = s.store.WithTx(ctx, func(tx *gorm.DB) error {
		for _, c := range convs {
			if c.SessionID == "" {
				c.SessionID = sessionID
			}
			if verr := c.Validate(); verr != nil {
				rejected++
				log.Warn().
					Err(verr).
					Str("session_id", sessionID).
					Msg("Rejecting conversation record")
				continue
			}
			rec := fromModelConversation(c)
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "turn_key"}},
				DoNothing: true,
			}).Create(rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				c.ID = rec.ID
				stored++
			}
		}
		return recomputeSessionStatsTx(tx, sessionID)
	})
	if err != nil {
		return 0, 0, err
	}
	return stored, rejected, nil
}

// RecentConversations returns a session's turns ordered newest first.
func (s *ConversationStore) RecentConversations(ctx context.Context, sessionID string, limit int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []ClaudeConversation
	err := s.store.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp_epoch DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, toModelConversation(&rows[i]))
	}
	return out, nil
}

// ConversationsForFolder returns recent turns across a folder's sessions,
// optionally excluding one session and bounding by a since-epoch. Feeds the
// collaborator-updates section of resumption.
func (s *ConversationStore) ConversationsForFolder(ctx context.Context, folderID string, sinceEpoch int64, excludeSessionID string, limit int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	q := s.store.DB.WithContext(ctx).
		Table("claude_conversations").
		Joins("JOIN context_sessions ON context_sessions.id = claude_conversations.session_id").
		Where("context_sessions.folder_id = ?", folderID)
	if sinceEpoch > 0 {
		q = q.Where("claude_conversations.timestamp_epoch >= ?", sinceEpoch)
	}
	if excludeSessionID != "" {
		q = q.Where("claude_conversations.session_id <> ?", excludeSessionID)
	}
	var rows []ClaudeConversation
	err := q.Order("claude_conversations.timestamp_epoch DESC, claude_conversations.id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, toModelConversation(&rows[i]))
	}
	return out, nil
}

// CountConversations returns the number of turns, scoped to a folder when
// folderID is non-empty.
func (s *ConversationStore) CountConversations(ctx context.Context, folderID string) (int64, error) {
	q := s.store.DB.WithContext(ctx).Model(&ClaudeConversation{})
	if folderID != "" {
		q = q.Joins("JOIN context_sessions ON context_sessions.id = claude_conversations.session_id").
			Where("context_sessions.folder_id = ?", folderID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// GlobalSuccessRate averages the success flag over turns with a known
// outcome, scoped to a folder when folderID is non-empty. Unknown outcomes
// are excluded rather than counted as failures.
func (s *ConversationStore) GlobalSuccessRate(ctx context.Context, folderID string) (float64, error) {
	q := s.store.DB.WithContext(ctx).Model(&ClaudeConversation{}).
		Where("claude_conversations.success IS NOT NULL")
	if folderID != "" {
		q = q.Joins("JOIN context_sessions ON context_sessions.id = claude_conversations.session_id").
			Where("context_sessions.folder_id = ?", folderID)
	}
	var rate float64
	err := q.Select("COALESCE(AVG(claude_conversations.success), 0)").Scan(&rate).Error
	return rate, err
}
