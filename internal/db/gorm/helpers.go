// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"database/sql"

	"github.com/thebtf/recall/pkg/models"
)

// nullString converts a string to sql.NullString ("" becomes NULL).
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Converters between GORM rows and pkg/models types.

func fromModelFolder(f *models.ContextFolder) *ContextFolder {
	return &ContextFolder{
		ID:             f.ID,
		ProjectPath:    f.ProjectPath,
		Name:           f.Name,
		CreatedAt:      f.CreatedAt,
		CreatedAtEpoch: f.CreatedAtEpoch,
	}
}

func toModelFolder(f *ContextFolder) *models.ContextFolder {
	return &models.ContextFolder{
		ID:             f.ID,
		ProjectPath:    f.ProjectPath,
		Name:           f.Name,
		CreatedAt:      f.CreatedAt,
		CreatedAtEpoch: f.CreatedAtEpoch,
	}
}

func fromModelSession(s *models.ContextSession) *ContextSession {
	return &ContextSession{
		ID:                 s.ID,
		FolderID:           s.FolderID,
		TerminalSessionID:  s.TerminalSessionID,
		StartTime:          s.StartTime,
		StartTimeEpoch:     s.StartTimeEpoch,
		EndTime:            s.EndTime,
		EndTimeEpoch:       s.EndTimeEpoch,
		LastActivityEpoch:  s.LastActivityEpoch,
		TotalConversations: s.TotalConversations,
		SuccessRate:        s.SuccessRate,
		Summary:            s.Summary,
		Status:             s.Status,
	}
}

func toModelSession(s *ContextSession) *models.ContextSession {
	return &models.ContextSession{
		ID:                 s.ID,
		FolderID:           s.FolderID,
		TerminalSessionID:  s.TerminalSessionID,
		StartTime:          s.StartTime,
		StartTimeEpoch:     s.StartTimeEpoch,
		EndTime:            s.EndTime,
		EndTimeEpoch:       s.EndTimeEpoch,
		LastActivityEpoch:  s.LastActivityEpoch,
		TotalConversations: s.TotalConversations,
		SuccessRate:        s.SuccessRate,
		Summary:            s.Summary,
		Status:             s.Status,
	}
}

func fromModelConversation(c *models.Conversation) *ClaudeConversation {
	return &ClaudeConversation{
		SessionID:      c.SessionID,
		TurnKey:        c.TurnKey,
		UserInput:      c.UserInput,
		ClaudeReply:    c.ClaudeReply,
		Timestamp:      c.Timestamp,
		TimestampEpoch: c.TimestampEpoch,
		Success:        c.Success,
		ErrorType:      c.ErrorType,
		FilesInvolved:  c.FilesInvolved,
		TokensUsed:     c.TokensUsed,
		ContextUsed:    c.ContextUsed,
		Embedding:      c.Embedding,
	}
}

func toModelConversation(c *ClaudeConversation) *models.Conversation {
	return &models.Conversation{
		ID:             c.ID,
		SessionID:      c.SessionID,
		TurnKey:        c.TurnKey,
		UserInput:      c.UserInput,
		ClaudeReply:    c.ClaudeReply,
		Timestamp:      c.Timestamp,
		TimestampEpoch: c.TimestampEpoch,
		Success:        c.Success,
		ErrorType:      c.ErrorType,
		FilesInvolved:  c.FilesInvolved,
		TokensUsed:     c.TokensUsed,
		ContextUsed:    c.ContextUsed,
		Embedding:      c.Embedding,
	}
}

func fromModelPattern(p *models.DetectedPattern) *DetectedPattern {
	return &DetectedPattern{
		FolderID:              p.FolderID,
		SessionID:             p.SessionID,
		PatternType:           p.Type,
		Description:           p.Description,
		NormalizedDescription: p.NormalizedDescription,
		Frequency:             p.Frequency,
		Confidence:            p.Confidence,
		FirstSeen:             p.FirstSeen,
		FirstSeenEpoch:        p.FirstSeenEpoch,
		LastSeen:              p.LastSeen,
		LastSeenEpoch:         p.LastSeenEpoch,
		Metadata:              p.Metadata,
	}
}

func toModelPattern(p *DetectedPattern) *models.DetectedPattern {
	return &models.DetectedPattern{
		ID:                    p.ID,
		FolderID:              p.FolderID,
		SessionID:             p.SessionID,
		Type:                  p.PatternType,
		Description:           p.Description,
		NormalizedDescription: p.NormalizedDescription,
		Frequency:             p.Frequency,
		Confidence:            p.Confidence,
		FirstSeen:             p.FirstSeen,
		FirstSeenEpoch:        p.FirstSeenEpoch,
		LastSeen:              p.LastSeen,
		LastSeenEpoch:         p.LastSeenEpoch,
		Metadata:              p.Metadata,
	}
}

func fromModelInsight(i *models.LearnedInsight) *LearnedInsight {
	return &LearnedInsight{
		FolderID:       i.FolderID,
		InsightType:    i.InsightType,
		Title:          i.Title,
		Content:        i.Content,
		Confidence:     i.Confidence,
		UsageCount:     i.UsageCount,
		CreatedAt:      i.CreatedAt,
		CreatedAtEpoch: i.CreatedAtEpoch,
	}
}

func toModelInsight(i *LearnedInsight) *models.LearnedInsight {
	return &models.LearnedInsight{
		ID:             i.ID,
		FolderID:       i.FolderID,
		InsightType:    i.InsightType,
		Title:          i.Title,
		Content:        i.Content,
		Confidence:     i.Confidence,
		UsageCount:     i.UsageCount,
		CreatedAt:      i.CreatedAt,
		CreatedAtEpoch: i.CreatedAtEpoch,
	}
}
