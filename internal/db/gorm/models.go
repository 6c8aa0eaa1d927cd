// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/recall/pkg/models"
)

// GORM models for the five context tables. JSON column types
// (JSONStringArray, JSONMetadata) and TriState come from pkg/models and
// already implement sql.Scanner and driver.Valuer.

// ContextFolder groups all captured memory for one project root.
type ContextFolder struct {
	ID             string `gorm:"primaryKey;type:text"`
	ProjectPath    string `gorm:"uniqueIndex;not null"`
	Name           string `gorm:"not null"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (ContextFolder) TableName() string { return "context_folders" }

// BeforeCreate hook to ensure timestamps are set.
func (f *ContextFolder) BeforeCreate(tx *gorm.DB) error {
	if f.CreatedAtEpoch == 0 {
		f.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if f.CreatedAt == "" {
		f.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// ContextSession is one continuous work period within a folder.
type ContextSession struct {
	ID                 string               `gorm:"primaryKey;type:text"`
	FolderID           string               `gorm:"index;not null"`
	TerminalSessionID  sql.NullString       `gorm:"index"`
	StartTime          string               `gorm:"not null"`
	StartTimeEpoch     int64                `gorm:"index:idx_context_sessions_started,sort:desc;not null"`
	EndTime            sql.NullString
	EndTimeEpoch       sql.NullInt64
	LastActivityEpoch  int64                `gorm:"index;not null"`
	TotalConversations int64                `gorm:"default:0"`
	SuccessRate        float64              `gorm:"type:real;default:0"`
	Summary            sql.NullString       `gorm:"type:text"`
	Status             models.SessionStatus `gorm:"type:text;check:status IN ('active', 'completed');default:'active';index"`
}

func (ContextSession) TableName() string { return "context_sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *ContextSession) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if s.StartTimeEpoch == 0 {
		s.StartTimeEpoch = now.UnixMilli()
	}
	if s.StartTime == "" {
		s.StartTime = now.Format(time.RFC3339)
	}
	if s.LastActivityEpoch == 0 {
		s.LastActivityEpoch = s.StartTimeEpoch
	}
	if s.Status == "" {
		s.Status = models.SessionStatusActive
	}
	return nil
}

// ClaudeConversation is one extracted dialogue turn. The turn_key unique
// index makes batch redelivery idempotent. success is INTEGER 1/0/NULL,
// never a squashed boolean.
type ClaudeConversation struct {
	ID             int64                  `gorm:"primaryKey;autoIncrement"`
	SessionID      string                 `gorm:"index;not null"`
	TurnKey        string                 `gorm:"uniqueIndex;not null"`
	UserInput      string                 `gorm:"type:text;not null"`
	ClaudeReply    string                 `gorm:"type:text"`
	Timestamp      string                 `gorm:"not null"`
	TimestampEpoch int64                  `gorm:"index:idx_conversations_ts,sort:desc;not null"`
	Success        models.TriState        `gorm:"type:integer"`
	ErrorType      sql.NullString         `gorm:"type:text"`
	FilesInvolved  models.JSONStringArray `gorm:"type:text"` // JSON array
	TokensUsed     int64                  `gorm:"default:0"`
	ContextUsed    sql.NullString         `gorm:"type:text"`
	Embedding      []byte
}

func (ClaudeConversation) TableName() string { return "claude_conversations" }

// BeforeCreate hook to ensure timestamps are set.
func (c *ClaudeConversation) BeforeCreate(tx *gorm.DB) error {
	if c.TimestampEpoch == 0 {
		c.TimestampEpoch = time.Now().UnixMilli()
	}
	if c.Timestamp == "" {
		c.Timestamp = time.Now().Format(time.RFC3339)
	}
	return nil
}

// DetectedPattern is a recurring structure. The composite unique index is the
// upsert identity: re-observation bumps frequency instead of inserting.
type DetectedPattern struct {
	ID                    int64               `gorm:"primaryKey;autoIncrement"`
	FolderID              string              `gorm:"index;uniqueIndex:idx_patterns_identity,priority:1;not null"`
	SessionID             string              `gorm:"index;not null"`
	PatternType           models.PatternType  `gorm:"type:text;check:pattern_type IN ('command_sequence', 'error_solution', 'file_cluster', 'success_signal');uniqueIndex:idx_patterns_identity,priority:2;not null"`
	Description           string              `gorm:"type:text;not null"`
	NormalizedDescription string              `gorm:"type:text;uniqueIndex:idx_patterns_identity,priority:3;not null"`
	Frequency             int64               `gorm:"default:1;index:idx_patterns_frequency,sort:desc"`
	Confidence            float64             `gorm:"type:real;default:0.3"`
	FirstSeen             string              `gorm:"not null"`
	FirstSeenEpoch        int64               `gorm:"not null"`
	LastSeen              string              `gorm:"not null"`
	LastSeenEpoch         int64               `gorm:"index:idx_patterns_last_seen,sort:desc;not null"`
	Metadata              models.JSONMetadata `gorm:"type:text"` // JSON object
}

func (DetectedPattern) TableName() string { return "detected_patterns" }

// BeforeCreate hook to ensure timestamps and defaults are set.
func (p *DetectedPattern) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.FirstSeenEpoch == 0 {
		p.FirstSeenEpoch = now.UnixMilli()
	}
	if p.FirstSeen == "" {
		p.FirstSeen = now.Format(time.RFC3339)
	}
	if p.LastSeenEpoch == 0 {
		p.LastSeenEpoch = p.FirstSeenEpoch
	}
	if p.LastSeen == "" {
		p.LastSeen = p.FirstSeen
	}
	if p.Frequency == 0 {
		p.Frequency = 1
	}
	if p.Confidence == 0 {
		p.Confidence = models.ConfidenceForFrequency(p.Frequency)
	}
	return nil
}

// LearnedInsight is a folder-scoped synthesis derived from patterns.
type LearnedInsight struct {
	ID             int64              `gorm:"primaryKey;autoIncrement"`
	FolderID       string             `gorm:"index;not null"`
	InsightType    models.InsightType `gorm:"type:text;check:insight_type IN ('workflow', 'pitfall', 'preference', 'architecture');index;not null"`
	Title          string             `gorm:"type:text;not null"`
	Content        string             `gorm:"type:text;not null"`
	Confidence     float64            `gorm:"type:real;default:0.5"`
	UsageCount     int64              `gorm:"default:0"`
	CreatedAt      string             `gorm:"not null"`
	CreatedAtEpoch int64              `gorm:"index:idx_insights_created,sort:desc;not null"`
}

func (LearnedInsight) TableName() string { return "learned_insights" }

// BeforeCreate hook to ensure timestamps are set.
func (i *LearnedInsight) BeforeCreate(tx *gorm.DB) error {
	if i.CreatedAtEpoch == 0 {
		i.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if i.CreatedAt == "" {
		i.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}
