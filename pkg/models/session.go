package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a context session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// ContextSession is one continuous work period within a folder. At most one
// session per folder is active at a time.
type ContextSession struct {
	ID                 string         `db:"id" json:"id"`
	FolderID           string         `db:"folder_id" json:"folder_id"`
	TerminalSessionID  sql.NullString `db:"terminal_session_id" json:"terminal_session_id,omitempty"`
	StartTime          string         `db:"start_time" json:"start_time"`
	StartTimeEpoch     int64          `db:"start_time_epoch" json:"start_time_epoch"`
	EndTime            sql.NullString `db:"end_time" json:"end_time,omitempty"`
	EndTimeEpoch       sql.NullInt64  `db:"end_time_epoch" json:"end_time_epoch,omitempty"`
	LastActivityEpoch  int64          `db:"last_activity_epoch" json:"last_activity_epoch"`
	TotalConversations int64          `db:"total_conversations" json:"total_conversations"`
	SuccessRate        float64        `db:"success_rate" json:"success_rate"`
	Summary            sql.NullString `db:"summary" json:"summary,omitempty"`
	Status             SessionStatus  `db:"status" json:"status"`
}

// NewContextSession opens a session for a folder.
func NewContextSession(folderID, terminalSessionID string) *ContextSession {
	now := time.Now()
	return &ContextSession{
		ID:                uuid.NewString(),
		FolderID:          folderID,
		TerminalSessionID: sql.NullString{String: terminalSessionID, Valid: terminalSessionID != ""},
		StartTime:         now.Format(time.RFC3339),
		StartTimeEpoch:    now.UnixMilli(),
		LastActivityEpoch: now.UnixMilli(),
		Status:            SessionStatusActive,
	}
}

// IsOpen reports whether the session is still accepting conversations.
func (s *ContextSession) IsOpen() bool {
	return s.Status == SessionStatusActive
}
