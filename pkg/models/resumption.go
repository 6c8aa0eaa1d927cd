package models

// Stats is the read-side aggregate served by the stats endpoint. Degraded
// lists fields that were unavailable and reported as zero rather than
// fabricated.
type Stats struct {
	TotalFolders       int64    `json:"totalFolders"`
	TotalSessions      int64    `json:"totalSessions"`
	TotalConversations int64    `json:"totalConversations"`
	TotalPatterns      int64    `json:"totalPatterns"`
	SuccessRate        float64  `json:"successRate"`
	CurrentSession     string   `json:"currentSession,omitempty"`
	Degraded           []string `json:"degraded,omitempty"`
}

// SessionBrief is a compact view of a prior session for resumption.
type SessionBrief struct {
	ID                 string  `json:"id"`
	StartTimeEpoch     int64   `json:"start_time_epoch"`
	EndTimeEpoch       int64   `json:"end_time_epoch,omitempty"`
	TotalConversations int64   `json:"total_conversations"`
	SuccessRate        float64 `json:"success_rate"`
	Summary            string  `json:"summary,omitempty"`
}

// CollaboratorUpdate is a recent conversation from another session in the
// same folder.
type CollaboratorUpdate struct {
	SessionID      string `json:"session_id"`
	UserInput      string `json:"user_input"`
	ReplyExcerpt   string `json:"reply_excerpt"`
	TimestampEpoch int64  `json:"timestamp_epoch"`
}

// ResumptionContext seeds a new session with prior work in the same folder.
type ResumptionContext struct {
	PreviousSessions    []SessionBrief       `json:"previousSessions"`
	CollaboratorUpdates []CollaboratorUpdate `json:"collaboratorUpdates"`
	SuggestedActions    []string             `json:"suggestedActions"`
	ContinuityScore     float64              `json:"continuityScore"`
}
