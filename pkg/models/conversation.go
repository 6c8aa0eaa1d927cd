package models

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// InteractiveSentinel is the user input recorded when a bare invocation word
// opens an interactive sub-session with no argument.
const InteractiveSentinel = "[interactive session started]"

// ErrNilField is returned when a required field is missing from a write.
var ErrNilField = errors.New("required field is empty")

// Conversation is one extracted (userInput, claudeReply) dialogue turn.
// Unknown values are persisted as explicit NULLs, never as absent fields.
type Conversation struct {
	ID             int64           `db:"id" json:"id"`
	SessionID      string          `db:"session_id" json:"session_id"`
	TurnKey        string          `db:"turn_key" json:"turn_key"`
	UserInput      string          `db:"user_input" json:"user_input"`
	ClaudeReply    string          `db:"claude_reply" json:"claude_reply"`
	Timestamp      string          `db:"timestamp" json:"timestamp"`
	TimestampEpoch int64           `db:"timestamp_epoch" json:"timestamp_epoch"`
	Success        TriState        `db:"success" json:"success"`
	ErrorType      sql.NullString  `db:"error_type" json:"error_type,omitempty"`
	FilesInvolved  JSONStringArray `db:"files_involved" json:"files_involved"`
	TokensUsed     int64           `db:"tokens_used" json:"tokens_used"`
	ContextUsed    sql.NullString  `db:"context_used" json:"context_used,omitempty"`
	Embedding      []byte          `db:"embedding" json:"-"`
}

// ComputeTurnKey derives the idempotency key for a turn. Re-delivering the
// same chunks yields the same key, so duplicate batches upsert to one row.
func ComputeTurnKey(sessionID string, startEpoch int64, userInput string) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%d|%s", sessionID, startEpoch, userInput)))
	return hex.EncodeToString(sum[:16])
}

// NewConversation builds a turn record. ClaudeReply may be empty; absence of
// a reply is itself meaningful and still stored.
func NewConversation(sessionID, userInput, claudeReply string, startEpoch int64) *Conversation {
	return &Conversation{
		SessionID:      sessionID,
		TurnKey:        ComputeTurnKey(sessionID, startEpoch, userInput),
		UserInput:      userInput,
		ClaudeReply:    claudeReply,
		Timestamp:      time.UnixMilli(startEpoch).Format(time.RFC3339),
		TimestampEpoch: startEpoch,
		Success:        TriStateUnknown(),
	}
}

// Validate enforces the write contract: required fields present, tri-state
// flags pre-normalized. A failing record is rejected alone; the rest of its
// batch still commits.
func (c *Conversation) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("%w: session_id", ErrNilField)
	}
	if c.UserInput == "" {
		return fmt.Errorf("%w: user_input", ErrNilField)
	}
	if c.TurnKey == "" {
		return fmt.Errorf("%w: turn_key", ErrNilField)
	}
	if err := c.Success.Validate(); err != nil {
		return err
	}
	return nil
}
