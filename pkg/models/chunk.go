// Package models contains domain models for recall.
package models

// ChunkType identifies the origin of a captured terminal fragment.
type ChunkType string

const (
	ChunkTerminalInput  ChunkType = "terminal_input"
	ChunkClaudeOutput   ChunkType = "claude_output"
	ChunkTerminalOutput ChunkType = "terminal_output"
)

// Chunk is one timestamped fragment of terminal activity as emitted by the
// chunk source. Timestamps are epoch milliseconds.
type Chunk struct {
	Timestamp      int64     `json:"timestamp"`
	Type           ChunkType `json:"type"`
	Content        string    `json:"content"`
	SessionID      string    `json:"sessionId"`
	FileContext    []string  `json:"fileContext,omitempty"`
	CommandContext string    `json:"commandContext,omitempty"`
}

// IsInput reports whether the chunk carries user keystrokes.
func (c *Chunk) IsInput() bool {
	return c.Type == ChunkTerminalInput
}

// IsOutput reports whether the chunk carries program or assistant output.
func (c *Chunk) IsOutput() bool {
	return c.Type == ChunkClaudeOutput || c.Type == ChunkTerminalOutput
}

// CaptureBatch is the body of a capture call.
type CaptureBatch struct {
	Chunks []Chunk `json:"chunks"`
}

// CaptureResponse is the success response of a capture call.
type CaptureResponse struct {
	Success            bool   `json:"success"`
	Processed          int    `json:"processed"`
	CurrentSession     string `json:"currentSession"`
	TotalConversations int64  `json:"totalConversations"`
}
