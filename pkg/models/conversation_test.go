package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTurnKey_Stable(t *testing.T) {
	k1 := ComputeTurnKey("session-1", 1700000000000, "claude fix the tests")
	k2 := ComputeTurnKey("session-1", 1700000000000, "claude fix the tests")
	k3 := ComputeTurnKey("session-1", 1700000000001, "claude fix the tests")

	assert.Equal(t, k1, k2, "same turn must produce the same key on redelivery")
	assert.NotEqual(t, k1, k3)
}

func TestNewConversation_Defaults(t *testing.T) {
	c := NewConversation("session-1", "claude add logging", "done", 1700000000000)

	require.NoError(t, c.Validate())
	assert.Equal(t, TriStateUnknown(), c.Success, "success starts unknown, not false")
	assert.False(t, c.ErrorType.Valid)
	assert.Equal(t, int64(1700000000000), c.TimestampEpoch)
	assert.NotEmpty(t, c.TurnKey)
}

func TestConversation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Conversation)
		wantErr error
	}{
		{
			name:   "valid with empty reply",
			mutate: func(c *Conversation) { c.ClaudeReply = "" },
		},
		{
			name:    "missing session",
			mutate:  func(c *Conversation) { c.SessionID = "" },
			wantErr: ErrNilField,
		},
		{
			name:    "missing user input",
			mutate:  func(c *Conversation) { c.UserInput = "" },
			wantErr: ErrNilField,
		},
		{
			name:    "non-normalized tri-state",
			mutate:  func(c *Conversation) { c.Success.Valid = true; c.Success.Int64 = 2 },
			wantErr: ErrInvalidTriState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConversation("session-1", "claude do it", "ok", 1700000000000)
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
