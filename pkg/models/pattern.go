package models

import (
	"strings"
	"time"
)

// PatternType classifies a detected recurring structure.
type PatternType string

const (
	PatternCommandSequence PatternType = "command_sequence"
	PatternErrorSolution   PatternType = "error_solution"
	PatternFileCluster     PatternType = "file_cluster"
	PatternSuccessSignal   PatternType = "success_signal"
)

// BaseConfidence is the confidence assigned on first sighting.
const BaseConfidence = 0.30

// MaxConfidence caps the confidence boost from repetition.
const MaxConfidence = 0.95

// DetectedPattern is one recurring structure observed within or across
// sessions. Re-observation increments Frequency and refreshes LastSeen and
// Confidence instead of inserting a duplicate row.
type DetectedPattern struct {
	ID                    int64        `db:"id" json:"id"`
	FolderID              string       `db:"folder_id" json:"folder_id"`
	SessionID             string       `db:"session_id" json:"session_id"`
	Type                  PatternType  `db:"pattern_type" json:"pattern_type"`
	Description           string       `db:"description" json:"description"`
	NormalizedDescription string       `db:"normalized_description" json:"-"`
	Frequency             int64        `db:"frequency" json:"frequency"`
	Confidence            float64      `db:"confidence" json:"confidence"`
	FirstSeen             string       `db:"first_seen" json:"first_seen"`
	FirstSeenEpoch        int64        `db:"first_seen_epoch" json:"first_seen_epoch"`
	LastSeen              string       `db:"last_seen" json:"last_seen"`
	LastSeenEpoch         int64        `db:"last_seen_epoch" json:"last_seen_epoch"`
	Metadata              JSONMetadata `db:"metadata" json:"metadata,omitempty"`
}

// NormalizeDescription canonicalizes a description for upsert matching:
// lowercase with runs of whitespace collapsed.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ConfidenceForFrequency maps sighting count to confidence. Monotonic in
// frequency, capped below certainty.
func ConfidenceForFrequency(frequency int64) float64 {
	if frequency < 1 {
		frequency = 1
	}
	c := BaseConfidence + 0.10*float64(frequency-1)
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// NewDetectedPattern builds a first-sighting pattern record.
func NewDetectedPattern(folderID, sessionID string, patternType PatternType, description string, metadata JSONMetadata) *DetectedPattern {
	now := time.Now()
	return &DetectedPattern{
		FolderID:              folderID,
		SessionID:             sessionID,
		Type:                  patternType,
		Description:           description,
		NormalizedDescription: NormalizeDescription(description),
		Frequency:             1,
		Confidence:            ConfidenceForFrequency(1),
		FirstSeen:             now.Format(time.RFC3339),
		FirstSeenEpoch:        now.UnixMilli(),
		LastSeen:              now.Format(time.RFC3339),
		LastSeenEpoch:         now.UnixMilli(),
		Metadata:              metadata,
	}
}
