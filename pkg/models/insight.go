package models

import "time"

// InsightType classifies a folder-level synthesis derived from patterns.
type InsightType string

const (
	InsightWorkflow     InsightType = "workflow"
	InsightPitfall      InsightType = "pitfall"
	InsightPreference   InsightType = "preference"
	InsightArchitecture InsightType = "architecture"
)

// LearnedInsight is a folder-scoped synthesis derived from detected
// patterns, stored with the same null discipline as conversations.
type LearnedInsight struct {
	ID             int64       `db:"id" json:"id"`
	FolderID       string      `db:"folder_id" json:"folder_id"`
	InsightType    InsightType `db:"insight_type" json:"insight_type"`
	Title          string      `db:"title" json:"title"`
	Content        string      `db:"content" json:"content"`
	Confidence     float64     `db:"confidence" json:"confidence"`
	UsageCount     int64       `db:"usage_count" json:"usage_count"`
	CreatedAt      string      `db:"created_at" json:"created_at"`
	CreatedAtEpoch int64       `db:"created_at_epoch" json:"created_at_epoch"`
}

// NewLearnedInsight builds an insight record for a folder.
func NewLearnedInsight(folderID string, insightType InsightType, title, content string, confidence float64) *LearnedInsight {
	now := time.Now()
	return &LearnedInsight{
		FolderID:       folderID,
		InsightType:    insightType,
		Title:          title,
		Content:        content,
		Confidence:     confidence,
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}
}
