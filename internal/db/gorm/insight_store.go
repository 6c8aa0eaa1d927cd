// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"

	"github.com/thebtf/recall/pkg/models"
)

// InsightStore provides learned-insight database operations.
type InsightStore struct {
	store *Store
}

// NewInsightStore creates a new insight store.
func NewInsightStore(store *Store) *InsightStore {
	return &InsightStore{store: store}
}

// StoreInsight persists a new insight and returns its ID.
func (s *InsightStore) StoreInsight(ctx context.Context, insight *models.LearnedInsight) (int64, error) {
	rec := fromModelInsight(insight)
	if err := s.store.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, err
	}
	insight.ID = rec.ID
	return rec.ID, nil
}

// ListInsights returns a folder's insights ordered by creation time, newest
// first.
func (s *InsightStore) ListInsights(ctx context.Context, folderID string, limit int) ([]*models.LearnedInsight, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []LearnedInsight
	err := s.store.DB.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Order("created_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.LearnedInsight, 0, len(rows))
	for i := range rows {
		out = append(out, toModelInsight(&rows[i]))
	}
	return out, nil
}

// TouchInsight bumps the usage counter of the folder insight matching a
// recurring pattern sighting. A miss is not an error.
func (s *InsightStore) TouchInsight(ctx context.Context, folderID string, insightType models.InsightType, title string) error {
	return s.store.DB.WithContext(ctx).
		Exec("UPDATE learned_insights SET usage_count = usage_count + 1 WHERE folder_id = ? AND insight_type = ? AND title = ?",
			folderID, string(insightType), title).Error
}

// CountInsights returns the number of insights, scoped to a folder when
// folderID is non-empty.
func (s *InsightStore) CountInsights(ctx context.Context, folderID string) (int64, error) {
	q := s.store.DB.WithContext(ctx).Model(&LearnedInsight{})
	if folderID != "" {
		q = q.Where("folder_id = ?", folderID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
