// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/recall/pkg/models"
)

// PatternStore provides detected-pattern database operations.
type PatternStore struct {
	store *Store
}

// NewPatternStore creates a new pattern store.
func NewPatternStore(store *Store) *PatternStore {
	return &PatternStore{store: store}
}

// UpsertPattern records a pattern sighting. The identity is
// (folder_id, pattern_type, normalized_description): a first sighting
// inserts the row, a repeat increments frequency, refreshes last_seen and
// recomputes confidence from the new frequency. The read-modify-write runs
// in one transaction so concurrent sightings never lose an increment.
func (s *PatternStore) UpsertPattern(ctx context.Context, p *models.DetectedPattern) (*models.DetectedPattern, error) {
	if p.NormalizedDescription == "" {
		p.NormalizedDescription = models.NormalizeDescription(p.Description)
	}

	var out *models.DetectedPattern
	err := s.store.WithTx(ctx, func(tx *gorm.DB) error {
		rec := fromModelPattern(p)
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "folder_id"},
				{Name: "pattern_type"},
				{Name: "normalized_description"},
			},
			DoNothing: true,
		}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			out = toModelPattern(rec)
			return nil
		}

		// Existing row: bump frequency first, then derive confidence from
		// the stored value so redelivered sightings stay monotonic.
		ident := "folder_id = ? AND pattern_type = ? AND normalized_description = ?"
		err := tx.Model(&DetectedPattern{}).
			Where(ident, p.FolderID, p.Type, p.NormalizedDescription).
			Updates(map[string]interface{}{
				"frequency":       gorm.Expr("frequency + 1"),
				"last_seen":       p.LastSeen,
				"last_seen_epoch": p.LastSeenEpoch,
				"session_id":      p.SessionID,
			}).Error
		if err != nil {
			return err
		}

		var row DetectedPattern
		if err := tx.Where(ident, p.FolderID, p.Type, p.NormalizedDescription).First(&row).Error; err != nil {
			return err
		}
		row.Confidence = models.ConfidenceForFrequency(row.Frequency)
		if err := tx.Model(&DetectedPattern{}).
			Where("id = ?", row.ID).
			Update("confidence", row.Confidence).Error; err != nil {
			return err
		}
		out = toModelPattern(&row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert pattern: %w", err)
	}
	return out, nil
}

// RecentPatterns returns a folder's patterns ordered by last sighting,
// newest first.
func (s *PatternStore) RecentPatterns(ctx context.Context, folderID string, limit int) ([]*models.DetectedPattern, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []DetectedPattern
	err := s.store.DB.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Order("last_seen_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.DetectedPattern, 0, len(rows))
	for i := range rows {
		out = append(out, toModelPattern(&rows[i]))
	}
	return out, nil
}

// PatternsByType returns a folder's patterns of one type ordered by
// frequency, most frequent first.
func (s *PatternStore) PatternsByType(ctx context.Context, folderID string, patternType models.PatternType, limit int) ([]*models.DetectedPattern, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []DetectedPattern
	err := s.store.DB.WithContext(ctx).
		Where("folder_id = ? AND pattern_type = ?", folderID, patternType).
		Order("frequency DESC, last_seen_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.DetectedPattern, 0, len(rows))
	for i := range rows {
		out = append(out, toModelPattern(&rows[i]))
	}
	return out, nil
}

// CountPatterns returns the number of patterns, scoped to a folder when
// folderID is non-empty.
func (s *PatternStore) CountPatterns(ctx context.Context, folderID string) (int64, error) {
	q := s.store.DB.WithContext(ctx).Model(&DetectedPattern{})
	if folderID != "" {
		q = q.Where("folder_id = ?", folderID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
