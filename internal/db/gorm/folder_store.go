// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/recall/pkg/models"
)

// FolderStore provides context-folder database operations.
type FolderStore struct {
	db *gorm.DB
}

// NewFolderStore creates a new folder store.
func NewFolderStore(store *Store) *FolderStore {
	return &FolderStore{db: store.DB}
}

// EnsureFolder creates the folder for a project path if it does not exist
// yet and returns the stored record. The folder ID is derived from the path,
// so concurrent ensures converge on one row.
func (s *FolderStore) EnsureFolder(ctx context.Context, projectPath string) (*models.ContextFolder, error) {
	want := models.NewContextFolder(projectPath)
	rec := fromModelFolder(want)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return nil, fmt.Errorf("ensure folder: %w", err)
	}

	var row ContextFolder
	if err := s.db.WithContext(ctx).Where("id = ?", want.ID).First(&row).Error; err != nil {
		return nil, fmt.Errorf("load folder %s: %w", want.ID, err)
	}
	return toModelFolder(&row), nil
}

// GetFolder retrieves a folder by ID. Returns nil when not found.
func (s *FolderStore) GetFolder(ctx context.Context, id string) (*models.ContextFolder, error) {
	var row ContextFolder
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelFolder(&row), nil
}

// ListFolders returns all folders ordered by creation time, newest first.
func (s *FolderStore) ListFolders(ctx context.Context) ([]*models.ContextFolder, error) {
	var rows []ContextFolder
	err := s.db.WithContext(ctx).Order("created_at_epoch DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.ContextFolder, 0, len(rows))
	for i := range rows {
		out = append(out, toModelFolder(&rows[i]))
	}
	return out, nil
}

// CountFolders returns the total number of folders.
func (s *FolderStore) CountFolders(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ContextFolder{}).Count(&n).Error
	return n, err
}
