package models

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ContextFolder groups all captured memory for one project root.
type ContextFolder struct {
	ID             string `db:"id" json:"id"`
	ProjectPath    string `db:"project_path" json:"project_path"`
	Name           string `db:"name" json:"name"`
	CreatedAt      string `db:"created_at" json:"created_at"`
	CreatedAtEpoch int64  `db:"created_at_epoch" json:"created_at_epoch"`
}

// FolderIDForPath derives the stable folder ID for a project path.
// Format: "dirname_abc123" (name + truncated content hash for readability).
func FolderIDForPath(projectPath string) string {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		absPath = projectPath
	}
	sum := blake2b.Sum256([]byte(absPath))
	return fmt.Sprintf("%s_%s", filepath.Base(absPath), hex.EncodeToString(sum[:3]))
}

// NewContextFolder creates a folder record for a project path.
func NewContextFolder(projectPath string) *ContextFolder {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		absPath = projectPath
	}
	now := time.Now()
	return &ContextFolder{
		ID:             FolderIDForPath(absPath),
		ProjectPath:    absPath,
		Name:           filepath.Base(absPath),
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}
}
