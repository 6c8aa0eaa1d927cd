// Package gorm provides the GORM-backed context store for recall.
package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Core capture tables (folders, sessions, conversations)
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ContextFolder{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&ContextSession{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ClaudeConversation{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("context_folders", "context_sessions", "claude_conversations")
			},
		},

		// Migration 002: Detected patterns table
		{
			ID: "002_detected_patterns",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&DetectedPattern{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("detected_patterns")
			},
		},

		// Migration 003: Learned insights table
		{
			ID: "003_learned_insights",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&LearnedInsight{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("learned_insights")
			},
		},

		// Migration 004: at most one active session per folder, enforced by
		// the schema. SQLite and Postgres both support partial indexes.
		{
			ID: "004_one_active_session_per_folder",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON context_sessions (folder_id) WHERE status = 'active'`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_sessions_one_active`).Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
