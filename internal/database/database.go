package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the SQLite database at the given path and migrates the schema.
func Init(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Setting{}, &SessionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() {
	if DB == nil {
		return
	}
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.Close()
	}
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.First(&s, "key = ?", key).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	s := Setting{Key: key, Value: value}
	return DB.Save(&s).Error
}

// Auditor records session lifecycle events. It satisfies the session
// registry's audit hook.
type Auditor struct{}

func (Auditor) SessionStarted(sessionID, remoteAddr string) {
	rec := SessionRecord{
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		State:      "active",
		CreatedAt:  time.Now(),
	}
	if err := DB.Create(&rec).Error; err != nil {
		log.Printf("[audit] record session %s start: %v", sessionID, err)
	}
}

func (Auditor) SessionClosed(sessionID string, exitCode *int, reason string) {
	now := time.Now()
	updates := map[string]interface{}{
		"state":     "closed",
		"reason":    reason,
		"closed_at": &now,
	}
	if exitCode != nil {
		updates["exit_code"] = *exitCode
	}
	err := DB.Model(&SessionRecord{}).Where("session_id = ?", sessionID).Updates(updates).Error
	if err != nil {
		log.Printf("[audit] record session %s close: %v", sessionID, err)
	}
}

// RecentSessions returns the most recent audit rows, newest first.
func RecentSessions(limit int) ([]SessionRecord, error) {
	var recs []SessionRecord
	err := DB.Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
