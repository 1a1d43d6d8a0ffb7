package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// newTestDB opens a throwaway SQLite file and migrates the given models.
func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// seedProgramSession creates a session that carries a full program shape.
func seedProgramSession(t *testing.T, db *gorm.DB, userID string, length int, start time.Time) *domain.Session {
	t.Helper()
	s, err := CreateSession(context.Background(), db, userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	cat := domain.CategoryDevotion
	topic := "Healing"
	day := 1
	if err := UpdateSession(context.Background(), db, s.ID, SessionUpdates{
		Category:      &cat,
		Topic:         &topic,
		ProgramLength: &length,
		StartDate:     &start,
		CurrentDay:    &day,
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	got, err := GetSession(context.Background(), db, s.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return got
}
