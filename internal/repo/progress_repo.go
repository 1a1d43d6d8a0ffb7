// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only daily completion log
// and the program history archive.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// MarkDayCompleted appends a completion record for (sessionID, day). The log
// is append-only: marking the same day twice appends a second row, and "is
// day D completed" means at least one row exists for D.
func MarkDayCompleted(ctx context.Context, db *gorm.DB, sessionID string, day int, notes string) error {
	now := time.Now().UTC()
	rec := &domain.DailyProgress{
		SessionID:   sessionID,
		DayNumber:   day,
		Completed:   true,
		CompletedAt: &now,
		Notes:       notes,
	}
	return db.WithContext(ctx).Create(rec).Error
}

// ListProgress returns all completion records for a session ordered by day
// ascending, then insertion order for repeated completions of the same day.
func ListProgress(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.DailyProgress, error) {
	var out []domain.DailyProgress
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("day_number asc, id asc").
		Find(&out).Error
	return out, err
}
