// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the per-day content store: durable generated
// material keyed by (session, day) with replace-on-write semantics.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// UpsertDayContent stores generated content for (sessionID, day), replacing
// any existing record for that pair. Delete-then-insert runs inside one
// transaction so a failure leaves either the old record or the new one
// intact, never neither or both.
//
// The owning session must exist; a missing session fails the call with
// ErrNotFound before anything is written.
func UpsertDayContent(ctx context.Context, db *gorm.DB, sessionID string, day int, contentType string, payload domain.Payload) (*domain.DayContent, error) {
	s, err := GetSession(ctx, db, sessionID)
	if err != nil {
		return nil, err
	}

	enc, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	rec := &domain.DayContent{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		DayNumber:   day,
		ContentType: contentType,
		Category:    s.SelectedCategory,
		Topic:       s.SelectedTopic,
		PayloadJSON: enc,
		CreatedAt:   time.Now().UTC(),
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ? AND day_number = ?", sessionID, day).
			Delete(&domain.DayContent{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetDayContent returns the single stored record for (sessionID, day), or
// ErrNotFound when the day has no content.
func GetDayContent(ctx context.Context, db *gorm.DB, sessionID string, day int) (*domain.DayContent, error) {
	var rec domain.DayContent
	err := db.WithContext(ctx).
		Where("session_id = ? AND day_number = ?", sessionID, day).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDayContent returns all stored records for a session ordered by day
// ascending. Repeated calls return the then-current persisted state.
func ListDayContent(ctx context.Context, db *gorm.DB, sessionID string) ([]domain.DayContent, error) {
	var out []domain.DayContent
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("day_number asc").
		Find(&out).Error
	return out, err
}
