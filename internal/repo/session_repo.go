// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience). A missing session
//     is a precondition violation for the caller, never retried here.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateSession inserts a new Session row for userID in the initial state.
// The session ID is a randomly generated UUID and CreatedAt is set to UTC.
func CreateSession(ctx context.Context, db *gorm.DB, userID string) (*domain.Session, error) {
	s := &domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CurrentState: domain.StateInitial,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a single session by ID. If the record does not exist,
// it returns ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SessionUpdates carries the mutable columns touched by state transitions.
// Nil fields are left untouched so a partial transition never clobbers
// earlier selections.
type SessionUpdates struct {
	State         *domain.State
	Category      *domain.Category
	Topic         *string
	ContentKind   *domain.ContentKind
	ProgramLength *int
	StartDate     *time.Time
	CurrentDay    *int
	Resume        *bool
}

// UpdateSession applies the non-nil fields of u to the session identified by
// id. It returns ErrNotFound when the session does not exist.
func UpdateSession(ctx context.Context, db *gorm.DB, id string, u SessionUpdates) error {
	cols := map[string]any{}
	if u.State != nil {
		cols["current_state"] = *u.State
	}
	if u.Category != nil {
		cols["selected_category"] = *u.Category
	}
	if u.Topic != nil {
		cols["selected_topic"] = *u.Topic
	}
	if u.ContentKind != nil {
		cols["content_kind"] = *u.ContentKind
	}
	if u.ProgramLength != nil {
		cols["program_length"] = *u.ProgramLength
	}
	if u.StartDate != nil {
		cols["program_start_date"] = *u.StartDate
	}
	if u.CurrentDay != nil {
		cols["current_day"] = *u.CurrentDay
	}
	if u.Resume != nil {
		cols["resume_requested"] = *u.Resume
	}
	if len(cols) == 0 {
		return nil
	}
	res := db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetCurrentDay persists a recomputed current day for the session.
func SetCurrentDay(ctx context.Context, db *gorm.DB, id string, day int) error {
	return UpdateSession(ctx, db, id, SessionUpdates{CurrentDay: &day})
}

// SetResumeRequested flips the resume flag used by the progress dashboard to
// hand a past program back to the delivery flow.
func SetResumeRequested(ctx context.Context, db *gorm.DB, id string, v bool) error {
	return UpdateSession(ctx, db, id, SessionUpdates{Resume: &v})
}

// ListSessionsWithProgram returns every session that has a confirmed program
// shape (start date set, length > 0). Used at startup to rebuild the
// in-memory notification queue.
func ListSessionsWithProgram(ctx context.Context, db *gorm.DB) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("program_start_date IS NOT NULL AND program_length > 0").
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
