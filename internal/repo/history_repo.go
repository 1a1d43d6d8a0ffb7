package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// CreateHistory appends an archival entry for the session's program. The
// session must exist and carry a program shape; end date is derived as
// start + (length-1) days by the caller and stored verbatim.
func CreateHistory(ctx context.Context, db *gorm.DB, s *domain.Session, endDate time.Time, completed bool) (*domain.ProgramHistory, error) {
	h := &domain.ProgramHistory{
		UserID:        s.UserID,
		SessionID:     s.ID,
		Category:      s.SelectedCategory,
		Topic:         s.SelectedTopic,
		ProgramLength: s.ProgramLength,
		StartDate:     *s.ProgramStartDate,
		EndDate:       endDate,
		Completed:     completed,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(h).Error; err != nil {
		return nil, err
	}
	return h, nil
}

// ListHistory returns all program history entries for a user, most recent
// first. It returns an empty slice when the user has no programs yet.
func ListHistory(ctx context.Context, db *gorm.DB, userID string) ([]domain.ProgramHistory, error) {
	var out []domain.ProgramHistory
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// GetHistoryBySession returns the newest history entry for a session, or
// ErrNotFound.
func GetHistoryBySession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.ProgramHistory, error) {
	var h domain.ProgramHistory
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		First(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// MarkHistoryCompleted flags the session's history entry as completed when
// the final program day has been delivered. Returns ErrNotFound when no
// entry exists for the session.
func MarkHistoryCompleted(ctx context.Context, db *gorm.DB, sessionID string) error {
	res := db.WithContext(ctx).
		Model(&domain.ProgramHistory{}).
		Where("session_id = ?", sessionID).
		Update("completed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
