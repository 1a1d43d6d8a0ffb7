// Package services – ProgressService
//
// This file implements ProgressService, the read side of program tracking: a
// per-user overview of all programs ever confirmed, a per-session detail view
// partitioning days into completed and remaining, stored-content browsing,
// and the resume hook that hands a past program back to the delivery flow.
package services

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/repo"
)

// ProgressService exposes the dashboard views over programs and progress.
type ProgressService struct {
	DB *gorm.DB
}

// NewProgressService constructs a ProgressService.
func NewProgressService(db *gorm.DB) *ProgressService {
	return &ProgressService{DB: db}
}

// Overview returns the user's program history, newest first.
func (s *ProgressService) Overview(ctx context.Context, userID string) ([]domain.ProgramHistory, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "Overview",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return repo.ListHistory(ctx, s.DB, userID)
}

// CompletedDay is one finished day with its earliest completion record.
type CompletedDay struct {
	Day         int        `json:"day"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// ProgressDetail partitions a program's days into completed and remaining.
// The two sets are disjoint and together cover exactly 1..TotalDays.
type ProgressDetail struct {
	SessionID        string                 `json:"session_id"`
	Category         domain.Category        `json:"category"`
	Topic            string                 `json:"topic"`
	TotalDays        int                    `json:"total_days"`
	CurrentDay       int                    `json:"current_day"`
	StartDate        time.Time              `json:"start_date"`
	Completed        []CompletedDay         `json:"completed_days"`
	Remaining        []int                  `json:"remaining_days"`
	ProgramCompleted bool                   `json:"program_completed"`
	History          *domain.ProgramHistory `json:"history,omitempty"`
}

// Detail builds the progress breakdown for one session. The append-only
// progress log may hold several rows per day; a day counts as completed when
// at least one row exists, and the earliest record's timestamp and notes are
// surfaced.
func (s *ProgressService) Detail(ctx context.Context, sessionID string) (*ProgressDetail, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "Detail",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !sess.HasProgram() {
		return nil, ErrNoProgram
	}

	rows, err := repo.ListProgress(ctx, s.DB, sessionID)
	if err != nil {
		return nil, err
	}

	byDay := make(map[int]CompletedDay, len(rows))
	for _, r := range rows {
		if !r.Completed || r.DayNumber < 1 || r.DayNumber > sess.ProgramLength {
			continue
		}
		if _, seen := byDay[r.DayNumber]; seen {
			continue // keep the earliest record per day
		}
		byDay[r.DayNumber] = CompletedDay{Day: r.DayNumber, CompletedAt: r.CompletedAt, Notes: r.Notes}
	}

	out := &ProgressDetail{
		SessionID:  sess.ID,
		Category:   sess.SelectedCategory,
		Topic:      sess.SelectedTopic,
		TotalDays:  sess.ProgramLength,
		CurrentDay: sess.CurrentDay,
		StartDate:  *sess.ProgramStartDate,
	}
	for day := 1; day <= sess.ProgramLength; day++ {
		if c, ok := byDay[day]; ok {
			out.Completed = append(out.Completed, c)
		} else {
			out.Remaining = append(out.Remaining, day)
		}
	}
	sort.Slice(out.Completed, func(i, j int) bool { return out.Completed[i].Day < out.Completed[j].Day })
	out.ProgramCompleted = len(out.Remaining) == 0

	// The archival entry carries the committed dates and the durable
	// completed flag; it wins over the day partition when present.
	if h, err := repo.GetHistoryBySession(ctx, s.DB, sessionID); err == nil {
		out.History = h
		if h.Completed {
			out.ProgramCompleted = true
		}
	}
	return out, nil
}

// DayContentView is one stored day rendered for the content browser.
type DayContentView struct {
	Day         int            `json:"day"`
	ContentType string         `json:"content_type"`
	Payload     domain.Payload `json:"payload"`
}

// ContentUpTo returns the stored content for days 1..day in day order.
// day <= 0 means the whole program.
func (s *ProgressService) ContentUpTo(ctx context.Context, sessionID string, day int) ([]DayContentView, error) {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "ContentUpTo",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("day", day),
		),
	)
	defer span.End()

	if _, err := repo.GetSession(ctx, s.DB, sessionID); err != nil {
		return nil, mapNotFound(err)
	}
	rows, err := repo.ListDayContent(ctx, s.DB, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]DayContentView, 0, len(rows))
	for _, r := range rows {
		if day > 0 && r.DayNumber > day {
			continue
		}
		p, err := r.Payload()
		if err != nil {
			return nil, err
		}
		out = append(out, DayContentView{Day: r.DayNumber, ContentType: r.ContentType, Payload: p})
	}
	return out, nil
}

// ResumeProgram flags a past program for resumption. The actual day
// recomputation happens on the next GetOrResume so wall-clock time at the
// moment of re-entry, not at the moment of clicking resume, decides the day.
func (s *ProgressService) ResumeProgram(ctx context.Context, userID, sessionID string) error {
	tr := otel.Tracer("services/ProgressService")
	ctx, span := tr.Start(ctx, "ResumeProgram",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.id", sessionID),
		),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return mapNotFound(err)
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}
	if !sess.HasProgram() {
		return ErrNoProgram
	}
	if err := repo.SetResumeRequested(ctx, s.DB, sessionID, true); err != nil {
		return err
	}
	return nil
}
