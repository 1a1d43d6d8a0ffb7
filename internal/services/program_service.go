// Package services – ProgramService
//
// This file implements ProgramService, the state machine that drives a
// session from first contact through category, topic and length selection to
// a confirmed program, and then delivers the stored daily content one day at
// a time. Every public method is one discrete user action: it validates the
// input, applies the transition, appends the interaction to the conversation
// log, and returns what the caller needs for the next step.
//
// Confirmation is the heavyweight transition: all program days are generated
// and stored up front (a per-day failure is reported and skipped, never
// aborting the rest), a history entry is created, daily reminders are
// scheduled, and calendar events are optionally created. The calendar
// integration degrades silently; a reminder that fails to materialize must
// not cost the user their confirmed program.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// session/user identifiers and the day or transition being applied.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/calendar"
	"github.com/dscpl/go-dscpl-backend/internal/content"
	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/notify"
	"github.com/dscpl/go-dscpl-backend/internal/program"
	"github.com/dscpl/go-dscpl-backend/internal/repo"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// ProgramService owns the session state machine and program lifecycle.
type ProgramService struct {
	DB        *gorm.DB
	Generator content.Generator
	Scheduler *notify.Scheduler
	Calendar  calendar.Events

	// Now is the time source. Defaults to time.Now; seam for tests.
	Now func() time.Time
}

// NewProgramService constructs a ProgramService with the wall clock.
func NewProgramService(db *gorm.DB, gen content.Generator, sched *notify.Scheduler, cal calendar.Events) *ProgramService {
	return &ProgramService{
		DB:        db,
		Generator: gen,
		Scheduler: sched,
		Calendar:  cal,
		Now:       time.Now,
	}
}

func (s *ProgramService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// confirmedProgram reports whether the session already carries a confirmed
// program. Confirmation freezes category, topic, length and start date; only
// the day pointer moves afterwards. History rows are written exactly once at
// confirmation, so their presence is the durable marker for sessions that
// have moved past the delivery state.
func (s *ProgramService) confirmedProgram(ctx context.Context, sess *domain.Session) bool {
	if !sess.HasProgram() {
		return false
	}
	if sess.CurrentState == domain.StateDeliverDaily {
		return true
	}
	_, err := repo.GetHistoryBySession(ctx, s.DB, sess.ID)
	return err == nil
}

// StartSession creates a fresh session in the initial state.
func (s *ProgramService) StartSession(ctx context.Context, userID string) (*domain.Session, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "StartSession",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return repo.CreateSession(ctx, s.DB, userID)
}

// GetOrResume fetches a session. When the resume flag is set, the current day
// is recomputed from the program start date before the session is returned,
// the flag is cleared, and resumed=true tells the caller to jump straight to
// delivery. Intermediate days are never replayed; elapsed time decides the
// day and skipped days stay reachable through the progress views only.
func (s *ProgramService) GetOrResume(ctx context.Context, sessionID string) (*domain.Session, bool, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "GetOrResume",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, false, mapNotFound(err)
	}
	if !sess.ResumeRequested {
		return sess, false, nil
	}
	if !sess.HasProgram() {
		// A dangling resume flag on a session without a program is cleared
		// and otherwise ignored.
		_ = repo.SetResumeRequested(ctx, s.DB, sessionID, false)
		sess.ResumeRequested = false
		return sess, false, nil
	}

	day := program.ResolveDay(*sess.ProgramStartDate, sess.ProgramLength, s.now())
	state := domain.StateDeliverDaily
	off := false
	if err := repo.UpdateSession(ctx, s.DB, sessionID, repo.SessionUpdates{
		State:      &state,
		CurrentDay: &day,
		Resume:     &off,
	}); err != nil {
		return nil, false, err
	}
	sess.CurrentState = state
	sess.CurrentDay = day
	sess.ResumeRequested = false
	span.SetAttributes(attribute.Int("program.day", day))
	return sess, true, nil
}

// SelectCategory applies the category selection and returns the state the
// flow routes to next: chat and the progress dashboard short-circuit the
// program flow, everything else proceeds to topic selection.
func (s *ProgramService) SelectCategory(ctx context.Context, sessionID string, category domain.Category) (domain.State, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "SelectCategory",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("category", string(category)),
		),
	)
	defer span.End()

	if !category.Valid() {
		return "", ErrInvalidCategory
	}
	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return "", mapNotFound(err)
	}
	if s.confirmedProgram(ctx, sess) {
		return "", ErrNotConfirmable
	}

	next := domain.StateSelectTopic
	switch category {
	case domain.CategoryJustChat:
		next = domain.StateJustChat
	case domain.CategoryProgress:
		next = domain.StateViewProgress
	}

	if err := repo.UpdateSession(ctx, s.DB, sessionID, repo.SessionUpdates{
		State:    &next,
		Category: &category,
	}); err != nil {
		return "", err
	}
	_, _ = repo.AppendMessage(ctx, s.DB, sessionID, roleUser, fmt.Sprintf("Selected category: %s", category.Title()))
	return next, nil
}

// SelectTopic applies the topic selection. The category must take a topic;
// any non-empty topic is accepted (predefined lists drive menus, free-form
// entries are legal). The content kind applies to devotion only and defaults
// to text everywhere else.
func (s *ProgramService) SelectTopic(ctx context.Context, sessionID, topic string, kind domain.ContentKind) error {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "SelectTopic",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("topic", topic),
		),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return mapNotFound(err)
	}
	if s.confirmedProgram(ctx, sess) {
		return ErrNotConfirmable
	}
	topic = strings.TrimSpace(topic)
	if topic == "" || !sess.SelectedCategory.NeedsTopic() {
		return ErrInvalidTopic
	}

	if sess.SelectedCategory != domain.CategoryDevotion {
		kind = domain.ContentText
	} else if kind == "" {
		kind = domain.ContentText
	} else if !kind.Valid() {
		kind = domain.ContentText
	}

	next := domain.StateSetProgramLength
	if err := repo.UpdateSession(ctx, s.DB, sessionID, repo.SessionUpdates{
		State:       &next,
		Topic:       &topic,
		ContentKind: &kind,
	}); err != nil {
		return err
	}
	_, _ = repo.AppendMessage(ctx, s.DB, sessionID, roleUser, fmt.Sprintf("Selected topic: %s", topic))
	return nil
}

// SetProgramLength fixes the program length and start date. preferred is the
// daily delivery time as "HH:MM"; the program starts today at that time if
// it is still ahead, otherwise tomorrow. The start date is set exactly once
// here and never mutated afterwards.
func (s *ProgramService) SetProgramLength(ctx context.Context, sessionID string, length int, preferred string) (time.Time, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "SetProgramLength",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("program.length", length),
		),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return time.Time{}, mapNotFound(err)
	}
	if sess.SelectedCategory == "" || sess.SelectedTopic == "" {
		return time.Time{}, ErrNotConfirmable
	}
	if s.confirmedProgram(ctx, sess) {
		return time.Time{}, ErrNotConfirmable
	}
	if !domain.ValidProgramLength(length) {
		return time.Time{}, ErrInvalidLength
	}
	hour, minute, err := parseClock(preferred)
	if err != nil {
		return time.Time{}, err
	}

	start := program.NextStart(s.now(), hour, minute)
	next := domain.StateConfirmProgram
	day := 1
	if err := repo.UpdateSession(ctx, s.DB, sessionID, repo.SessionUpdates{
		State:         &next,
		ProgramLength: &length,
		StartDate:     &start,
		CurrentDay:    &day,
	}); err != nil {
		return time.Time{}, err
	}
	_, _ = repo.AppendMessage(ctx, s.DB, sessionID, roleUser,
		fmt.Sprintf("Selected %d-day program starting %s", length, start.Format("2006-01-02 15:04")))
	return start, nil
}

// ConfirmReport summarizes the bulk generation performed at confirmation.
type ConfirmReport struct {
	Confirmed bool           `json:"confirmed"`
	Generated []int          `json:"generated_days"`
	Failed    map[int]string `json:"failed_days,omitempty"`
	Scheduled int            `json:"scheduled_notifications"`
	Calendar  bool           `json:"calendar_events_created"`
	EndDate   time.Time      `json:"end_date"`
}

// Confirm applies the user's final yes/no. Declining ends the interaction
// without side effects. Confirming generates and stores content for every
// program day (per-day failures are reported and skipped), records the
// program in history, schedules the daily reminders, and optionally creates
// calendar events. Calendar failure never aborts confirmation.
func (s *ProgramService) Confirm(ctx context.Context, sessionID string, confirmed, wantCalendar bool) (*ConfirmReport, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "Confirm",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Bool("confirmed", confirmed),
		),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if s.confirmedProgram(ctx, sess) {
		// Repeating the confirmation would append a second history row and
		// rerun bulk generation. Declining a running program is equally
		// invalid; a new session supersedes, never mutates.
		return nil, ErrNotConfirmable
	}

	if !confirmed {
		end := domain.StateEnd
		if err := repo.UpdateSession(ctx, s.DB, sessionID, repo.SessionUpdates{State: &end}); err != nil {
			return nil, err
		}
		_, _ = repo.AppendMessage(ctx, s.DB, sessionID, roleUser, "Declined the program.")
		return &ConfirmReport{Confirmed: false}, nil
	}

	if sess.SelectedCategory == "" || sess.SelectedTopic == "" || !sess.HasProgram() {
		return nil, ErrNotConfirmable
	}

	report := &ConfirmReport{
		Confirmed: true,
		EndDate:   program.EndDate(*sess.ProgramStartDate, sess.ProgramLength),
	}

	// Bulk generation: each day stored independently so one bad day costs
	// one day, not the program.
	for day := 1; day <= sess.ProgramLength; day++ {
		payload, err := s.Generator.Generate(ctx, sess.SelectedCategory, sess.SelectedTopic,
			day, domain.DayTheme(day), sess.ContentKind)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Int("day", day).
				Msg("day content generation failed; continuing")
			if report.Failed == nil {
				report.Failed = map[int]string{}
			}
			report.Failed[day] = err.Error()
			continue
		}
		if _, err := repo.UpsertDayContent(ctx, s.DB, sessionID, day, string(sess.ContentKind), payload); err != nil {
			if report.Failed == nil {
				report.Failed = map[int]string{}
			}
			report.Failed[day] = err.Error()
			continue
		}
		report.Generated = append(report.Generated, day)
	}

	if _, err := repo.CreateHistory(ctx, s.DB, sess, report.EndDate, false); err != nil {
		return nil, err
	}

	if s.Scheduler != nil {
		report.Scheduled = s.Scheduler.ScheduleDaily(sess.UserID, sess.SelectedCategory,
			sess.SelectedTopic, sess.ProgramLength, *sess.ProgramStartDate)
	}

	if wantCalendar && s.Calendar != nil {
		if err := s.Calendar.CreateDailyEvents(ctx, sess, *sess.ProgramStartDate); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).
				Msg("calendar setup failed; program confirmed without reminders")
		} else {
			report.Calendar = true
		}
	}

	next := domain.StateDeliverDaily
	day := 1
	if err := repo.UpdateSession(ctx, s.DB, sessionID, repo.SessionUpdates{
		State:      &next,
		CurrentDay: &day,
	}); err != nil {
		return nil, err
	}
	_, _ = repo.AppendMessage(ctx, s.DB, sessionID, roleAssistant,
		fmt.Sprintf("Your %d-day %s program on %s is confirmed. Day 1 arrives %s.",
			sess.ProgramLength, sess.SelectedCategory.Title(), sess.SelectedTopic,
			sess.ProgramStartDate.Format("2006-01-02 15:04")))
	return report, nil
}

// Delivery is the result of handing the user their current day.
type Delivery struct {
	Day              int            `json:"day"`
	TotalDays        int            `json:"total_days"`
	Payload          domain.Payload `json:"payload"`
	Message          string         `json:"message"`
	ProgramCompleted bool           `json:"program_completed"`
}

// DeliverDaily reads the stored content for the session's current day,
// appends it to the conversation, records the completion and advances the
// day pointer. Delivering the final day marks the program completed in
// history and ends the session flow. Missing content surfaces ErrNoContent
// so the caller can regenerate.
func (s *ProgramService) DeliverDaily(ctx context.Context, sessionID string) (*Delivery, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "DeliverDaily",
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

	day := sess.CurrentDay
	if day < 1 {
		day = 1
	}
	span.SetAttributes(attribute.Int("program.day", day))

	dc, err := repo.GetDayContent(ctx, s.DB, sessionID, day)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoContent
		}
		return nil, err
	}
	payload, err := dc.Payload()
	if err != nil {
		return nil, err
	}

	msg := FormatDelivery(day, sess.ProgramLength, payload)
	if _, err := repo.AppendMessage(ctx, s.DB, sessionID, roleAssistant, msg); err != nil {
		return nil, err
	}
	if err := repo.MarkDayCompleted(ctx, s.DB, sessionID, day, ""); err != nil {
		return nil, err
	}

	out := &Delivery{Day: day, TotalDays: sess.ProgramLength, Payload: payload, Message: msg}
	if day >= sess.ProgramLength {
		out.ProgramCompleted = true
		end := domain.StateEnd
		if err := repo.UpdateSession(ctx, s.DB, sessionID, repo.SessionUpdates{State: &end}); err != nil {
			return nil, err
		}
		if err := repo.MarkHistoryCompleted(ctx, s.DB, sessionID); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	} else {
		if err := repo.SetCurrentDay(ctx, s.DB, sessionID, day+1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RegenerateDay rebuilds and atomically replaces the stored content for one
// day. Used when delivery finds a generation gap left by confirmation.
func (s *ProgramService) RegenerateDay(ctx context.Context, sessionID string, day int) (domain.Payload, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "RegenerateDay",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("program.day", day),
		),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !sess.HasProgram() {
		return nil, ErrNoProgram
	}
	if day < 1 || day > sess.ProgramLength {
		return nil, ErrNoContent
	}

	payload, err := s.Generator.Generate(ctx, sess.SelectedCategory, sess.SelectedTopic,
		day, domain.DayTheme(day), sess.ContentKind)
	if err != nil {
		return nil, err
	}
	if _, err := repo.UpsertDayContent(ctx, s.DB, sessionID, day, string(sess.ContentKind), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// SOS is the emergency detour: it produces immediate support text keyed by
// the session's topic and logs it, without touching the day pointer, so the
// user lands back on their current day afterwards.
func (s *ProgramService) SOS(ctx context.Context, sessionID string) (string, error) {
	tr := otel.Tracer("services/ProgramService")
	ctx, span := tr.Start(ctx, "SOS",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return "", mapNotFound(err)
	}
	topic := sess.SelectedTopic
	if topic == "" {
		topic = "what you are facing right now"
	}

	msg, err := s.Generator.SOS(ctx, topic)
	if err != nil {
		return "", err
	}
	_, _ = repo.AppendMessage(ctx, s.DB, sessionID, roleAssistant, msg)
	return msg, nil
}

// FormatDelivery renders a stored payload as the conversational message the
// user receives. Section order is stable for a given payload.
func FormatDelivery(day, total int, p domain.Payload) string {
	var b strings.Builder
	title := p[content.KeyTitle]
	if title == "" {
		title = fmt.Sprintf("Day %d", day)
	}
	fmt.Fprintf(&b, "%s (Day %d of %d)\n", title, day, total)

	sections := []struct{ key, label string }{
		{content.KeyScripture, "Scripture"},
		{content.KeyPrayer, "Prayer"},
		{content.KeyDeclaration, "Declaration"},
		{content.KeyPrompts, "Meditation Prompts"},
		{content.KeyBreathing, "Breathing Guide"},
		{content.KeyActionPlan, "Action Plan"},
		{content.KeyVideo, "Video"},
	}
	for _, sec := range sections {
		if v := p[sec.key]; v != "" {
			fmt.Fprintf(&b, "\n%s:\n%s\n", sec.label, v)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseClock parses "HH:MM" into hour and minute.
func parseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidTime
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, ErrInvalidTime
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, ErrInvalidTime
	}
	return hour, minute, nil
}

// mapNotFound converts the repo's not-found sentinel to the service one.
func mapNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
