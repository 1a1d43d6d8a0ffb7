package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/notify"
	"github.com/dscpl/go-dscpl-backend/internal/repo"
)

// newProgramService wires a ProgramService over a test DB with stubs and a
// pinned clock.
func newProgramService(t *testing.T, now time.Time) (*ProgramService, *stubGenerator, *stubCalendar) {
	t.Helper()
	gen := &stubGenerator{}
	cal := &stubCalendar{}
	sched := notify.NewScheduler(nil, notify.WithClock(fixedClock(now)))
	svc := NewProgramService(newTestDB(t), gen, sched, cal)
	svc.Now = fixedClock(now)
	return svc, gen, cal
}

// driveToConfirm walks a session through category, topic and length.
func driveToConfirm(t *testing.T, svc *ProgramService, userID string, length int) *domain.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := svc.StartSession(ctx, userID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	next, err := svc.SelectCategory(ctx, sess.ID, domain.CategoryDevotion)
	if err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	if next != domain.StateSelectTopic {
		t.Fatalf("devotion should route to topic selection, got %s", next)
	}
	if err := svc.SelectTopic(ctx, sess.ID, "Overcoming Fear", domain.ContentText); err != nil {
		t.Fatalf("SelectTopic: %v", err)
	}
	if _, err := svc.SetProgramLength(ctx, sess.ID, length, "08:00"); err != nil {
		t.Fatalf("SetProgramLength: %v", err)
	}
	got, err := repo.GetSession(ctx, svc.DB, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return got
}

func TestSelectCategory_RoutesAndValidates(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()

	sess, _ := svc.StartSession(ctx, "u1")

	if _, err := svc.SelectCategory(ctx, sess.ID, "yoga"); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if _, err := svc.SelectCategory(ctx, "missing", domain.CategoryPrayer); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	next, err := svc.SelectCategory(ctx, sess.ID, domain.CategoryJustChat)
	if err != nil || next != domain.StateJustChat {
		t.Fatalf("just_chat route: %s, %v", next, err)
	}
	next, err = svc.SelectCategory(ctx, sess.ID, domain.CategoryProgress)
	if err != nil || next != domain.StateViewProgress {
		t.Fatalf("view_progress route: %s, %v", next, err)
	}
	next, err = svc.SelectCategory(ctx, sess.ID, domain.CategoryMeditation)
	if err != nil || next != domain.StateSelectTopic {
		t.Fatalf("meditation route: %s, %v", next, err)
	}
}

func TestSelectTopic_Guards(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()

	sess, _ := svc.StartSession(ctx, "u1")
	if _, err := svc.SelectCategory(ctx, sess.ID, domain.CategoryJustChat); err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	// Chat takes no topic.
	if err := svc.SelectTopic(ctx, sess.ID, "Healing", ""); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic for just_chat, got %v", err)
	}

	if _, err := svc.SelectCategory(ctx, sess.ID, domain.CategoryPrayer); err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	if err := svc.SelectTopic(ctx, sess.ID, "   ", ""); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic for blank topic, got %v", err)
	}
	// Free-form topics are accepted; non-devotion categories are forced to text.
	if err := svc.SelectTopic(ctx, sess.ID, "My own struggle", domain.ContentBoth); err != nil {
		t.Fatalf("SelectTopic: %v", err)
	}
	got, _ := repo.GetSession(ctx, svc.DB, sess.ID)
	if got.ContentKind != domain.ContentText {
		t.Fatalf("non-devotion kind should be text, got %s", got.ContentKind)
	}
}

func TestSetProgramLength_StartDatePolicy(t *testing.T) {
	// 07:00 now, 08:00 preferred: starts today.
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	sess := driveToConfirm(t, svc, "u1", 7)
	if !sess.ProgramStartDate.Equal(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start today 08:00, got %s", sess.ProgramStartDate)
	}
	if sess.CurrentDay != 1 || sess.CurrentState != domain.StateConfirmProgram {
		t.Fatalf("length selection must set day 1 and confirm state: %+v", sess)
	}

	// 09:00 now, 08:00 preferred: starts tomorrow.
	svc2, _, _ := newProgramService(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	sess2 := driveToConfirm(t, svc2, "u1", 7)
	if !sess2.ProgramStartDate.Equal(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start tomorrow 08:00, got %s", sess2.ProgramStartDate)
	}
}

func TestSetProgramLength_Validation(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()

	sess, _ := svc.StartSession(ctx, "u1")
	// No category/topic selected yet.
	if _, err := svc.SetProgramLength(ctx, sess.ID, 7, "08:00"); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("expected ErrNotConfirmable, got %v", err)
	}

	if _, err := svc.SelectCategory(ctx, sess.ID, domain.CategoryDevotion); err != nil {
		t.Fatal(err)
	}
	if err := svc.SelectTopic(ctx, sess.ID, "Healing", domain.ContentText); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SetProgramLength(ctx, sess.ID, 10, "08:00"); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for 10, got %v", err)
	}
	for _, bad := range []string{"8", "25:00", "08:61", "eight:00", ""} {
		if _, err := svc.SetProgramLength(ctx, sess.ID, 7, bad); !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("expected ErrInvalidTime for %q, got %v", bad, err)
		}
	}
}

func TestConfirm_GeneratesStoresAndSchedules(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, gen, cal := newProgramService(t, now)
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)

	report, err := svc.Confirm(ctx, sess.ID, true, true)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !report.Confirmed || len(report.Generated) != 7 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(gen.calls) != 7 {
		t.Fatalf("generator called %d times, want 7", len(gen.calls))
	}
	if report.Scheduled != 7 {
		t.Fatalf("scheduled %d reminders, want 7", report.Scheduled)
	}
	if cal.calls != 1 || !report.Calendar {
		t.Fatalf("calendar should be invoked once: calls=%d report=%+v", cal.calls, report)
	}
	if !report.EndDate.Equal(time.Date(2024, 1, 7, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("end date %s, want start+6d", report.EndDate)
	}

	// All 7 days stored.
	rows, err := repo.ListDayContent(ctx, svc.DB, sess.ID)
	if err != nil || len(rows) != 7 {
		t.Fatalf("stored %d days, want 7 (%v)", len(rows), err)
	}

	// History entry exists and program is in delivery state.
	if _, err := repo.GetHistoryBySession(ctx, svc.DB, sess.ID); err != nil {
		t.Fatalf("history entry missing: %v", err)
	}
	got, _ := repo.GetSession(ctx, svc.DB, sess.ID)
	if got.CurrentState != domain.StateDeliverDaily || got.CurrentDay != 1 {
		t.Fatalf("post-confirm session: %+v", got)
	}
}

func TestConfirm_Day2FailureContinues(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, gen, _ := newProgramService(t, now)
	gen.failDays = map[int]bool{2: true}
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)

	report, err := svc.Confirm(ctx, sess.ID, true, false)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(report.Generated) != 6 || report.Failed[2] == "" {
		t.Fatalf("expected 6 generated with day 2 failed: %+v", report)
	}

	// Days 1 and 3 exist, day 2 does not.
	if _, err := repo.GetDayContent(ctx, svc.DB, sess.ID, 1); err != nil {
		t.Fatalf("day 1 missing: %v", err)
	}
	if _, err := repo.GetDayContent(ctx, svc.DB, sess.ID, 3); err != nil {
		t.Fatalf("day 3 missing: %v", err)
	}
	if _, err := repo.GetDayContent(ctx, svc.DB, sess.ID, 2); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("day 2 should be absent, got %v", err)
	}
}

func TestConfirm_CalendarFailureDegrades(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, cal := newProgramService(t, now)
	cal.fail = true
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 1)

	report, err := svc.Confirm(ctx, sess.ID, true, true)
	if err != nil {
		t.Fatalf("calendar failure must not abort confirmation: %v", err)
	}
	if report.Calendar {
		t.Fatalf("report should show calendar not created")
	}
	if len(report.Generated) != 1 {
		t.Fatalf("content generation must still happen: %+v", report)
	}
}

func TestConfirm_DeclinedEndsFlow(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, gen, _ := newProgramService(t, now)
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)

	report, err := svc.Confirm(ctx, sess.ID, false, false)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if report.Confirmed {
		t.Fatalf("declined confirm reported as confirmed")
	}
	if len(gen.calls) != 0 {
		t.Fatalf("declining must not generate content")
	}
	got, _ := repo.GetSession(ctx, svc.DB, sess.ID)
	if got.CurrentState != domain.StateEnd {
		t.Fatalf("declined session should end, got %s", got.CurrentState)
	}
}

func TestConfirm_ProgramImmutableAfterConfirmation(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, gen, _ := newProgramService(t, now)
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)

	if _, err := svc.Confirm(ctx, sess.ID, true, false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	// Repeating the confirmation must not rerun generation or append a
	// second history row.
	if _, err := svc.Confirm(ctx, sess.ID, true, false); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("second confirm: want ErrNotConfirmable, got %v", err)
	}
	if _, err := svc.Confirm(ctx, sess.ID, false, false); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("declining a running program: want ErrNotConfirmable, got %v", err)
	}
	if len(gen.calls) != 7 {
		t.Fatalf("generator called %d times, want 7", len(gen.calls))
	}
	hist, err := repo.ListHistory(ctx, svc.DB, "u1")
	if err != nil || len(hist) != 1 {
		t.Fatalf("history rows = %d, want 1 (%v)", len(hist), err)
	}

	// Selection steps are frozen too; only the day pointer moves now.
	if _, err := svc.SelectCategory(ctx, sess.ID, domain.CategoryPrayer); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("SelectCategory after confirm: want ErrNotConfirmable, got %v", err)
	}
	if err := svc.SelectTopic(ctx, sess.ID, "Patience", domain.ContentText); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("SelectTopic after confirm: want ErrNotConfirmable, got %v", err)
	}
	if _, err := svc.SetProgramLength(ctx, sess.ID, 14, "09:30"); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("SetProgramLength after confirm: want ErrNotConfirmable, got %v", err)
	}
	got, _ := repo.GetSession(ctx, svc.DB, sess.ID)
	if !got.ProgramStartDate.Equal(*sess.ProgramStartDate) || got.ProgramLength != 7 ||
		got.SelectedCategory != domain.CategoryDevotion || got.SelectedTopic != "Overcoming Fear" {
		t.Fatalf("program fields mutated after confirmation: %+v", got)
	}
}

func TestConfirm_DeclinedProgramCanBeReconfirmed(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)

	if _, err := svc.Confirm(ctx, sess.ID, false, false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	// Declining writes no history, so the selections stay open and the user
	// may still commit to the same program.
	report, err := svc.Confirm(ctx, sess.ID, true, false)
	if err != nil || !report.Confirmed {
		t.Fatalf("confirm after decline should succeed: %+v, %v", report, err)
	}
}

func TestConfirm_IncompleteSelections(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()
	sess, _ := svc.StartSession(ctx, "u1")
	if _, err := svc.Confirm(ctx, sess.ID, true, false); !errors.Is(err, ErrNotConfirmable) {
		t.Fatalf("expected ErrNotConfirmable, got %v", err)
	}
}

func TestDeliverDaily_AdvancesAndCompletes(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 1)
	if _, err := svc.Confirm(ctx, sess.ID, true, false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	d, err := svc.DeliverDaily(ctx, sess.ID)
	if err != nil {
		t.Fatalf("DeliverDaily: %v", err)
	}
	if d.Day != 1 || !d.ProgramCompleted {
		t.Fatalf("1-day program should complete on first delivery: %+v", d)
	}
	if !strings.Contains(d.Message, "Day 1 of 1") {
		t.Fatalf("message header missing: %q", d.Message)
	}

	got, _ := repo.GetSession(ctx, svc.DB, sess.ID)
	if got.CurrentState != domain.StateEnd {
		t.Fatalf("completed program should end flow, got %s", got.CurrentState)
	}
	h, err := repo.GetHistoryBySession(ctx, svc.DB, sess.ID)
	if err != nil || !h.Completed {
		t.Fatalf("history not marked completed: %+v, %v", h, err)
	}

	// Progress row recorded.
	rows, _ := repo.ListProgress(ctx, svc.DB, sess.ID)
	if len(rows) != 1 || !rows[0].Completed {
		t.Fatalf("progress rows: %+v", rows)
	}
}

func TestDeliverDaily_MultiDayAdvances(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)
	if _, err := svc.Confirm(ctx, sess.ID, true, false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	d, err := svc.DeliverDaily(ctx, sess.ID)
	if err != nil || d.Day != 1 || d.ProgramCompleted {
		t.Fatalf("first delivery: %+v, %v", d, err)
	}
	got, _ := repo.GetSession(ctx, svc.DB, sess.ID)
	if got.CurrentDay != 2 || got.CurrentState != domain.StateDeliverDaily {
		t.Fatalf("day pointer should advance to 2: %+v", got)
	}
}

func TestDeliverDaily_NoContentAndNoProgram(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()

	sess, _ := svc.StartSession(ctx, "u1")
	if _, err := svc.DeliverDaily(ctx, sess.ID); !errors.Is(err, ErrNoProgram) {
		t.Fatalf("expected ErrNoProgram, got %v", err)
	}

	// Program confirmed but day content missing (generation failed).
	svc2, gen, _ := newProgramService(t, now)
	gen.failDays = map[int]bool{1: true}
	sess2 := driveToConfirm(t, svc2, "u1", 1)
	if _, err := svc2.Confirm(ctx, sess2.ID, true, false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := svc2.DeliverDaily(ctx, sess2.ID); !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}

	// Regeneration repairs the gap and delivery succeeds.
	gen.failDays = nil
	if _, err := svc2.RegenerateDay(ctx, sess2.ID, 1); err != nil {
		t.Fatalf("RegenerateDay: %v", err)
	}
	if _, err := svc2.DeliverDaily(ctx, sess2.ID); err != nil {
		t.Fatalf("DeliverDaily after regenerate: %v", err)
	}
}

func TestGetOrResume_RecomputesDay(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC))
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)
	if _, err := svc.Confirm(ctx, sess.ID, true, false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !sess.ProgramStartDate.Equal(start) {
		t.Fatalf("precondition: start %s", sess.ProgramStartDate)
	}
	if err := repo.SetResumeRequested(ctx, svc.DB, sess.ID, true); err != nil {
		t.Fatalf("SetResumeRequested: %v", err)
	}

	// Resume on Jan 4 09:00: three whole days elapsed, day 4 is due.
	svc.Now = fixedClock(time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC))
	got, resumed, err := svc.GetOrResume(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetOrResume: %v", err)
	}
	if !resumed || got.CurrentDay != 4 || got.CurrentState != domain.StateDeliverDaily {
		t.Fatalf("resume result: resumed=%v session=%+v", resumed, got)
	}
	if got.ResumeRequested {
		t.Fatalf("resume flag should be cleared")
	}

	// A second fetch is a plain read.
	_, resumed, err = svc.GetOrResume(ctx, sess.ID)
	if err != nil || resumed {
		t.Fatalf("second fetch should not resume: %v, %v", resumed, err)
	}
}

func TestGetOrResume_DanglingFlagWithoutProgram(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, _, _ := newProgramService(t, now)
	ctx := context.Background()
	sess, _ := svc.StartSession(ctx, "u1")
	if err := repo.SetResumeRequested(ctx, svc.DB, sess.ID, true); err != nil {
		t.Fatal(err)
	}
	got, resumed, err := svc.GetOrResume(ctx, sess.ID)
	if err != nil || resumed {
		t.Fatalf("dangling resume must be ignored: %v, %v", resumed, err)
	}
	if got.ResumeRequested {
		t.Fatalf("dangling flag should be cleared")
	}
}

func TestSOS_UsesTopicAndLogs(t *testing.T) {
	now := time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
	svc, gen, _ := newProgramService(t, now)
	gen.sosText = "Immediate help text."
	ctx := context.Background()
	sess := driveToConfirm(t, svc, "u1", 7)

	msg, err := svc.SOS(ctx, sess.ID)
	if err != nil || msg != "Immediate help text." {
		t.Fatalf("SOS: %q, %v", msg, err)
	}

	// Logged as an assistant turn.
	msgs, err := repo.ListMessages(ctx, svc.DB, sess.ID, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("ListMessages: %v", err)
	}
	if msgs[0].Role != "assistant" || msgs[0].Content != "Immediate help text." {
		t.Fatalf("last message: %+v", msgs[0])
	}

	// The day pointer is untouched by the detour.
	got, _ := repo.GetSession(ctx, svc.DB, sess.ID)
	if got.CurrentDay != 1 {
		t.Fatalf("SOS must not move the day pointer: %+v", got)
	}
}

func TestFormatDelivery_SectionsAndFallbackTitle(t *testing.T) {
	msg := FormatDelivery(2, 7, domain.Payload{
		"scripture":            "Psalm 23",
		"prayer":               "A prayer.",
		"video_recommendation": "Clip (url)",
	})
	if !strings.HasPrefix(msg, "Day 2 (Day 2 of 7)") {
		t.Fatalf("fallback title header: %q", msg)
	}
	for _, want := range []string{"Scripture:", "Prayer:", "Video:"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("missing section %q in %q", want, msg)
		}
	}
	if strings.Contains(msg, "Action Plan") {
		t.Fatalf("absent keys must not render sections")
	}
}
