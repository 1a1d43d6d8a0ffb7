// Program HTTP handlers.
//
// This file exposes REST endpoints for the guided program flow:
//   - POST /sessions                          (create a session)
//   - GET  /sessions/{id}                     (fetch, honoring a pending resume)
//   - POST /sessions/{id}/category            (pick devotion/prayer/…)
//   - POST /sessions/{id}/topic               (pick or type a topic)
//   - POST /sessions/{id}/length              (program length + reminder time)
//   - POST /sessions/{id}/confirm             (confirm or decline; idempotent)
//   - POST /sessions/{id}/day                 (deliver the current day)
//   - POST /sessions/{id}/days/{day}/regenerate
//   - POST /sessions/{id}/sos                 (immediate support message)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
//
// Idempotency:
// Confirmation triggers bulk content generation and reminder scheduling. If the
// client supplies an Idempotency-Key header and a previous successful
// confirmation exists for (user, session, key), the handler reconstructs the
// recorded outcome from storage instead of repeating the side effects, and sets
// `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/http/middleware"
	"github.com/dscpl/go-dscpl-backend/internal/repo"
	"github.com/dscpl/go-dscpl-backend/internal/services"
	"github.com/dscpl/go-dscpl-backend/internal/sysutil"
	"github.com/dscpl/go-dscpl-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ProgramService defines the program lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ProgramService interface {
	// StartSession creates a fresh session for userID.
	StartSession(ctx context.Context, userID string) (*domain.Session, error)
	// GetOrResume fetches a session, applying a pending resume request.
	GetOrResume(ctx context.Context, sessionID string) (*domain.Session, bool, error)
	// SelectCategory records the category choice and returns the next state.
	SelectCategory(ctx context.Context, sessionID string, category domain.Category) (domain.State, error)
	// SelectTopic records the topic and requested content kind.
	SelectTopic(ctx context.Context, sessionID, topic string, kind domain.ContentKind) error
	// SetProgramLength fixes the duration and computes the start date.
	SetProgramLength(ctx context.Context, sessionID string, length int, preferred string) (time.Time, error)
	// Confirm applies the final yes/no and runs bulk setup on yes.
	Confirm(ctx context.Context, sessionID string, confirmed, wantCalendar bool) (*services.ConfirmReport, error)
	// DeliverDaily serves the current day and advances the pointer.
	DeliverDaily(ctx context.Context, sessionID string) (*services.Delivery, error)
	// RegenerateDay rebuilds and stores content for one day.
	RegenerateDay(ctx context.Context, sessionID string, day int) (domain.Payload, error)
	// SOS produces an immediate support message.
	SOS(ctx context.Context, sessionID string) (string, error)
}

// ProgressService defines progress reporting operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ProgressService interface {
	// Overview lists a user's program history, newest first.
	Overview(ctx context.Context, userID string) ([]domain.ProgramHistory, error)
	// Detail partitions a program's days into completed and remaining.
	Detail(ctx context.Context, sessionID string) (*services.ProgressDetail, error)
	// ContentUpTo returns stored content for days 1..day (day<=0 means all).
	ContentUpTo(ctx context.Context, sessionID string, day int) ([]services.DayContentView, error)
	// ResumeProgram flags the session to fast-forward on next fetch.
	ResumeProgram(ctx context.Context, userID, sessionID string) error
}

// ChatService defines free-form conversation operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatService interface {
	// Answer appends a user prompt and an assistant reply atomically.
	Answer(ctx context.Context, sessionID, prompt string) (*domain.ConversationMessage, error)
	// ListPage returns a page of messages within a session and the total count.
	ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ConversationMessage, int64, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for sessions, programs, progress, and chat.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	programSvc  ProgramService
	progressSvc ProgressService
	chatSvc     ChatService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(programSvc ProgramService, progressSvc ProgressService, chatSvc ChatService) *Handlers {
	return &Handlers{programSvc: programSvc, progressSvc: progressSvc, chatSvc: chatSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	var header string
	if c != nil && c.Request != nil {
		header = strings.TrimSpace(c.GetHeader("X-User-ID"))
	}
	return sysutil.FirstNonEmpty(header, "demo-user")
}

// atoiParam parses a numeric path parameter, returning 0 when absent or
// malformed.
func atoiParam(c *gin.Context, name string) int {
	return utils.AtoiDefault(c.Param(name), 0)
}

//
// DTOs
//

// GetSessionResponse wraps a session and whether a pending resume was applied.
type GetSessionResponse struct {
	Session *domain.Session `json:"session"`
	// Resumed is true when this fetch fast-forwarded the day pointer.
	Resumed bool `json:"resumed"`
}

// SelectCategoryRequest is the JSON payload for choosing a program category.
type SelectCategoryRequest struct {
	// Category is one of: devotion, prayer, meditation, accountability,
	// just_chat, view_progress.
	Category string `json:"category" binding:"required" example:"devotion"`
}

// SelectCategoryResponse reports the state the flow moved to and, when the
// category needs a topic, the curated topic suggestions.
type SelectCategoryResponse struct {
	NextState domain.State `json:"next_state"`
	Topics    []string     `json:"topics,omitempty"`
}

// SelectTopicRequest is the JSON payload for choosing a topic.
type SelectTopicRequest struct {
	// Topic is a curated suggestion or any free-form text.
	Topic string `json:"topic" binding:"required" example:"Overcoming Fear"`
	// ContentKind selects text, video, or both (devotion only; others are text).
	ContentKind string `json:"content_kind" example:"text"`
}

// SetLengthRequest is the JSON payload for fixing the program duration.
type SetLengthRequest struct {
	// Length is the program duration in days (1, 7, 14, or 30).
	Length int `json:"length" binding:"required" example:"7"`
	// PreferredTime is the daily reminder time as HH:MM (24h). Default 08:00.
	PreferredTime string `json:"preferred_time" example:"08:00"`
}

// SetLengthResponse reports the computed program start date.
type SetLengthResponse struct {
	StartDate time.Time `json:"start_date"`
}

// ConfirmRequest is the JSON payload for the final confirmation step.
type ConfirmRequest struct {
	// Confirmed must be present; false declines and ends the flow.
	Confirmed *bool `json:"confirmed" binding:"required"`
	// CalendarEvents requests Google Calendar events for each program day.
	CalendarEvents bool `json:"calendar_events"`
}

// SOSResponse carries the immediate support message.
type SOSResponse struct {
	Message string `json:"message"`
}

// RegenerateDayResponse carries freshly regenerated content for one day.
type RegenerateDayResponse struct {
	Day     int            `json:"day"`
	Payload domain.Payload `json:"payload"`
}

//
// Handlers
//

// CreateSession creates a session for the current user and returns it.
func (h *Handlers) CreateSession(c *gin.Context) {
	s, err := h.programSvc.StartSession(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, s)
}

// GetSession fetches a session. When a resume was requested, the fetch
// recomputes the current day from elapsed calendar days before returning.
func (h *Handlers) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	s, resumed, err := h.programSvc.GetOrResume(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, GetSessionResponse{Session: s, Resumed: resumed})
}

// SelectCategory records a category choice and reports the next state. For
// categories that take a topic the response includes curated suggestions.
func (h *Handlers) SelectCategory(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	var req SelectCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "category required")
		return
	}
	cat := domain.Category(strings.ToLower(strings.TrimSpace(req.Category)))

	next, err := h.programSvc.SelectCategory(c.Request.Context(), sessionID, cat)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrInvalidCategory):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown category")
		case errors.Is(err, services.ErrNotConfirmable):
			fail(c, http.StatusConflict, ErrCodeConflict, "program already confirmed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	resp := SelectCategoryResponse{NextState: next}
	if cat.NeedsTopic() {
		resp.Topics = domain.TopicsFor(cat)
	}
	ok(c, http.StatusOK, resp)
}

// SelectTopic records the topic (curated or free-form) and content kind.
func (h *Handlers) SelectTopic(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	var req SelectTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Topic) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "topic required")
		return
	}
	kind := domain.ContentKind(strings.ToLower(strings.TrimSpace(req.ContentKind)))

	if err := h.programSvc.SelectTopic(c.Request.Context(), sessionID, req.Topic, kind); err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrInvalidTopic):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "topic not allowed in current state")
		case errors.Is(err, services.ErrNotConfirmable):
			fail(c, http.StatusConflict, ErrCodeConflict, "program already confirmed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// SetProgramLength fixes the duration and reminder time, returning the start
// date the program will begin on (today or tomorrow at the preferred time).
func (h *Handlers) SetProgramLength(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	var req SetLengthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "length required")
		return
	}
	preferred := strings.TrimSpace(req.PreferredTime)
	if preferred == "" {
		preferred = "08:00"
	}

	start, err := h.programSvc.SetProgramLength(c.Request.Context(), sessionID, req.Length, preferred)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrInvalidLength):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "length must be one of 1, 7, 14, 30")
		case errors.Is(err, services.ErrInvalidTime):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "preferred_time must be HH:MM (24h)")
		case errors.Is(err, services.ErrNotConfirmable):
			fail(c, http.StatusConflict, ErrCodeConflict, "program is not open to changes")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, SetLengthResponse{StartDate: start})
}

// Confirm applies the final yes/no. Confirming generates every program day,
// records history, and schedules reminders; declining ends the flow. A replay
// detected via Idempotency-Key serves the recorded outcome without repeating
// any side effects.
func (h *Handlers) Confirm(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Confirmed == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "confirmed required")
		return
	}
	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey == "" {
		idemKey = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}
	if idemKey != "" {
		if svc, okSvc := h.programSvc.(*services.ProgramService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, sessionID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if report, err2 := replayConfirm(ctx, svc, sessionID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, report)
					return
				}
			}
		}
	}

	report, err := h.programSvc.Confirm(ctx, sessionID, *req.Confirmed, req.CalendarEvents)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrNotConfirmable):
			fail(c, http.StatusConflict, ErrCodeConflict, "program setup is incomplete")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeConfirmFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && report.Confirmed {
		if svc, okSvc := h.programSvc.(*services.ProgramService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, sessionID, idemKey, "confirm_program", http.StatusOK, ttl)
		}
	}

	ok(c, http.StatusOK, report)
}

// replayConfirm reconstructs a confirmation report from stored rows. Content
// and history were persisted by the original request; reminder and calendar
// counters are zero because no new work is performed on replay.
func replayConfirm(ctx context.Context, svc *services.ProgramService, sessionID string) (*services.ConfirmReport, error) {
	items, err := repo.ListDayContent(ctx, svc.DB, sessionID)
	if err != nil || len(items) == 0 {
		if err == nil {
			err = services.ErrNoContent
		}
		return nil, err
	}
	days := make([]int, 0, len(items))
	for _, it := range items {
		days = append(days, it.DayNumber)
	}
	report := &services.ConfirmReport{Confirmed: true, Generated: days}
	if hist, err := repo.GetHistoryBySession(ctx, svc.DB, sessionID); err == nil {
		report.EndDate = hist.EndDate
	}
	return report, nil
}

// DeliverDay serves the stored content for the session's current day, records
// the completion, and advances the day pointer.
func (h *Handlers) DeliverDay(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	d, err := h.programSvc.DeliverDaily(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrNoProgram):
			fail(c, http.StatusConflict, ErrCodeConflict, "session has no confirmed program")
		case errors.Is(err, services.ErrNoContent):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no content stored for the current day")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeDeliverFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, d)
}

// RegenerateDay rebuilds content for one day, replacing the stored row.
func (h *Handlers) RegenerateDay(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	day := atoiParam(c, "day")
	if day < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "day must be a positive integer")
		return
	}

	payload, err := h.programSvc.RegenerateDay(c.Request.Context(), sessionID, day)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case errors.Is(err, services.ErrNoProgram):
			fail(c, http.StatusConflict, ErrCodeConflict, "session has no confirmed program")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, RegenerateDayResponse{Day: day, Payload: payload})
}

// SOS returns an immediate support message without touching program state.
func (h *Handlers) SOS(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	msg, err := h.programSvc.SOS(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, SOSResponse{Message: msg})
}
