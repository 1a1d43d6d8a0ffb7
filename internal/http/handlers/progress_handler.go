// Progress HTTP handlers.
//
// This file exposes REST endpoints for the progress dashboard:
//   - GET  /progress                       (program history for the user)
//   - GET  /progress/{id}                  (completed/remaining breakdown)
//   - GET  /progress/{id}/content?day=N    (stored content up to a day)
//   - POST /progress/{id}/resume           (request a fast-forward resume)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/services"
	"github.com/dscpl/go-dscpl-backend/internal/utils"
)

//
// DTOs
//

// ProgressOverviewResponse wraps the user's program history, newest first.
type ProgressOverviewResponse struct {
	Programs []domain.ProgramHistory `json:"programs"`
}

// ProgramContentResponse wraps stored day content in day order.
type ProgramContentResponse struct {
	SessionID string                    `json:"session_id"`
	Days      []services.DayContentView `json:"days"`
}

//
// Handlers
//

// ProgressOverview lists every program the current user has started.
func (h *Handlers) ProgressOverview(c *gin.Context) {
	items, err := h.progressSvc.Overview(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ProgressOverviewResponse{Programs: items})
}

// ProgressDetail reports the completed/remaining partition for one program.
func (h *Handlers) ProgressDetail(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	d, err := h.progressSvc.Detail(c.Request.Context(), sessionID)
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
	ok(c, http.StatusOK, d)
}

// ProgramContent returns stored content for days 1..day. Omitting the day
// query parameter (or passing 0) returns the whole program.
func (h *Handlers) ProgramContent(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	day := utils.AtoiDefault(c.Query("day"), 0)

	days, err := h.progressSvc.ContentUpTo(c.Request.Context(), sessionID, day)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ProgramContentResponse{SessionID: sessionID, Days: days})
}

// ResumeProgram flags an owned session so the next fetch fast-forwards the
// day pointer from elapsed calendar days.
func (h *Handlers) ResumeProgram(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}

	if err := h.progressSvc.ResumeProgram(c.Request.Context(), userID(c), sessionID); err != nil {
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
	noContent(c)
}
