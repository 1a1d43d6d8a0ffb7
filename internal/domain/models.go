// Package domain defines the persistence models for programs, sessions,
// per-day content, progress tracking and the conversation log. These types
// are mapped with GORM and form the core data layer of the application.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Payload is the opaque structured blob produced by a content generator for
// one program day. Keys depend on the category (e.g. "scripture", "prayer",
// "declaration", "meditation", "video_recommendation"). It is persisted as a
// JSON text column.
type Payload map[string]string

// Encode marshals the payload to its JSON column representation.
func (p Payload) Encode() (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodePayload parses a JSON column value back into a Payload.
func DecodePayload(s string) (Payload, error) {
	if s == "" {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Session represents one committed (or in-progress) program instance for a
// user: the unit of a category+topic+length journey.
//
// Lifecycle: created on first contact with category unset; mutated at each
// selection step; once confirmed, everything except CurrentDay (and the
// resume flag) is immutable. Sessions are never deleted, only superseded by
// starting a new one.
//
// Invariants:
//   - CurrentDay is always within [1, ProgramLength] once a program exists.
//   - ProgramStartDate is set exactly once, at length selection, and never
//     mutated afterwards.
//   - SelectedCategory/SelectedTopic are set before ProgramLength.
type Session struct {
	ID               string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	UserID           string         `json:"user_id"            gorm:"type:varchar(64);not null;index:idx_user_sessions"`
	CurrentState     State          `json:"current_state"      gorm:"type:varchar(32);not null"`
	SelectedCategory Category       `json:"selected_category"  gorm:"type:varchar(32)"`
	SelectedTopic    string         `json:"selected_topic"     gorm:"type:varchar(128)"`
	ContentKind      ContentKind    `json:"content_kind"       gorm:"type:varchar(16)"`
	ProgramLength    int            `json:"program_length"`
	ProgramStartDate *time.Time     `json:"program_start_date"`
	CurrentDay       int            `json:"current_day"`
	ResumeRequested  bool           `json:"resume_requested"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                  gorm:"index"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// HasProgram reports whether the session carries a program shape
// (length and start date are both set).
func (s *Session) HasProgram() bool {
	return s.ProgramLength > 0 && s.ProgramStartDate != nil
}

// DayContent is the generated material for one day of one session. At most
// one row exists per (session, day); regeneration replaces the prior row
// atomically.
type DayContent struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	SessionID   string    `json:"session_id"   gorm:"type:char(36);not null;uniqueIndex:ux_session_day,priority:1"`
	DayNumber   int       `json:"day_number"   gorm:"not null;uniqueIndex:ux_session_day,priority:2"`
	ContentType string    `json:"content_type" gorm:"type:varchar(32);not null"`
	Category    Category  `json:"category"     gorm:"type:varchar(32)"`
	Topic       string    `json:"topic"        gorm:"type:varchar(128)"`
	PayloadJSON string    `json:"-"            gorm:"column:payload;type:text;not null"`
	CreatedAt   time.Time `json:"created_at"`

	// Session is the owning program. Content is cascade-deleted with it.
	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DayContent.
func (DayContent) TableName() string { return "day_contents" }

// Payload decodes the stored JSON blob.
func (d *DayContent) Payload() (Payload, error) { return DecodePayload(d.PayloadJSON) }

// DailyProgress is an append-only completion record. A day may be marked
// completed multiple times; "day D is completed" means at least one row
// exists for D.
type DailyProgress struct {
	ID          uint       `json:"id"           gorm:"primaryKey;autoIncrement"`
	SessionID   string     `json:"session_id"   gorm:"type:char(36);not null;index:idx_session_progress"`
	DayNumber   int        `json:"day_number"   gorm:"not null"`
	Completed   bool       `json:"completed"    gorm:"not null;default:false"`
	CompletedAt *time.Time `json:"completed_at"`
	Notes       string     `json:"notes"        gorm:"type:text"`
}

// TableName returns the database table name for DailyProgress.
func (DailyProgress) TableName() string { return "daily_progress" }

// ProgramHistory is the archival record of a program instance, created at
// confirmation and updated when all days are finished. It drives the
// progress dashboard.
type ProgramHistory struct {
	ID            uint      `json:"id"             gorm:"primaryKey;autoIncrement"`
	UserID        string    `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_user_history"`
	SessionID     string    `json:"session_id"     gorm:"type:char(36);not null;index"`
	Category      Category  `json:"category"       gorm:"type:varchar(32)"`
	Topic         string    `json:"topic"          gorm:"type:varchar(128)"`
	ProgramLength int       `json:"program_length"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	Completed     bool      `json:"completed"      gorm:"not null;default:false"`
	Paused        bool      `json:"paused"         gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for ProgramHistory.
func (ProgramHistory) TableName() string { return "program_history" }

// ConversationMessage is one utterance of the append-only chat/audit log.
// Rows are never mutated or deleted; ordering is by timestamp.
type ConversationMessage struct {
	ID        uint      `json:"id"         gorm:"primaryKey;autoIncrement"`
	SessionID string    `json:"session_id" gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	Timestamp time.Time `json:"timestamp"  gorm:"index:idx_session_msgs,priority:2"`
}

// TableName returns the database table name for ConversationMessage.
func (ConversationMessage) TableName() string { return "conversation_messages" }
