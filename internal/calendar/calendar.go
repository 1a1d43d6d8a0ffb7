// Package calendar – Google Calendar integration
//
// This file implements the optional calendar reminders created when a user
// confirms a program. One event is inserted per program day at the user's
// preferred delivery time, into the primary calendar of the account whose
// OAuth token is on disk. Individual event failures are logged and skipped so
// a transient API error does not leave the user with zero reminders; only
// setup failures (missing token, unreachable service) surface as an error,
// and even those never abort program confirmation upstream.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// Events creates the per-day reminder events for a confirmed program.
type Events interface {
	// CreateDailyEvents inserts one event per program day starting at the
	// session's program start date, at preferred's hour and minute.
	CreateDailyEvents(ctx context.Context, s *domain.Session, preferred time.Time) error
}

// Noop satisfies Events without side effects. Used when the integration is
// disabled by configuration.
type Noop struct{}

// CreateDailyEvents is a no-op.
func (Noop) CreateDailyEvents(context.Context, *domain.Session, time.Time) error { return nil }

// GoogleClient inserts events through the Calendar v3 API using an authorized
// user token stored as JSON on disk.
type GoogleClient struct {
	// TokenFile is the path to the oauth2 token JSON.
	TokenFile string
	// CalendarID defaults to "primary" when empty.
	CalendarID string

	// newService is a seam for tests.
	newService func(ctx context.Context, opts ...option.ClientOption) (*gcal.Service, error)
}

// NewGoogleClient constructs a GoogleClient for the given token file.
func NewGoogleClient(tokenFile string) *GoogleClient {
	return &GoogleClient{
		TokenFile:  tokenFile,
		CalendarID: "primary",
		newService: gcal.NewService,
	}
}

// eventDuration maps a program category to its reminder block length.
func eventDuration(c domain.Category) time.Duration {
	switch c {
	case domain.CategoryMeditation:
		return 20 * time.Minute
	case domain.CategoryPrayer:
		return 15 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// CreateDailyEvents inserts one reminder per program day. Per-event insert
// failures are logged and skipped; the returned error covers setup only.
func (g *GoogleClient) CreateDailyEvents(ctx context.Context, s *domain.Session, preferred time.Time) error {
	if s == nil || !s.HasProgram() {
		return fmt.Errorf("session has no confirmed program")
	}

	svc, err := g.service(ctx)
	if err != nil {
		return err
	}

	calID := g.CalendarID
	if calID == "" {
		calID = "primary"
	}

	tz := "UTC"
	if cal, err := svc.Calendars.Get(calID).Context(ctx).Do(); err == nil && cal.TimeZone != "" {
		tz = cal.TimeZone
	}

	start := *s.ProgramStartDate
	dur := eventDuration(s.SelectedCategory)
	for day := 1; day <= s.ProgramLength; day++ {
		at := time.Date(start.Year(), start.Month(), start.Day(),
			preferred.Hour(), preferred.Minute(), 0, 0, start.Location()).
			AddDate(0, 0, day-1)

		ev := &gcal.Event{
			Summary: fmt.Sprintf("DSCPL Program Day %d", day),
			Description: fmt.Sprintf("Your daily %s program\nTopic: %s\nDay %d of %d",
				s.SelectedCategory.Title(), s.SelectedTopic, day, s.ProgramLength),
			Start: &gcal.EventDateTime{DateTime: at.Format(time.RFC3339), TimeZone: tz},
			End:   &gcal.EventDateTime{DateTime: at.Add(dur).Format(time.RFC3339), TimeZone: tz},
			Reminders: &gcal.EventReminders{
				UseDefault: false,
				Overrides: []*gcal.EventReminder{
					{Method: "popup", Minutes: 10},
					{Method: "email", Minutes: 60},
				},
				ForceSendFields: []string{"UseDefault"},
			},
		}

		if _, err := svc.Events.Insert(calID, ev).Context(ctx).Do(); err != nil {
			log.Warn().Err(err).Int("day", day).Str("session_id", s.ID).
				Msg("calendar event insert failed; skipping day")
			continue
		}
	}
	return nil
}

// service builds the Calendar API client from the stored token.
func (g *GoogleClient) service(ctx context.Context) (*gcal.Service, error) {
	raw, err := os.ReadFile(g.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse calendar token: %w", err)
	}

	construct := g.newService
	if construct == nil {
		construct = gcal.NewService
	}
	svc, err := construct(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&tok)))
	if err != nil {
		return nil, fmt.Errorf("build calendar service: %w", err)
	}
	return svc, nil
}
