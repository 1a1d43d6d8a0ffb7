package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dscpl/go-dscpl-backend/internal/calendar"
	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// newTestDB opens a throwaway SQLite file with the full schema migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(
		&domain.Session{},
		&domain.DayContent{},
		&domain.DailyProgress{},
		&domain.ProgramHistory{},
		&domain.ConversationMessage{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// stubGenerator returns canned payloads and records calls; specific days can
// be made to fail.
type stubGenerator struct {
	mu       sync.Mutex
	calls    []int
	failDays map[int]bool
	sosText  string
}

func (g *stubGenerator) Generate(_ context.Context, _ domain.Category, topic string, day int, theme string, _ domain.ContentKind) (domain.Payload, error) {
	g.mu.Lock()
	g.calls = append(g.calls, day)
	g.mu.Unlock()
	if g.failDays[day] {
		return nil, errors.New("generation failed")
	}
	return domain.Payload{
		"title":     fmt.Sprintf("Day %d", day),
		"scripture": fmt.Sprintf("passage for %s on %s", topic, theme),
	}, nil
}

func (g *stubGenerator) SOS(context.Context, string) (string, error) {
	if g.sosText == "" {
		return "You are not alone.", nil
	}
	return g.sosText, nil
}

// stubCalendar records invocations and optionally fails.
type stubCalendar struct {
	calls int
	fail  bool
}

func (c *stubCalendar) CreateDailyEvents(context.Context, *domain.Session, time.Time) error {
	c.calls++
	if c.fail {
		return errors.New("calendar unavailable")
	}
	return nil
}

var _ calendar.Events = (*stubCalendar)(nil)

// fixedClock returns a settable clock function.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
