// Package notify – background notification scheduling
//
// This file implements the in-process Scheduler that delivers daily program
// reminders. The scheduler owns a mutex-guarded list of pending notifications
// and a single background goroutine that polls it on a fixed interval,
// handing due entries to the configured Deliverer. Delivery is at-most-once:
// an entry is claimed (flagged sent) before the deliverer runs, so a failing
// or panicking deliverer consumes the notification rather than replaying it
// on the next tick. Failures are logged and counted instead.
//
// Start is idempotent and Stop waits for the loop to drain within a bounded
// timeout. The pending list is in-memory only; Rehydrate recomputes the
// remaining reminders for active programs from their persisted start date and
// length, so a process restart loses nothing that can be derived.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/program"
	"github.com/dscpl/go-dscpl-backend/internal/repo"
)

var (
	// notifScheduled counts notifications added to the pending list.
	notifScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_scheduled_total",
		Help: "Total number of notifications scheduled.",
	})

	// notifDelivered counts notifications handed to the deliverer, by outcome.
	notifDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Total number of notification delivery attempts.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(notifScheduled, notifDelivered)
}

// Notification is one scheduled reminder.
type Notification struct {
	UserID      string
	Title       string
	Message     string
	ScheduledAt time.Time
	Sent        bool
}

// Deliverer sends a due notification to the user. Implementations must be
// safe for calls from the scheduler goroutine.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, n Notification) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogDeliverer writes notifications to the application log. It is the default
// delivery channel; push/email transports plug in behind the same interface.
type LogDeliverer struct{}

// Deliver logs the notification.
func (LogDeliverer) Deliver(_ context.Context, n Notification) error {
	log.Info().Str("user_id", n.UserID).Str("title", n.Title).Msg(n.Message)
	return nil
}

// DefaultPollInterval matches the upstream one-minute check cadence.
const DefaultPollInterval = 60 * time.Second

// Scheduler polls a pending list and delivers due notifications.
type Scheduler struct {
	deliverer Deliverer
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending []Notification
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPollInterval overrides the polling cadence.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces the time source. Seam for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler constructs a stopped Scheduler around the given deliverer.
func NewScheduler(d Deliverer, opts ...SchedulerOption) *Scheduler {
	if d == nil {
		d = LogDeliverer{}
	}
	s := &Scheduler{
		deliverer: d,
		interval:  DefaultPollInterval,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the polling goroutine. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(s.stopCh, s.doneCh)
}

// Stop signals the loop and waits up to timeout for it to exit. It returns
// an error when the loop did not stop in time; the scheduler is still marked
// stopped so a later Start spins up a fresh loop.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler did not stop within %s", timeout)
	}
}

// Schedule queues one notification.
func (s *Scheduler) Schedule(userID, title, message string, at time.Time) {
	s.mu.Lock()
	s.pending = append(s.pending, Notification{
		UserID:      userID,
		Title:       title,
		Message:     message,
		ScheduledAt: at,
	})
	s.mu.Unlock()
	notifScheduled.Inc()
}

// ScheduleDaily queues one reminder per program day at the start date's time
// of day. Days whose time already passed are skipped, so confirming late in
// the day never produces an immediately-due backlog.
func (s *Scheduler) ScheduleDaily(userID string, category domain.Category, topic string, length int, start time.Time) int {
	now := s.now()
	scheduled := 0
	for day := 1; day <= length; day++ {
		at := start.AddDate(0, 0, day-1)
		if !at.After(now) {
			continue
		}
		title := fmt.Sprintf("DSCPL %s", category.Title())
		msg := fmt.Sprintf("Time for your daily %s on %s. Day %d of %d.",
			category, topic, day, length)
		s.Schedule(userID, title, msg, at)
		scheduled++
	}
	return scheduled
}

// Pending returns a snapshot of the not-yet-sent notifications.
func (s *Scheduler) Pending() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, len(s.pending))
	for _, n := range s.pending {
		if !n.Sent {
			out = append(out, n)
		}
	}
	return out
}

// Rehydrate rebuilds the pending list for all sessions with an active
// program. Remaining days are derived from the persisted start date and
// length, so the in-memory queue survives restarts by recomputation.
func (s *Scheduler) Rehydrate(ctx context.Context, db *gorm.DB) error {
	sessions, err := repo.ListSessionsWithProgram(ctx, db)
	if err != nil {
		return fmt.Errorf("rehydrate scheduler: %w", err)
	}
	total := 0
	for _, sess := range sessions {
		if sess.ProgramStartDate == nil {
			continue
		}
		day := program.ResolveDay(*sess.ProgramStartDate, sess.ProgramLength, s.now())
		if day >= sess.ProgramLength && !s.hasRemaining(*sess.ProgramStartDate, sess.ProgramLength) {
			continue
		}
		total += s.ScheduleDaily(sess.UserID, sess.SelectedCategory, sess.SelectedTopic,
			sess.ProgramLength, *sess.ProgramStartDate)
	}
	log.Info().Int("sessions", len(sessions)).Int("notifications", total).
		Msg("notification scheduler rehydrated")
	return nil
}

// hasRemaining reports whether any day's reminder time is still ahead of now.
func (s *Scheduler) hasRemaining(start time.Time, length int) bool {
	return start.AddDate(0, 0, length-1).After(s.now())
}

// loop polls until stopCh closes.
func (s *Scheduler) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick claims due notifications under the lock and delivers them outside it.
// Claiming before delivery is what makes delivery at-most-once. Claimed
// entries are dropped from the list so it only ever holds future reminders.
func (s *Scheduler) tick() {
	now := s.now()

	s.mu.Lock()
	var due []Notification
	kept := s.pending[:0]
	for _, n := range s.pending {
		if !n.Sent && !n.ScheduledAt.After(now) {
			n.Sent = true
			due = append(due, n)
			continue
		}
		kept = append(kept, n)
	}
	s.pending = kept
	s.mu.Unlock()

	for _, n := range due {
		s.deliver(n)
	}
}

// deliver runs one delivery attempt, containing panics and recording outcome.
func (s *Scheduler) deliver(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			notifDelivered.WithLabelValues("panic").Inc()
			log.Error().Interface("panic", r).Str("user_id", n.UserID).
				Msg("notification deliverer panicked")
		}
	}()
	if err := s.deliverer.Deliver(context.Background(), n); err != nil {
		notifDelivered.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("user_id", n.UserID).Str("title", n.Title).
			Msg("notification delivery failed")
		return
	}
	notifDelivered.WithLabelValues("ok").Inc()
}
