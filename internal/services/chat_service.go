// Package services – ChatService
//
// This file implements ChatService, the free-form "just chat" flow that sits
// outside the program lifecycle. It validates and persists the user's
// message, builds a reply by retrieving passages for the prompt enriched
// with the last few conversation turns, and persists the assistant reply.
// The conversation log is append-only and shared with the program flow, so
// chat turns and daily deliveries interleave in one timeline.
package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/corpus"
	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/repo"
)

// historyTurns is how many recent messages enrich the retrieval query.
const historyTurns = 6

// fallbackReply is used when retrieval finds nothing for the prompt.
const fallbackReply = "I'm here with you. Tell me a bit more about what's on your heart and we can look at it together."

// ChatService coordinates the free-form conversation flow.
type ChatService struct {
	DB      *gorm.DB
	Library corpus.Library

	// MaxPromptRunes caps accepted prompts by rune length. Zero disables.
	MaxPromptRunes int
}

// NewChatService constructs a ChatService with a sane prompt cap.
func NewChatService(db *gorm.DB, lib corpus.Library) *ChatService {
	return &ChatService{DB: db, Library: lib, MaxPromptRunes: 4000}
}

// Answer validates the prompt, persists the user turn, composes a
// retrieval-backed reply and persists it. Both turns are appended even when
// retrieval comes up empty; the fallback reply keeps the conversation open.
func (s *ChatService) Answer(ctx context.Context, sessionID, prompt string) (*domain.ConversationMessage, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}
	if _, err := repo.GetSession(ctx, s.DB, sessionID); err != nil {
		return nil, mapNotFound(err)
	}

	// Recent turns are read before the new prompt is appended so the prompt
	// is not double-counted in the retrieval query.
	recent, err := repo.ListMessages(ctx, s.DB, sessionID, historyTurns)
	if err != nil {
		return nil, err
	}

	if _, err := repo.AppendMessage(ctx, s.DB, sessionID, roleUser, prompt); err != nil {
		return nil, err
	}

	reply := s.reply(prompt, recent)
	return repo.AppendMessage(ctx, s.DB, sessionID, roleAssistant, reply)
}

// ListPage returns a page of the session's conversation in chronological
// order, with the total count for pagination.
func (s *ChatService) ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ConversationMessage, int64, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetSession(ctx, s.DB, sessionID); err != nil {
		return nil, 0, mapNotFound(err)
	}
	total, err := repo.CountMessages(ctx, s.DB, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ConversationMessage{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, sessionID, offset, pageSize)
	return items, total, err
}

// reply retrieves passages for the prompt, enriched with the user's recent
// turns, and renders them as a short pastoral answer.
func (s *ChatService) reply(prompt string, recent []domain.ConversationMessage) string {
	if s.Library == nil {
		return fallbackReply
	}

	query := prompt
	for _, m := range recent {
		if m.Role == roleUser {
			query += " " + m.Content
		}
	}

	hits := s.Library.TopK(query, 2)
	if len(hits) == 0 {
		hits = s.Library.TopK(prompt, 2)
	}
	if len(hits) == 0 {
		return fallbackReply
	}

	var b strings.Builder
	b.WriteString("Here's something that speaks to what you shared:\n\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "%s: %s\n\n", h.Ref, h.Text)
	}
	b.WriteString("Would you like to talk through how this lands for you?")
	return b.String()
}
