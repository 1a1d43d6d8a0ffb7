// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only conversation log.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
)

// AppendMessage inserts a new conversation log row. The log is never
// mutated or deleted afterwards.
func AppendMessage(ctx context.Context, db *gorm.DB, sessionID, role, content string) (*domain.ConversationMessage, error) {
	m := &domain.ConversationMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// ListMessages returns messages in timestamp order (ID breaks ties). A
// positive limit caps the result to the most recent rows, still returned
// oldest-first.
func ListMessages(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.ConversationMessage, error) {
	var out []domain.ConversationMessage
	if limit > 0 {
		// Newest N, then flip to chronological order.
		err := db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			Order("timestamp DESC, id DESC").
			Limit(limit).
			Find(&out).Error
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM conversation_messages WHERE session_id = ?", sessionID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (Timestamp ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, sessionID string, offset, limit int) ([]domain.ConversationMessage, error) {
	var out []domain.ConversationMessage
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
