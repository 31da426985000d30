package database

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/samber/lo"
)

// Append implements chat.Sink.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	row := ChatMessage{
		ID:          uuid.NewString(),
		RoomID:      msg.RoomID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		IsRead:      msg.IsRead,
		Timestamp:   msg.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns the latest limit messages of roomID, oldest first.
// limit must be positive.
func (s *Store) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}
	var rows []ChatMessage
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp desc").
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	msgs := lo.Map(rows, func(r ChatMessage, _ int) chat.Message {
		return chat.Message{
			RoomID:      r.RoomID,
			SenderID:    r.SenderID,
			Content:     r.Content,
			MessageType: r.MessageType,
			Timestamp:   r.Timestamp.UTC(),
			IsRead:      r.IsRead,
		}
	})
	slices.Reverse(msgs)
	return msgs, nil
}
