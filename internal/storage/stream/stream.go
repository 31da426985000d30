// Package stream appends chat messages to one Redis stream per room.
package stream

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/pkg/protocol"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const recordField = "record"

// Store implements chat.Sink and history reads on Redis streams.
type Store struct {
	client *redis.Client
	prefix string
	maxLen int64
	logger *zap.Logger
}

// Open connects to Redis and checks the connection.
func Open(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, cfg.Prefix, cfg.MaxLen, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, maxLen int64, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, maxLen: maxLen, logger: logger.Named("stream")}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Append implements chat.Sink.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	rec := protocol.Record{
		ID:       uuid.NewString(),
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		Type:     msg.MessageType,
		SentAt:   msg.Timestamp,
		IsRead:   msg.IsRead,
	}
	value, err := rec.Encode()
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key(msg.RoomID),
		MaxLen: s.maxLen,
		Values: []any{recordField, value},
	}).Err()
}

// History returns the latest limit messages of roomID, oldest first.
func (s *Store) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}
	entries, err := s.client.XRevRangeN(ctx, s.key(roomID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]chat.Message, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values[recordField].(string)
		if !ok {
			s.logger.Warn("skipping stream entry without record", zap.String("id", e.ID))
			continue
		}
		var rec protocol.Record
		if err := rec.Decode([]byte(raw)); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", e.ID, err)
		}
		msgs = append(msgs, chat.Message{
			RoomID:      rec.RoomID,
			SenderID:    rec.SenderID,
			Content:     rec.Content,
			MessageType: rec.Type,
			Timestamp:   rec.SentAt.In(time.UTC),
			IsRead:      rec.IsRead,
		})
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (s *Store) key(roomID string) string {
	return s.prefix + roomID
}
