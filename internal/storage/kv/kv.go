// Package kv stores chat messages in an embedded BadgerDB.
//
// Keys are "msg:{len(room)}:{room}:{unix_nano, 19 digits}:{uuid}" so a prefix
// scan over one room yields its messages in time order and two messages in
// the same nanosecond never collide.
package kv

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/pkg/protocol"
	"go.uber.org/zap"
)

// Store implements chat.Sink and history reads on BadgerDB.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens (or creates) the database in dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("badger")
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements chat.Sink.
func (s *Store) Append(ctx context.Context, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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
	key := fmt.Sprintf("%s%019d:%s", roomPrefix(msg.RoomID), msg.Timestamp.UnixNano(), rec.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// History returns the latest limit messages of roomID, oldest first.
func (s *Store) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}

	var msgs []chat.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(roomPrefix(roomID))
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// newest first: seek past the largest possible timestamp
		for it.Seek(append(slices.Clone(prefix), 0xff)); it.ValidForPrefix(prefix) && len(msgs) < limit; it.Next() {
			var rec protocol.Record
			err := it.Item().Value(func(v []byte) error {
				return rec.Decode(v)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			msgs = append(msgs, toMessage(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func roomPrefix(roomID string) string {
	return fmt.Sprintf("msg:%d:%s:", len(roomID), roomID)
}

func toMessage(rec protocol.Record) chat.Message {
	return chat.Message{
		RoomID:      rec.RoomID,
		SenderID:    rec.SenderID,
		Content:     rec.Content,
		MessageType: rec.Type,
		Timestamp:   rec.SentAt.In(time.UTC),
		IsRead:      rec.IsRead,
	}
}

// badgerLogger routes badger's logs through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
