// Package storage selects and assembles the message persistence backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/storage/database"
	"github.com/omochice/roomchat/internal/storage/kv"
	"github.com/omochice/roomchat/internal/storage/stream"
	"go.uber.org/zap"
)

// DefaultHistoryLimit is used when History is called without a positive limit.
const DefaultHistoryLimit = 50

// HistoryReader returns the latest messages of a room, oldest first.
type HistoryReader interface {
	History(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// Backend is a sink that can also serve history.
type Backend interface {
	chat.Sink
	HistoryReader
}

// Storage is the assembled persistence layer.
type Storage struct {
	backend Backend
	sink    chat.Sink
	async   *Async
	closer  io.Closer
}

// Open builds the backend named by cfg.Type. The database store is shared
// with the room directory and is not closed by Storage.
func Open(ctx context.Context, cfg config.StorageConfig, db *database.Store, logger *zap.Logger, recorder chat.Recorder) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Storage{}
	switch cfg.Type {
	case "database":
		if db == nil {
			return nil, errors.New("database storage requires an open database")
		}
		s.backend = db
	case "badger":
		store, err := kv.Open(cfg.Badger.Path, logger)
		if err != nil {
			return nil, err
		}
		s.backend, s.closer = store, store
	case "redis":
		store, err := stream.Open(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		s.backend, s.closer = store, store
	case "memory":
		s.backend = NewMemory()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	s.sink = s.backend
	if cfg.QueueSize > 0 {
		s.async = NewAsync(s.backend, cfg.QueueSize, logger, recorder)
		s.sink = s.async
	}
	logger.Info("storage ready", zap.String("type", cfg.Type), zap.Int("queue_size", cfg.QueueSize))
	return s, nil
}

// Sink returns the sink the chat engine appends to.
func (s *Storage) Sink() chat.Sink {
	return s.sink
}

// History returns the backend's history reader. A non-positive limit reads
// DefaultHistoryLimit messages.
func (s *Storage) History() HistoryReader {
	return defaultLimit{s.backend}
}

type defaultLimit struct {
	HistoryReader
}

func (d defaultLimit) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return d.HistoryReader.History(ctx, roomID, limit)
}

// QueueLen reports queued messages, or 0 without a queue.
func (s *Storage) QueueLen() int {
	if s.async == nil {
		return 0
	}
	return s.async.Len()
}

// Close drains the queue and closes the backend.
func (s *Storage) Close(ctx context.Context) error {
	var errs []error
	if s.async != nil {
		errs = append(errs, s.async.Close(ctx))
	}
	if s.closer != nil {
		errs = append(errs, s.closer.Close())
	}
	return errors.Join(errs...)
}
