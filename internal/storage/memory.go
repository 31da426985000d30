package storage

import (
	"context"
	"sync"

	"github.com/omochice/roomchat/internal/chat"
)

// Memory keeps messages in process memory. Used by tests and the memory
// storage type.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string][]chat.Message
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{rooms: make(map[string][]chat.Message)}
}

// Append implements chat.Sink.
func (m *Memory) Append(ctx context.Context, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[msg.RoomID] = append(m.rooms[msg.RoomID], msg)
	return nil
}

// History implements HistoryReader.
func (m *Memory) History(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.rooms[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Count returns the number of messages stored for roomID.
func (m *Memory) Count(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomID])
}
