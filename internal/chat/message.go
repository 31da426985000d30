//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_sink.go -package=mocks
package chat

import (
	"context"
	"time"
)

// MessageTypeText is the only message type produced by the chat loop.
const MessageTypeText = "text"

// Keepalive sentinels exchanged as plain text frames.
const (
	PingSentinel = "ping"
	PongSentinel = "pong"
)

// Message is a chat message handed to a Sink. The core never keeps it after
// Append returns.
type Message struct {
	RoomID      string
	SenderID    string
	Content     string
	MessageType string
	Timestamp   time.Time
	IsRead      bool
}

// NewTextMessage builds the record persisted for an inbound chat frame.
func NewTextMessage(roomID, senderID, content string, at time.Time) Message {
	return Message{
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: MessageTypeText,
		Timestamp:   at.UTC(),
		IsRead:      false,
	}
}

// Sink durably appends chat messages.
type Sink interface {
	Append(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, msg Message) error

// Append implements Sink.
func (f SinkFunc) Append(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// DiscardSink drops every message.
var DiscardSink Sink = SinkFunc(func(context.Context, Message) error { return nil })
