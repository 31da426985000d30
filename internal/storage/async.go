package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/omochice/roomchat/internal/chat"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Async.Append when the queue has no room.
	ErrQueueFull = errors.New("persistence queue full")
	// ErrQueueClosed is returned by Async.Append after Close.
	ErrQueueClosed = errors.New("persistence queue closed")
)

// appendTimeout bounds a single write to the wrapped sink.
const appendTimeout = 10 * time.Second

// Async decouples the chat loop from storage latency. Append only enqueues;
// one worker writes to the wrapped sink in arrival order. Failures in the
// worker are logged and counted.
type Async struct {
	next     chat.Sink
	queue    chan chat.Message
	logger   *zap.Logger
	recorder chat.Recorder

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the worker. size is the queue capacity.
func NewAsync(next chat.Sink, size int, logger *zap.Logger, recorder chat.Recorder) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = chat.NopRecorder{}
	}
	a := &Async{
		next:     next,
		queue:    make(chan chat.Message, size),
		logger:   logger.Named("async"),
		recorder: recorder,
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Append implements chat.Sink.
func (a *Async) Append(_ context.Context, msg chat.Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrQueueClosed
	}
	select {
	case a.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued messages.
func (a *Async) Len() int {
	return len(a.queue)
}

// Close stops accepting messages and waits until the queue is drained or
// ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for msg := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := a.next.Append(ctx, msg)
		cancel()
		if err != nil {
			a.logger.Error("failed to persist message",
				zap.String("room", msg.RoomID),
				zap.String("sender", msg.SenderID),
				zap.Error(err))
			a.recorder.PersistenceFailed()
		}
	}
}
