package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Identity is the verified caller returned by an IdentityProvider.
type Identity struct {
	ID    string
	Role  string
	Email string
}

// Session is one authenticated connection bound to exactly one room.
//
// Send is the only way to deliver a frame to the client. Frames are queued
// for a dedicated writer goroutine so a slow peer never blocks the caller;
// once Close has run, Send fails with ErrSessionClosed and the writer never
// touches the connection again.
type Session struct {
	ID     string
	RoomID string
	UserID string
	Role   string

	mu         sync.Mutex
	conn       Conn
	outgoing   chan []byte
	closed     bool
	failed     bool
	done       chan struct{}
	writerDone chan struct{}
	cancel     context.CancelFunc
}

// NewSession creates an unstarted session for identity in roomID.
func NewSession(roomID string, identity Identity) *Session {
	return &Session{
		ID:     uuid.NewString(),
		RoomID: roomID,
		UserID: identity.ID,
		Role:   identity.Role,
		done:   make(chan struct{}),
	}
}

// Start binds the session to conn and starts its writer with a queue of
// buffer frames. onWriteError runs on the writer goroutine when a write fails;
// it must not call Close.
func (s *Session) Start(conn Conn, buffer int, onWriteError func(error)) {
	if buffer <= 0 {
		buffer = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.outgoing = make(chan []byte, buffer)
	s.writerDone = make(chan struct{})
	s.cancel = cancel

	go s.writeLoop(ctx, conn, s.outgoing, s.writerDone, onWriteError)
}

// Send queues data for delivery to the client.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.failed || s.outgoing == nil {
		return ErrSessionClosed
	}
	select {
	case s.outgoing <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close stops the writer and closes the connection. It is idempotent.
func (s *Session) Close() error {
	if release := s.markClosed(); release != nil {
		return release()
	}
	return nil
}

// Evict marks the session closed and releases the connection on another
// goroutine, so the caller never waits on the peer.
func (s *Session) Evict() {
	if release := s.markClosed(); release != nil {
		go func() { _ = release() }()
	}
}

// markClosed flips the session to closed and returns the function that stops
// the writer and closes the connection, or nil when already closed.
func (s *Session) markClosed() func() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	conn, writerDone, cancel := s.conn, s.writerDone, s.cancel

	return func() error {
		if cancel != nil {
			cancel()
		}
		if writerDone != nil {
			<-writerDone
		}
		if conn != nil {
			return conn.Close()
		}
		return nil
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writeLoop(ctx context.Context, conn Conn, outgoing <-chan []byte, writerDone chan<- struct{}, onWriteError func(error)) {
	defer close(writerDone)
	for {
		select {
		case <-s.done:
			return
		case data := <-outgoing:
			select {
			case <-s.done:
				return
			default:
			}
			if err := conn.Write(ctx, data); err != nil {
				s.mu.Lock()
				s.failed = true
				s.mu.Unlock()
				if onWriteError != nil {
					onWriteError(err)
				}
				return
			}
		}
	}
}
