package chat_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/omochice/roomchat/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
// Frames pushed with deliver are returned by Read; Close or hangup ends Read.
type mockConn struct {
	readCh     chan readResult
	closedCh   chan struct{}
	closeOnce  sync.Once
	writtenMu  sync.Mutex
	written    [][]byte
	writeErr   error
	writeDelay time.Duration
	closeDelay time.Duration
	writeCh    chan []byte
	remoteAddr string
}

type readResult struct {
	data []byte
	err  error
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan readResult, 16),
		closedCh:   make(chan struct{}),
		writeCh:    make(chan []byte, 64),
		remoteAddr: addr,
	}
}

func (m *mockConn) deliver(data string) {
	m.readCh <- readResult{data: []byte(data)}
}

func (m *mockConn) deliverErr(err error) {
	m.readCh <- readResult{err: err}
}

// hangup simulates the peer closing the connection normally.
func (m *mockConn) hangup() {
	m.readCh <- readResult{err: io.EOF}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closedCh:
		return nil, io.ErrClosedPipe
	case r := <-m.readCh:
		return r.data, r.err
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	if m.writeDelay > 0 {
		select {
		case <-time.After(m.writeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.writtenMu.Lock()
	m.written = append(m.written, copied)
	m.writtenMu.Unlock()
	select {
	case m.writeCh <- copied:
	default:
	}
	return nil
}

// Close blocks for closeDelay first, like a close frame written to a peer
// that stopped reading.
func (m *mockConn) Close() error {
	m.closeOnce.Do(func() {
		time.Sleep(m.closeDelay)
		close(m.closedCh)
	})
	return nil
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) GetWritten() [][]byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

// next waits for the next written frame.
func (m *mockConn) next(timeout time.Duration) (string, bool) {
	select {
	case data := <-m.writeCh:
		return string(data), true
	case <-time.After(timeout):
		return "", false
	}
}

// startedSession returns a session in roomID already bound to a mockConn.
func startedSession(roomID, userID string, buffer int) (*chat.Session, *mockConn) {
	conn := newMockConn("127.0.0.1:" + userID)
	s := chat.NewSession(roomID, chat.Identity{ID: userID, Role: chat.DefaultRole})
	s.Start(conn, buffer, func(error) { _ = conn.Close() })
	return s, conn
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
