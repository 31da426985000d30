// Package ws provides a WebSocket client for chat rooms.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned when sending without a connection.
var ErrNotConnected = errors.New("not connected to server")

// RoomURL builds the chat endpoint URL for roomID on the server at base.
// An http(s) base is mapped to ws(s).
func RoomURL(base, roomID, token string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	return base + "/chat/ws/chat/" + url.PathEscape(roomID) + "?token=" + url.QueryEscape(token)
}

// Client represents a WebSocket chat room client.
type Client struct {
	address  string
	logger   *zap.Logger
	conn     *websocket.Conn
	messages chan string
	mu       sync.RWMutex
	err      error
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a client for the room endpoint at address, see RoomURL.
func New(address string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		address:  address,
		logger:   logger,
		messages: make(chan string, 16),
		done:     make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.address, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveMessages(conn)

	return nil
}

// Disconnect closes the WebSocket connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	c.wg.Wait()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SendMessage sends content as a text frame.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(content)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Ping sends the "ping" text sentinel; the server answers with "pong" on
// Messages.
func (c *Client) Ping(ctx context.Context) error {
	return c.SendMessage(ctx, "ping")
}

// Messages returns the channel of received text frames. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan string {
	return c.messages
}

// Err returns the reason the connection ended, or nil while it is open or
// after a normal closure. A server rejection surfaces as a
// websocket.CloseError with StatusPolicyViolation.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Client) receiveMessages(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					c.mu.Lock()
					c.err = err
					c.mu.Unlock()
					c.logger.Debug("connection ended", zap.Error(err))
				}
			}
			return
		}
		if typ != websocket.MessageText {
			c.logger.Warn("ignoring non-text frame", zap.Stringer("type", typ))
			continue
		}

		select {
		case c.messages <- string(data):
		case <-c.done:
			return
		}
	}
}
