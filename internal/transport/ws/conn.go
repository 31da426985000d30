// Package ws provides the WebSocket transport for the chat engine, built on
// gobwas/ws.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/roomchat/internal/chat"
)

// Conn adapts a server-side WebSocket net.Conn to chat.Conn.
//
// All writes (text frames, keepalive pings, control replies and the close
// frame) hold wmu for the whole frame, so frames never interleave. Once a
// write fails the stream may hold a partial frame, so no close frame is sent.
type Conn struct {
	conn       net.Conn
	reader     *wsutil.Reader
	remoteAddr string
	pongWait   time.Duration
	writeWait  time.Duration
	readLimit  int64

	wmu       sync.Mutex
	broken    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded connection. cfg.PongWait bounds the silence
// allowed between inbound frames, cfg.WriteTimeout bounds each write and
// cfg.ReadLimit bounds inbound messages. Zero disables any of them.
func NewConn(conn net.Conn, remoteAddr string, cfg Config) *Conn {
	c := &Conn{
		conn:       conn,
		remoteAddr: remoteAddr,
		pongWait:   cfg.PongWait,
		writeWait:  cfg.WriteTimeout,
		readLimit:  int64(max(cfg.ReadLimit, 0)),
	}
	if c.remoteAddr == "" && conn.RemoteAddr() != nil {
		c.remoteAddr = conn.RemoteAddr().String()
	}
	c.reader = &wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		OnIntermediate: c.handleControl,
	}
	return c
}

// Read implements chat.Conn.
// Control frames are answered inline; a close frame from the peer ends the
// stream with io.EOF for normal statuses. Non-text and oversize messages are
// discarded without buffering and reported as chat.ErrProtocol.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	for {
		if c.pongWait > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.reader); err != nil {
				return nil, closeErr(err)
			}
			continue
		}

		if hdr.OpCode != ws.OpText {
			if err := c.reader.Discard(); err != nil {
				return nil, closeErr(err)
			}
			return nil, fmt.Errorf("%w: unsupported frame opcode %#x", chat.ErrProtocol, hdr.OpCode)
		}
		if c.readLimit > 0 && hdr.Length > c.readLimit {
			if err := c.reader.Discard(); err != nil {
				return nil, closeErr(err)
			}
			return nil, c.tooLarge(hdr.Length)
		}

		var src io.Reader = c.reader
		if c.readLimit > 0 {
			// continuation frames may still push a message past the limit
			src = io.LimitReader(c.reader, c.readLimit+1)
		}
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, closeErr(err)
		}
		if c.readLimit > 0 && int64(len(data)) > c.readLimit {
			if err := c.reader.Discard(); err != nil {
				return nil, closeErr(err)
			}
			return nil, c.tooLarge(int64(len(data)))
		}
		return data, nil
	}
}

// Write implements chat.Conn.
// Writes one text frame.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()
	return c.writeFrame(ctx, ws.NewTextFrame(data))
}

// Ping sends a keepalive ping frame.
func (c *Conn) Ping() error {
	return c.writeFrame(context.Background(), ws.NewPingFrame(nil))
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.CloseWithStatus(ws.StatusNormalClosure, "")
}

// CloseWithStatus sends a close frame with code and reason, then closes the
// underlying connection. The frame is skipped after a failed write. Only the
// first call has any effect.
func (c *Conn) CloseWithStatus(code ws.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		if !c.broken.Load() {
			_ = c.writeFrame(context.Background(), ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Conn) writeFrame(ctx context.Context, f ws.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.broken.Load() {
		return net.ErrClosed
	}
	if c.writeWait > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}
	// a cancel that fired before the deadline above was overwritten
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ws.WriteFrame(c.conn, f); err != nil {
		c.broken.Store(true)
		return err
	}
	return nil
}

func (c *Conn) tooLarge(n int64) error {
	return fmt.Errorf("%w: message of %d bytes exceeds %d", chat.ErrProtocol, n, c.readLimit)
}

func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	switch hdr.OpCode {
	case ws.OpPing:
		return c.writeFrame(context.Background(), ws.NewPongFrame(payload))
	case ws.OpPong:
		return nil
	case ws.OpClose:
		code, reason := ws.StatusNoStatusRcvd, ""
		if len(payload) >= 2 {
			code, reason = ws.ParseCloseFrameData(payload)
		}
		c.closeOnce.Do(func() {
			body := []byte(nil)
			if code != ws.StatusNoStatusRcvd {
				body = ws.NewCloseFrameBody(code, "")
			}
			if !c.broken.Load() {
				_ = c.writeFrame(context.Background(), ws.NewCloseFrame(body))
			}
			c.closeErr = c.conn.Close()
		})
		return wsutil.ClosedError{Code: code, Reason: reason}
	}
	return nil
}

// closeErr maps a peer close with a normal status to io.EOF.
func closeErr(err error) error {
	var closed wsutil.ClosedError
	if !errors.As(err, &closed) {
		return err
	}
	switch closed.Code {
	case ws.StatusNormalClosure, ws.StatusGoingAway, ws.StatusNoStatusRcvd:
		return io.EOF
	default:
		return fmt.Errorf("peer closed with status %d: %w", closed.Code, err)
	}
}
