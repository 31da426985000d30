// Package chat provides the room broadcast engine shared by all transports:
// handshake, connection registry, fanout and the per-connection message loop.
package chat

import "context"

// Conn abstracts one bidirectional client connection.
// Transports isolate framing and keepalive details from chat logic.
type Conn interface {
	// Read returns the payload of the next text frame.
	// Returns io.EOF when the peer closed the connection normally and an
	// error wrapping ErrProtocol for frames that are not chat content.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame. It must not be called concurrently with
	// itself; Session owns the only writer.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
