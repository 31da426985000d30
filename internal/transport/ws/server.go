package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/omochice/roomchat/internal/chat"
	"go.uber.org/zap"
)

// RoomParam is the path wildcard holding the room id.
const RoomParam = "room_id"

// Config tunes the transport keepalive and limits.
type Config struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	// ReadLimit bounds the size of an inbound message; 0 means unlimited.
	ReadLimit int
}

// Handler upgrades chat requests and hands each connection to a chat.Loop.
//
// The bearer token is read from the "token" query parameter and verified
// before the upgrade. A rejected handshake is still upgraded so the client
// receives a policy violation close frame instead of a bare HTTP error.
type Handler struct {
	engine *chat.Engine
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a Handler serving engine.
func NewHandler(engine *chat.Engine, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		engine: engine,
		cfg:    cfg,
		logger: logger.Named("ws"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP serves requests routed with a {room_id} path wildcard.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeRoom(w, r, r.PathValue(RoomParam))
}

// ServeRoom runs a chat connection for roomID until either side closes it.
func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	if !h.acquire() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	loop := h.engine.NewLoop()
	authErr := loop.Handshake(r.Context(), r.URL.Query().Get("token"), roomID)

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn := NewConn(netConn, r.RemoteAddr, h.cfg)

	if authErr != nil {
		_ = conn.CloseWithStatus(ws.StatusPolicyViolation, closeReason(authErr))
		return
	}

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	go h.keepalive(ctx, conn)

	if err := loop.Run(ctx, conn); err != nil {
		h.logger.Debug("connection ended",
			zap.String("room", roomID),
			zap.String("remote", conn.RemoteAddr()),
			zap.Error(err))
	}
}

// Close stops every running connection and waits for their loops to return.
// Requests arriving afterwards are refused.
func (h *Handler) Close() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()
	h.wg.Wait()
}

// acquire registers a connection unless the handler is closed.
func (h *Handler) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *Handler) keepalive(ctx context.Context, conn *Conn) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

func closeReason(err error) string {
	var authErr *chat.AuthError
	if errors.As(err, &authErr) && authErr.Err != nil {
		return authErr.Err.Error()
	}
	return "policy violation"
}
