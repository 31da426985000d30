// Package server exposes the chat engine and the room API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/internal/storage"
	"github.com/omochice/roomchat/internal/transport/ws"
	"go.uber.org/zap"
)

// RoomDirectory maps a pair of users to their shared room.
type RoomDirectory interface {
	GetOrCreate(ctx context.Context, userID, otherID string) (string, error)
}

// Options wires a Server. Engine and Identity are required.
type Options struct {
	Addr        string
	Mode        string // gin mode
	Engine      *chat.Engine
	Transport   ws.Config
	Identity    chat.IdentityProvider
	AuthTimeout time.Duration
	Directory   RoomDirectory
	History     storage.HistoryReader
	Metrics     *metrics.Metrics
	Health      func(ctx context.Context) error
	Logger      *zap.Logger
}

// Server represents the roomchat HTTP server
type Server struct {
	address     string
	router      *gin.Engine
	chatHandler *ws.Handler
	engine      *chat.Engine
	logger      *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	stopped  bool
}

// New creates a new Server instance
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	s := &Server{
		address:     opts.Addr,
		router:      gin.New(),
		chatHandler: ws.NewHandler(opts.Engine, opts.Transport, logger),
		engine:      opts.Engine,
		logger:      logger.Named("http"),
	}
	s.routes(opts)
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return listener.Close()
	}
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("server started", zap.String("addr", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting requests, closes every chat connection and waits for
// their loops to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.chatHandler.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.engine.Shutdown()
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
