package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// State is a MessageLoop lifecycle state.
type State int32

const (
	StateHandshaking State = iota
	StateRegistered
	StateReading
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateRegistered:
		return "registered"
	case StateReading:
		return "reading"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errLoopNotReady = errors.New("loop has no authenticated session")

// Config tunes the per-connection loop.
type Config struct {
	// SendBuffer is the number of frames queued per session before the
	// session is treated as a slow consumer.
	SendBuffer int
	// MaxMessageBytes bounds inbound chat frames; 0 or less means unlimited.
	MaxMessageBytes int
}

// Options wires an Engine.
type Options struct {
	Registry   *Registry
	Handshaker *Handshaker
	Sink       Sink
	Config     Config
	Logger     *zap.Logger
	Recorder   Recorder
}

// Engine owns the components shared by every connection and creates one
// Loop per connection.
type Engine struct {
	registry    *Registry
	broadcaster *Broadcaster
	handshaker  *Handshaker
	sink        Sink
	cfg         Config
	logger      *zap.Logger
	recorder    Recorder
	now         func() time.Time
}

// NewEngine creates an Engine. Registry and Handshaker are required.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = DiscardSink
	}
	return &Engine{
		registry:    opts.Registry,
		broadcaster: NewBroadcaster(opts.Registry, logger, recorder),
		handshaker:  opts.Handshaker,
		sink:        sink,
		cfg:         opts.Config,
		logger:      logger.Named("loop"),
		recorder:    recorder,
		now:         time.Now,
	}
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Broadcaster returns the engine's broadcaster.
func (e *Engine) Broadcaster() *Broadcaster {
	return e.broadcaster
}

// NewLoop creates a loop in the Handshaking state.
func (e *Engine) NewLoop() *Loop {
	return &Loop{engine: e}
}

// Shutdown closes every registered session. Their loops observe the closed
// connections and unregister through the normal Closing path.
func (e *Engine) Shutdown() {
	for _, s := range e.registry.Sessions() {
		_ = s.Close()
	}
}

// Loop is the read/dispatch cycle of a single connection.
//
//	Handshaking -> Registered -> Reading -> Closing -> Closed
//	Handshaking -> Closed (rejected)
type Loop struct {
	engine  *Engine
	state   atomic.Int32
	session *Session
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Session returns the authenticated session, or nil before a successful
// handshake.
func (l *Loop) Session() *Session {
	return l.session
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Handshake authenticates the connecting client. On failure the loop is
// Closed and the registry was never touched.
func (l *Loop) Handshake(ctx context.Context, token, roomID string) error {
	if l.State() != StateHandshaking || l.session != nil {
		return errLoopNotReady
	}
	session, err := l.engine.handshaker.Authenticate(ctx, token, roomID)
	if err != nil {
		l.setState(StateClosed)
		return err
	}
	l.session = session
	return nil
}

// Run registers the session, serves frames from conn until the connection
// ends, then unregisters. It returns nil on a normal close and an error
// wrapping ErrConnectionLost otherwise.
func (l *Loop) Run(ctx context.Context, conn Conn) error {
	if l.session == nil || l.State() != StateHandshaking {
		return errLoopNotReady
	}
	e := l.engine
	s := l.session
	logger := e.logger.With(
		zap.String("room", s.RoomID),
		zap.String("session", s.ID),
		zap.String("user", s.UserID),
		zap.String("remote", conn.RemoteAddr()))

	s.Start(conn, e.cfg.SendBuffer, func(err error) {
		logger.Warn("write failed", zap.Error(err))
		_ = conn.Close()
	})
	e.registry.Register(s.RoomID, s)
	l.setState(StateRegistered)
	e.recorder.SessionOpened(s.RoomID)
	logger.Debug("session registered")

	defer l.close(logger)

	l.setState(StateReading)
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrProtocol) {
				l.protocolError(logger, err)
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		l.dispatch(ctx, logger, data)
	}
}

func (l *Loop) dispatch(ctx context.Context, logger *zap.Logger, data []byte) {
	e := l.engine
	s := l.session

	if !utf8.Valid(data) {
		l.protocolError(logger, fmt.Errorf("%w: frame is not valid utf-8", ErrProtocol))
		return
	}
	if e.cfg.MaxMessageBytes > 0 && len(data) > e.cfg.MaxMessageBytes {
		l.protocolError(logger, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrProtocol, len(data), e.cfg.MaxMessageBytes))
		return
	}

	if string(data) == PingSentinel {
		if err := s.Send([]byte(PongSentinel)); err != nil {
			logger.Debug("pong not sent", zap.Error(err))
		}
		return
	}

	e.broadcaster.Fanout(s.RoomID, data, s)

	msg := NewTextMessage(s.RoomID, s.UserID, string(data), e.now())
	if err := e.sink.Append(ctx, msg); err != nil {
		logger.Error("failed to persist message", zap.Error(fmt.Errorf("%w: %w", ErrPersistence, err)))
		e.recorder.PersistenceFailed()
	}
}

func (l *Loop) protocolError(logger *zap.Logger, err error) {
	logger.Warn("dropping frame", zap.Error(err))
	l.engine.recorder.ProtocolError()
}

func (l *Loop) close(logger *zap.Logger) {
	l.setState(StateClosing)
	s := l.session
	l.engine.registry.Unregister(s.RoomID, s)
	if err := s.Close(); err != nil {
		logger.Debug("close connection", zap.Error(err))
	}
	l.engine.recorder.SessionClosed(s.RoomID)
	logger.Debug("session closed")
	l.setState(StateClosed)
}
