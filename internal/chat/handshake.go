//go:generate go run go.uber.org/mock/mockgen -source=handshake.go -destination=../mocks/mock_identity.go -package=mocks
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultRole is the role a verified identity must carry to join a room.
const DefaultRole = "user"

// IdentityProvider verifies a bearer token.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Handshaker authenticates and authorizes a connecting client before it is
// admitted to a room.
type Handshaker struct {
	provider IdentityProvider
	role     string
	timeout  time.Duration
	logger   *zap.Logger
	recorder Recorder
}

// NewHandshaker creates a Handshaker. An empty role means DefaultRole;
// a non-positive timeout disables the verification deadline.
func NewHandshaker(provider IdentityProvider, role string, timeout time.Duration, logger *zap.Logger, recorder Recorder) *Handshaker {
	if role == "" {
		role = DefaultRole
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Handshaker{
		provider: provider,
		role:     role,
		timeout:  timeout,
		logger:   logger.Named("handshake"),
		recorder: recorder,
	}
}

// Authenticate verifies token and returns an unregistered Session for
// roomID. Every failure is an *AuthError.
func (h *Handshaker) Authenticate(ctx context.Context, token, roomID string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, h.reject(Authentication, ErrMissingToken, roomID)
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, h.reject(Authentication, ErrMissingRoom, roomID)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	identity, err := h.provider.Verify(ctx, token)
	if err != nil {
		h.logger.Debug("identity verification failed", zap.String("room", roomID), zap.Error(err))
		return nil, h.reject(Authentication, ErrInvalidToken, roomID)
	}
	if strings.TrimSpace(identity.ID) == "" {
		return nil, h.reject(Authentication, ErrInvalidToken, roomID)
	}
	if identity.Role != h.role {
		h.logger.Debug("role not permitted",
			zap.String("room", roomID),
			zap.String("user", identity.ID),
			zap.String("role", identity.Role))
		return nil, h.reject(Authorization, ErrUnauthorized, roomID)
	}

	return NewSession(roomID, identity), nil
}

func (h *Handshaker) reject(kind AuthKind, err error, roomID string) error {
	h.logger.Info("handshake rejected",
		zap.String("room", roomID),
		zap.Stringer("kind", kind),
		zap.String("reason", err.Error()))
	h.recorder.HandshakeRejected(err.Error())
	return authError(kind, err)
}
