// Package identity verifies bearer tokens for the chat handshake and the
// HTTP API.
package identity

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/config"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidAlgorithm = errors.New("invalid signing algorithm")
	ErrEmptySecretKey   = errors.New("secret key cannot be empty")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrMissingUserID    = errors.New("user id cannot be empty")
	ErrUnavailable      = errors.New("identity service unavailable")
)

// New builds the provider selected by cfg.Provider.
func New(cfg config.AuthConfig, client *http.Client, logger *zap.Logger) (chat.IdentityProvider, error) {
	switch cfg.Provider {
	case "jwt":
		return NewJWT(cfg.JWT)
	case "http":
		return NewHTTP(cfg.HTTP, client, logger), nil
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Provider)
	}
}
