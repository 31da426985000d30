package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/config"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const userPath = "/auth/v1/user"

// maxUserBody bounds the user document read from the identity service.
const maxUserBody = 1 << 20

// HTTP verifies tokens against a GoTrue-compatible identity service
// (GET {url}/auth/v1/user with the project api key and the bearer token).
type HTTP struct {
	url    string
	apiKey string
	client *http.Client
	logger *zap.Logger
}

var _ chat.IdentityProvider = (*HTTP)(nil)

// NewHTTP creates an HTTP provider. A nil client uses a client with a 10s
// timeout.
func NewHTTP(cfg config.HTTPAuth, client *http.Client, logger *zap.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		url:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: client,
		logger: logger.Named("identity"),
	}
}

// Verify implements chat.IdentityProvider.
func (h *HTTP) Verify(ctx context.Context, token string) (chat.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url+userPath, nil)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("apikey", h.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(req)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserBody))
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		h.logger.Debug("token rejected by identity service", zap.Int("status", resp.StatusCode))
		return chat.Identity{}, ErrInvalidToken
	}
	if !gjson.ValidBytes(body) {
		return chat.Identity{}, fmt.Errorf("%w: malformed user document", ErrUnavailable)
	}
	return parseUser(body), nil
}

// parseUser reads the identity out of a user document. The id is "id",
// falling back to "sub" and "user_id"; the role is the first of
// user_metadata.role, app_metadata.role and role.
func parseUser(body []byte) chat.Identity {
	doc := gjson.ParseBytes(body)
	return chat.Identity{
		ID:    first(doc, "id", "sub", "user_id"),
		Role:  first(doc, "user_metadata.role", "app_metadata.role", "role"),
		Email: doc.Get("email").String(),
	}
}

func first(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
