package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/config"
)

// Claims represents the JWT claims. The user id is carried in "id" when
// present and in "sub" otherwise.
type Claims struct {
	UserID string `json:"id,omitempty"`
	Role   string `json:"role"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 tokens signed with a shared secret.
type JWT struct {
	cfg config.JWTConfig
	now func() time.Time
}

var _ chat.IdentityProvider = (*JWT)(nil)

// NewJWT creates a JWT provider
func NewJWT(cfg config.JWTConfig) (*JWT, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecretKey
	}
	if cfg.TokenTTL <= 0 {
		return nil, ErrInvalidDuration
	}
	return &JWT{cfg: cfg, now: time.Now}, nil
}

// Issue signs a token for userID.
func (j *JWT) Issue(userID, role, email string) (string, error) {
	if userID == "" {
		return "", ErrMissingUserID
	}
	now := j.now()
	claims := &Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    j.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.cfg.Secret))
}

// Verify implements chat.IdentityProvider.
func (j *JWT) Verify(ctx context.Context, token string) (chat.Identity, error) {
	if err := ctx.Err(); err != nil {
		return chat.Identity{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.cfg.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAlgorithm
		}
		return []byte(j.cfg.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.Identity{}, ErrExpiredToken
		}
		return chat.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return chat.Identity{}, ErrInvalidToken
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	return chat.Identity{ID: id, Role: claims.Role, Email: claims.Email}, nil
}
