package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/omochice/roomchat/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWT(t *testing.T) *JWT {
	t.Helper()
	j, err := NewJWT(config.JWTConfig{Secret: "test-secret-test-secret-test-secret", Issuer: "roomchat", TokenTTL: time.Hour})
	require.NoError(t, err)
	return j
}

func TestNewJWT_InvalidConfig(t *testing.T) {
	_, err := NewJWT(config.JWTConfig{TokenTTL: time.Hour})
	assert.ErrorIs(t, err, ErrEmptySecretKey)

	_, err = NewJWT(config.JWTConfig{Secret: "s"})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestJWT_IssueAndVerify(t *testing.T) {
	j := newTestJWT(t)

	token, err := j.Issue("u1", "user", "u1@example.com")
	require.NoError(t, err)

	id, err := j.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "user", id.Role)
	assert.Equal(t, "u1@example.com", id.Email)
}

func TestJWT_IssueRequiresUser(t *testing.T) {
	_, err := newTestJWT(t).Issue("", "user", "")

	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestJWT_VerifyPrefersIDClaim(t *testing.T) {
	j := newTestJWT(t)
	claims := &Claims{
		UserID: "canonical",
		Role:   "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subject",
			Issuer:    "roomchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.cfg.Secret))
	require.NoError(t, err)

	id, err := j.Verify(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "canonical", id.ID)
}

func TestJWT_VerifyRejects(t *testing.T) {
	j := newTestJWT(t)
	valid, err := j.Issue("u1", "user", "")
	require.NoError(t, err)

	other, err := NewJWT(config.JWTConfig{Secret: "another-secret", Issuer: "roomchat", TokenTTL: time.Hour})
	require.NoError(t, err)
	foreign, err := other.Issue("u1", "user", "")
	require.NoError(t, err)

	wrongIssuer, err := NewJWT(config.JWTConfig{Secret: j.cfg.Secret, Issuer: "someone-else", TokenTTL: time.Hour})
	require.NoError(t, err)
	misissued, err := wrongIssuer.Issue("u1", "user", "")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "user"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"tampered", valid + "x"},
		{"foreign secret", foreign},
		{"wrong issuer", misissued},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWT_VerifyExpired(t *testing.T) {
	j := newTestJWT(t)
	j.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := j.Issue("u1", "user", "")
	require.NoError(t, err)
	j.now = time.Now

	_, err = j.Verify(context.Background(), token)

	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWT_VerifyCanceled(t *testing.T) {
	j := newTestJWT(t)
	token, err := j.Issue("u1", "user", "")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = j.Verify(ctx, token)

	assert.ErrorIs(t, err, context.Canceled)
}
