package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestJWTManagerRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute)

	token, err := m.GenerateAccessToken(42, "member@church.example")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "member@church.example", claims.Email)
	assert.Equal(t, "42", claims.Subject)
}

func TestJWTManagerRejects(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute)

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewJWTManager("other-secret", time.Minute).GenerateAccessToken(1, "")
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := NewJWTManager("test-secret", -time.Minute).GenerateAccessToken(1, "")
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("refresh token", func(t *testing.T) {
		claims := &Claims{
			UserID:    1,
			TokenType: RefreshToken,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing user", func(t *testing.T) {
		token, err := m.GenerateAccessToken(0, "")
		require.NoError(t, err)
		_, err = m.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.ValidateAccessToken("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestHashAPIKey(t *testing.T) {
	_, err := HashAPIKey("short")
	assert.ErrorIs(t, err, ErrAPIKeyTooShort)

	key := strings.Repeat("k", MinAPIKeyLength)
	hash, err := HashAPIKey(key)
	require.NoError(t, err)
	assert.NoError(t, NewAPIKeyVerifier(hash).Verify(key))
}

func TestAPIKeyVerifier(t *testing.T) {
	key := "service-key-0123456789abcdefghijklmnop"
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	v := NewAPIKeyVerifier(string(hash))

	assert.True(t, v.Configured())
	assert.NoError(t, v.Verify(key))
	// second call takes the cached path
	assert.NoError(t, v.Verify(key))
	assert.ErrorIs(t, v.Verify("wrong-key"), ErrAPIKeyMismatch)
	assert.ErrorIs(t, v.Verify(""), ErrAPIKeyMismatch)

	disabled := NewAPIKeyVerifier("")
	assert.False(t, disabled.Configured())
	assert.ErrorIs(t, disabled.Verify(key), ErrAPIKeyDisabled)
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	require.NoError(t, err)
	b, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), MinAPIKeyLength)
}
