package domain_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/internal/repository"
)

func newTokenService() (*domain.TokenService, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository()
	current := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time {
		current = current.Add(time.Second)
		return current
	})
	return domain.NewTokenService(repo, zap.NewNop()), repo
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTokenService()
	ctx := context.Background()

	tests := []struct {
		name   string
		params domain.RegisterTokenParams
	}{
		{"anonymous", domain.RegisterTokenParams{Token: "ExponentPushToken[abc]"}},
		{"empty token", domain.RegisterTokenParams{UserID: 1, Token: "  "}},
		{"malformed token", domain.RegisterTokenParams{UserID: 1, Token: "not-a-token"}},
		{"short native token", domain.RegisterTokenParams{UserID: 1, Token: strings.Repeat("a", 40)}},
		{"native token wider than storage", domain.RegisterTokenParams{UserID: 1, Token: strings.Repeat("a", 256)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Register(ctx, tt.params), domain.ErrValidation)
		})
	}
}

func TestRegisterAcceptsNativeTokens(t *testing.T) {
	svc, repo := newTokenService()
	ctx := context.Background()
	native := "fcm:" + strings.Repeat("Ab1-_", 31)

	require.NoError(t, svc.Register(ctx, domain.RegisterTokenParams{UserID: 1, Token: native, DeviceClass: "android"}))

	tok, err := repo.GetToken(ctx, native)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tok.OwnerUserID)
	assert.False(t, tok.IsExpo())
}

func TestRegisterKeepsFiveMostRecent(t *testing.T) {
	svc, repo := newTokenService()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, svc.Register(ctx, domain.RegisterTokenParams{
			UserID: 1,
			Token:  fmt.Sprintf("ExponentPushToken[device-%d]", i),
		}))
	}

	tokens, err := repo.TokensFor(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tokens, domain.MaxTokensPerUser)

	_, err = repo.GetToken(ctx, "ExponentPushToken[device-0]")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	_, err = repo.GetToken(ctx, "ExponentPushToken[device-6]")
	assert.NoError(t, err)
}

func TestRegisterReassignsOwner(t *testing.T) {
	svc, repo := newTokenService()
	ctx := context.Background()
	token := "ExponentPushToken[shared]"

	require.NoError(t, svc.Register(ctx, domain.RegisterTokenParams{UserID: 1, Token: token}))
	require.NoError(t, svc.Register(ctx, domain.RegisterTokenParams{UserID: 2, Token: token}))

	tok, err := repo.GetToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tok.OwnerUserID)

	first, err := repo.TokensFor(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, first)
}

func TestUnregister(t *testing.T) {
	svc, repo := newTokenService()
	ctx := context.Background()
	token := "ExponentPushToken[phone]"
	require.NoError(t, svc.Register(ctx, domain.RegisterTokenParams{UserID: 1, Token: token}))

	assert.ErrorIs(t, svc.Unregister(ctx, 2, token), domain.ErrForbidden)
	_, err := repo.GetToken(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.Unregister(ctx, 1, token))
	_, err = repo.GetToken(ctx, token)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	// unknown tokens are a no-op
	assert.NoError(t, svc.Unregister(ctx, 1, token))
}
