package domain

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/churchapp/notifications/pkg/validator"
)

// RegisterTokenParams is a device registration from an authenticated user
type RegisterTokenParams struct {
	UserID      int64
	Token       string
	DeviceClass string
}

type TokenService struct {
	repo   TokenRepository
	logger *zap.Logger
}

func NewTokenService(repo TokenRepository, logger *zap.Logger) *TokenService {
	return &TokenService{
		repo:   repo,
		logger: logger.With(zap.String("component", "tokens")),
	}
}

// Register upserts the device token and trims the user's devices to the most recently used ones
func (s *TokenService) Register(ctx context.Context, params RegisterTokenParams) error {
	params.Token = strings.TrimSpace(params.Token)
	params.DeviceClass = validator.SanitizeString(params.DeviceClass, 20)
	if params.UserID <= 0 {
		return invalid("user_id", "authentication required")
	}
	if !validator.IsPushToken(params.Token) {
		return invalid("token", "is not a valid push token")
	}

	if err := s.repo.UpsertToken(ctx, params.Token, params.UserID, params.DeviceClass); err != nil {
		s.logger.Error("failed to upsert token", zap.Int64("user_id", params.UserID), zap.Error(err))
		return err
	}

	evicted, err := s.repo.EvictExcessTokens(ctx, params.UserID, MaxTokensPerUser)
	if err != nil {
		// the registration itself succeeded
		s.logger.Error("failed to evict old tokens", zap.Int64("user_id", params.UserID), zap.Error(err))
	} else if evicted > 0 {
		s.logger.Info("evicted least recently used tokens",
			zap.Int64("user_id", params.UserID),
			zap.Int64("evicted", evicted),
		)
	}

	s.logger.Info("push token registered",
		zap.Int64("user_id", params.UserID),
		zap.String("device_type", params.DeviceClass),
	)
	return nil
}

// Unregister removes a device token owned by userID
func (s *TokenService) Unregister(ctx context.Context, userID int64, token string) error {
	existing, err := s.repo.GetToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		return err
	}
	if existing.OwnerUserID != userID {
		return ErrForbidden
	}
	_, err = s.repo.DeleteToken(ctx, existing.Token)
	return err
}
