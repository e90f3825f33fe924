package domain

import (
	"context"
	"time"

	"github.com/churchapp/notifications/pkg/validator"
)

// MaxTokensPerUser is how many most-recently-used devices a user keeps
const MaxTokensPerUser = 5

// DeviceToken is a push token registered by a device
type DeviceToken struct {
	ID          int64     `json:"id"`
	Token       string    `json:"token"`
	OwnerUserID int64     `json:"user_id"`
	DeviceClass string    `json:"device_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used"`
}

// IsExpo reports whether the token was issued by Expo rather than a native push service
func (t DeviceToken) IsExpo() bool {
	return validator.IsExpoPushToken(t.Token)
}

type TokenRepository interface {
	// UpsertToken inserts the token or reassigns it, last write wins
	UpsertToken(ctx context.Context, token string, ownerUserID int64, deviceClass string) error
	// EvictExcessTokens deletes the owner's least recently used tokens beyond keep
	EvictExcessTokens(ctx context.Context, ownerUserID int64, keep int) (int64, error)
	// TokensFor returns the target user's tokens, or every token for BroadcastUserID
	TokensFor(ctx context.Context, target int64) ([]DeviceToken, error)
	GetToken(ctx context.Context, token string) (*DeviceToken, error)
	// DeleteToken reports whether a row was removed
	DeleteToken(ctx context.Context, token string) (bool, error)
	TouchToken(ctx context.Context, token string) error
}
