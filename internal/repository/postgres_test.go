package repository

import (
	"context"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churchapp/notifications/internal/domain"
)

// newPostgresTestRepo applies the schema inside a throwaway PostgreSQL schema
// on TEST_DATABASE_URL, dropped when the test ends
func newPostgresTestRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close(context.Background())
	})

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	// registered after the schema cleanup, so it runs first
	t.Cleanup(pool.Close)

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.EnsureSchema(ctx))
	// applying twice must be harmless
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func TestPostgresUserIDsBeyondInt32(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()
	big := int64(math.MaxInt32) + 10

	require.NoError(t, r.UpsertToken(ctx, "ExponentPushToken[big]", big, "ios"))
	require.NoError(t, r.UpsertToken(ctx, "ExponentPushToken[small]", 3, "ios"))

	tokens, err := r.TokensFor(ctx, big)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, big, tokens[0].OwnerUserID)

	all, err := r.TokensFor(ctx, domain.BroadcastUserID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n := mustCreate(t, r, domain.CreateNotificationParams{TargetUserID: big})
	broadcast := mustCreate(t, r, domain.CreateNotificationParams{})

	created, err := r.MarkRead(ctx, big, n.ID)
	require.NoError(t, err)
	assert.True(t, created)

	count, err := r.UnreadCount(ctx, big)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	marked, err := r.MarkAllRead(ctx, big)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	items, total, err := r.ListNotifications(ctx, domain.ListFilter{ViewerID: &big})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, broadcast.ID, items[0].ID)
	assert.True(t, items[0].IsRead)
}

func TestPostgresDuplicateReferenceMapsToDomainError(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()
	refID := int64(9)

	params := domain.CreateNotificationParams{
		Title:         "New Blog Post: Hello",
		Body:          "Hello",
		Category:      domain.CategoryBlogPost,
		ReferenceType: domain.ReferencePost,
		ReferenceID:   &refID,
	}
	_, err := r.CreateNotification(ctx, params)
	require.NoError(t, err)

	_, err = r.CreateNotification(ctx, params)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	// the unique index only covers notifications that carry a reference
	mustCreate(t, r, domain.CreateNotificationParams{})
	mustCreate(t, r, domain.CreateNotificationParams{})
}

func TestPostgresOptionalColumnsRoundTrip(t *testing.T) {
	r := newPostgresTestRepo(t)
	ctx := context.Background()

	plain := mustCreate(t, r, domain.CreateNotificationParams{TargetUserID: 4})
	got, err := r.GetNotification(ctx, plain.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ImageURL)
	assert.Empty(t, got.ReferenceType)
	assert.Empty(t, got.ReferenceURL)
	assert.Nil(t, got.ReferenceID)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, r.UpsertToken(ctx, "ExponentPushToken[bare]", 4, ""))
	tok, err := r.GetToken(ctx, "ExponentPushToken[bare]")
	require.NoError(t, err)
	assert.Empty(t, tok.DeviceClass)
	assert.False(t, tok.LastUsedAt.IsZero())

	_, err = r.GetNotification(ctx, plain.ID+1000)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
