package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/internal/repository"
)

type fakeGateway struct {
	name    string
	calls   [][]Message
	respond func(call int, messages []Message) (*SendResponse, error)
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) SendBatch(ctx context.Context, messages []Message) (*SendResponse, error) {
	batch := append([]Message(nil), messages...)
	g.calls = append(g.calls, batch)
	if g.respond != nil {
		return g.respond(len(g.calls)-1, batch)
	}
	return okTickets(batch), nil
}

type receiptGateway struct {
	*fakeGateway
	receipts     map[string]Receipt
	receiptCalls [][]string
}

func (g *receiptGateway) GetReceipts(ctx context.Context, ids []string) (map[string]Receipt, error) {
	g.receiptCalls = append(g.receiptCalls, ids)
	return g.receipts, nil
}

type stubBadges struct {
	counts map[int64]int
	err    error
	calls  map[int64]int
}

func (b *stubBadges) UnreadCount(ctx context.Context, userID int64) (int, error) {
	if b.calls == nil {
		b.calls = map[int64]int{}
	}
	b.calls[userID]++
	if b.err != nil {
		return 0, b.err
	}
	return b.counts[userID], nil
}

func okTickets(messages []Message) *SendResponse {
	resp := &SendResponse{}
	for _, m := range messages {
		resp.Data = append(resp.Data, Ticket{Status: StatusOK, ID: "ticket-" + m.To})
	}
	return resp
}

func expoToken(i int) string {
	return fmt.Sprintf("ExponentPushToken[device%03d]", i)
}

func nativeToken(i int) string {
	return fmt.Sprintf("fcm%03d:", i) + strings.Repeat("x", 160)
}

type fixture struct {
	repo *repository.MemoryRepository
	expo *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		repo: repository.NewMemoryRepository(),
		expo: &fakeGateway{name: "expo"},
	}
}

func (f *fixture) dispatcher(expo Gateway, native Gateway, badges BadgeCounter) *Dispatcher {
	return NewDispatcher(f.repo, f.repo, badges, expo, native, nil, zap.NewNop(), Options{ReceiptDelay: -1})
}

func (f *fixture) notification(t *testing.T, p domain.CreateNotificationParams) *domain.Notification {
	t.Helper()
	if p.Title == "" {
		p.Title = "Sunday service"
	}
	if p.Body == "" {
		p.Body = "Starts at 10am"
	}
	if p.Category == "" {
		p.Category = domain.CategoryGeneral
	}
	n, err := f.repo.CreateNotification(context.Background(), p)
	require.NoError(t, err)
	return n
}

func (f *fixture) register(t *testing.T, token string, owner int64) {
	t.Helper()
	require.NoError(t, f.repo.UpsertToken(context.Background(), token, owner, "ios"))
}

func (f *fixture) hasToken(token string) bool {
	_, err := f.repo.GetToken(context.Background(), token)
	return err == nil
}

func TestDispatchNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.expo.calls)
}

func TestDispatchWithoutTokens(t *testing.T) {
	f := newFixture(t)
	n := f.notification(t, domain.CreateNotificationParams{})

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.Zero(t, result.SentCount)
	assert.Zero(t, result.FailedCount)
	assert.Zero(t, result.Recipients)
	assert.Empty(t, f.expo.calls)
}

func TestDispatchChunksAtBatchLimit(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 250; i++ {
		f.register(t, expoToken(i), int64(i))
	}
	n := f.notification(t, domain.CreateNotificationParams{TargetUserID: domain.BroadcastUserID})

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	require.Len(t, f.expo.calls, 3)
	assert.Len(t, f.expo.calls[0], 100)
	assert.Len(t, f.expo.calls[1], 100)
	assert.Len(t, f.expo.calls[2], 50)

	assert.Equal(t, 250, result.Recipients)
	assert.Equal(t, 250, result.SentCount)
	assert.Zero(t, result.FailedCount)
	assert.Equal(t, 3, result.ChunksSent)
	assert.True(t, result.Success())
}

func TestDispatchTargetsSingleUser(t *testing.T) {
	f := newFixture(t)
	f.register(t, expoToken(1), 7)
	f.register(t, expoToken(2), 7)
	f.register(t, expoToken(3), 8)
	n := f.notification(t, domain.CreateNotificationParams{TargetUserID: 7})

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	require.Len(t, f.expo.calls, 1)
	assert.Len(t, f.expo.calls[0], 2)
	assert.Equal(t, 2, result.SentCount)
}

func TestDispatchPrunesUnregisteredDevice(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.register(t, expoToken(i), int64(i))
	}
	n := f.notification(t, domain.CreateNotificationParams{})

	f.expo.respond = func(call int, messages []Message) (*SendResponse, error) {
		resp := okTickets(messages)
		for i, m := range messages {
			if m.To == expoToken(2) {
				resp.Data[i] = Ticket{
					Status:  StatusError,
					Message: "device is not registered",
					Details: &ErrorDetails{Error: ErrorDeviceNotRegistered},
				}
			}
		}
		return resp, nil
	}

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SentCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.TokensPruned)

	assert.True(t, f.hasToken(expoToken(1)))
	assert.False(t, f.hasToken(expoToken(2)))
	assert.True(t, f.hasToken(expoToken(3)))

	var pruned domain.TokenOutcome
	for _, o := range result.Outcomes {
		if o.Token == expoToken(2) {
			pruned = o
		}
	}
	assert.Equal(t, domain.OutcomeFailed, pruned.Status)
	assert.Equal(t, ErrorDeviceNotRegistered, pruned.ErrorCode)
	assert.True(t, pruned.Pruned)
}

func TestDispatchKeepsTokenOnTransientError(t *testing.T) {
	f := newFixture(t)
	f.register(t, expoToken(1), 1)
	n := f.notification(t, domain.CreateNotificationParams{})

	f.expo.respond = func(call int, messages []Message) (*SendResponse, error) {
		return &SendResponse{Data: []Ticket{{
			Status:  StatusError,
			Message: "too many messages",
			Details: &ErrorDetails{Error: ErrorMessageRateExceeded},
		}}}, nil
	}

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedCount)
	assert.Zero(t, result.TokensPruned)
	assert.True(t, f.hasToken(expoToken(1)))
}

func TestDispatchContinuesAfterChunkFailure(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 150; i++ {
		f.register(t, expoToken(i), int64(i))
	}
	n := f.notification(t, domain.CreateNotificationParams{})

	f.expo.respond = func(call int, messages []Message) (*SendResponse, error) {
		if call == 0 {
			return nil, &TransportError{Gateway: "expo", StatusCode: 502, Err: errors.New("bad gateway")}
		}
		return okTickets(messages), nil
	}

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.Len(t, f.expo.calls, 2)
	assert.Equal(t, 1, result.ChunksFailed)
	assert.Equal(t, 1, result.ChunksSent)
	assert.Equal(t, 100, result.FailedCount)
	assert.Equal(t, 50, result.SentCount)
	assert.True(t, result.Success())
	assert.Equal(t, ErrorTransport, result.Outcomes[0].ErrorCode)

	// transport failures never delete tokens
	for i := 1; i <= 150; i++ {
		assert.True(t, f.hasToken(expoToken(i)))
	}
}

func TestDispatchFailsChunkWithoutTickets(t *testing.T) {
	f := newFixture(t)
	f.register(t, expoToken(1), 1)
	n := f.notification(t, domain.CreateNotificationParams{})

	f.expo.respond = func(call int, messages []Message) (*SendResponse, error) {
		return &SendResponse{Errors: []RequestError{{Code: "PUSH_TOO_MANY_EXPERIENCE_IDS", Message: "mixed projects"}}}, nil
	}

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ChunksFailed)
	assert.Equal(t, 1, result.FailedCount)
	assert.False(t, result.Success())
}

func TestDispatchMissingTicketCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.register(t, expoToken(i), int64(i))
	}
	n := f.notification(t, domain.CreateNotificationParams{})

	f.expo.respond = func(call int, messages []Message) (*SendResponse, error) {
		return okTickets(messages[:2]), nil
	}

	result, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SentCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, ErrorMissingTicket, result.Outcomes[2].ErrorCode)
	assert.True(t, f.hasToken(expoToken(3)))
}

func TestDispatchReceiptPhasePrunesTokens(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.register(t, expoToken(i), int64(i))
	}
	n := f.notification(t, domain.CreateNotificationParams{})

	gw := &receiptGateway{
		fakeGateway: f.expo,
		receipts: map[string]Receipt{
			"ticket-" + expoToken(1): {Status: StatusOK},
			"ticket-" + expoToken(2): {Status: StatusError, Details: &ErrorDetails{Error: ErrorDeviceNotRegistered}},
			"ticket-" + expoToken(3): {Status: StatusError, Details: &ErrorDetails{Error: ErrorMessageTooBig}},
		},
	}

	result, err := f.dispatcher(gw, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	require.Len(t, gw.receiptCalls, 1)
	assert.Len(t, gw.receiptCalls[0], 3)

	// receipts do not rewrite ticket counts
	assert.Equal(t, 3, result.SentCount)
	assert.Zero(t, result.FailedCount)
	assert.Equal(t, 3, result.ReceiptsChecked)
	assert.Equal(t, 1, result.TokensPruned)

	assert.True(t, f.hasToken(expoToken(1)))
	assert.False(t, f.hasToken(expoToken(2)))
	assert.True(t, f.hasToken(expoToken(3)))
}

func TestDispatchSkipsReceiptsWhenCancelled(t *testing.T) {
	f := newFixture(t)
	f.register(t, expoToken(1), 1)
	n := f.notification(t, domain.CreateNotificationParams{})

	gw := &receiptGateway{fakeGateway: f.expo}
	ctx, cancel := context.WithCancel(context.Background())
	f.expo.respond = func(call int, messages []Message) (*SendResponse, error) {
		cancel()
		return okTickets(messages), nil
	}

	d := NewDispatcher(f.repo, f.repo, nil, gw, nil, nil, zap.NewNop(), Options{})
	result, err := d.Dispatch(ctx, n.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SentCount)
	assert.Empty(t, gw.receiptCalls)
}

func TestDispatchBuildsDeepLinks(t *testing.T) {
	eventID := int64(42)
	postID := int64(7)

	tests := []struct {
		name    string
		params  domain.CreateNotificationParams
		link    string
		channel string
		refID   string
	}{
		{
			name:    "event reference",
			params:  domain.CreateNotificationParams{Category: domain.CategoryEvent, ReferenceType: domain.ReferenceEvent, ReferenceID: &eventID},
			link:    "app://events/42",
			channel: "events",
			refID:   "42",
		},
		{
			name:    "blog post reference",
			params:  domain.CreateNotificationParams{Category: domain.CategoryBlogPost, ReferenceType: domain.ReferencePost, ReferenceID: &postID},
			link:    "app://blog/7",
			channel: "blog",
			refID:   "7",
		},
		{
			name:    "explicit url",
			params:  domain.CreateNotificationParams{Category: domain.CategoryAnnouncement, ReferenceURL: "https://church.example/give"},
			link:    "https://church.example/give",
			channel: "announcements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.register(t, expoToken(1), 1)
			n := f.notification(t, tt.params)

			_, err := f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
			require.NoError(t, err)

			require.Len(t, f.expo.calls, 1)
			msg := f.expo.calls[0][0]
			assert.Equal(t, tt.link, msg.Data.ReferenceURL)
			assert.Equal(t, tt.channel, msg.ChannelID)
			assert.Equal(t, tt.refID, msg.Data.ReferenceID)
			assert.Equal(t, fmt.Sprint(n.ID), msg.Data.ID)
			assert.Equal(t, "default", msg.Sound)
			assert.Equal(t, "high", msg.Priority)
		})
	}
}

func TestDispatchBadgeCounts(t *testing.T) {
	f := newFixture(t)
	f.register(t, expoToken(1), 7)
	f.register(t, expoToken(2), 7)
	f.register(t, expoToken(3), 8)
	n := f.notification(t, domain.CreateNotificationParams{})

	t.Run("computed once per owner", func(t *testing.T) {
		badges := &stubBadges{counts: map[int64]int{7: 3, 8: -2}}
		f.expo.calls = nil

		_, err := f.dispatcher(f.expo, nil, badges).Dispatch(context.Background(), n.ID)
		require.NoError(t, err)

		assert.Equal(t, 1, badges.calls[7])
		assert.Equal(t, 1, badges.calls[8])

		got := map[string]int{}
		for _, m := range f.expo.calls[0] {
			got[m.To] = m.Badge
		}
		assert.Equal(t, 3, got[expoToken(1)])
		assert.Equal(t, 3, got[expoToken(2)])
		assert.Equal(t, 0, got[expoToken(3)])
	})

	t.Run("errors clamp to zero", func(t *testing.T) {
		badges := &stubBadges{err: errors.New("db down")}
		f.expo.calls = nil

		result, err := f.dispatcher(f.expo, nil, badges).Dispatch(context.Background(), n.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, result.SentCount)
		for _, m := range f.expo.calls[0] {
			assert.Zero(t, m.Badge)
		}
	})
}

func TestDispatchRoutesNativeTokens(t *testing.T) {
	f := newFixture(t)
	f.register(t, expoToken(1), 1)
	f.register(t, nativeToken(2), 2)
	n := f.notification(t, domain.CreateNotificationParams{ImageURL: "https://cdn.example/banner.png"})

	t.Run("native gateway configured", func(t *testing.T) {
		expo := &fakeGateway{name: "expo"}
		native := &fakeGateway{name: "fcm"}

		result, err := f.dispatcher(expo, native, nil).Dispatch(context.Background(), n.ID)
		require.NoError(t, err)

		require.Len(t, expo.calls, 1)
		require.Len(t, native.calls, 1)
		assert.Equal(t, expoToken(1), expo.calls[0][0].To)
		assert.Equal(t, nativeToken(2), native.calls[0][0].To)
		assert.Equal(t, "https://cdn.example/banner.png", native.calls[0][0].RichContent.Image)
		assert.Equal(t, 2, result.SentCount)
		assert.Equal(t, 2, result.ChunksSent)
	})

	t.Run("expo handles everything otherwise", func(t *testing.T) {
		expo := &fakeGateway{name: "expo"}

		_, err := f.dispatcher(expo, nil, nil).Dispatch(context.Background(), n.ID)
		require.NoError(t, err)

		require.Len(t, expo.calls, 1)
		assert.Len(t, expo.calls[0], 2)
	})
}

func TestDispatchTouchesDeliveredTokens(t *testing.T) {
	f := newFixture(t)
	f.register(t, expoToken(1), 1)
	before, err := f.repo.GetToken(context.Background(), expoToken(1))
	require.NoError(t, err)
	n := f.notification(t, domain.CreateNotificationParams{})

	_, err = f.dispatcher(f.expo, nil, nil).Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	after, err := f.repo.GetToken(context.Background(), expoToken(1))
	require.NoError(t, err)
	assert.False(t, after.LastUsedAt.Before(before.LastUsedAt))
}
