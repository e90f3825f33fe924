package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/pkg/telemetry"
)

const (
	defaultScheme       = "app"
	defaultReceiptDelay = 3 * time.Second
)

// BadgeCounter supplies the unread count shown on the app icon
type BadgeCounter interface {
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

// Options tunes a Dispatcher
type Options struct {
	// DeepLinkScheme prefixes synthesized deep links, e.g. "app" gives app://events/42
	DeepLinkScheme string
	// ReceiptDelay is the pause before receipts are requested. Negative disables the wait.
	ReceiptDelay time.Duration
}

// Dispatcher sends stored notifications to every device token of their target.
// Chunks are sent sequentially; provider failures are reported in the result.
type Dispatcher struct {
	notifications domain.NotificationRepository
	tokens        domain.TokenRepository
	badges        BadgeCounter
	expo          Gateway
	native        Gateway
	reconciler    *Reconciler
	metrics       *telemetry.Metrics
	logger        *zap.Logger
	scheme        string
	receiptDelay  time.Duration
}

// NewDispatcher creates a dispatcher. native may be nil, in which case native device
// tokens are sent through the Expo gateway.
func NewDispatcher(
	notifications domain.NotificationRepository,
	tokens domain.TokenRepository,
	badges BadgeCounter,
	expo Gateway,
	native Gateway,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
	opts Options,
) *Dispatcher {
	if opts.DeepLinkScheme == "" {
		opts.DeepLinkScheme = defaultScheme
	}
	if opts.ReceiptDelay == 0 {
		opts.ReceiptDelay = defaultReceiptDelay
	}

	logger = logger.With(zap.String("component", "dispatcher"))
	return &Dispatcher{
		notifications: notifications,
		tokens:        tokens,
		badges:        badges,
		expo:          expo,
		native:        native,
		reconciler:    NewReconciler(tokens, metrics, logger),
		metrics:       metrics,
		logger:        logger,
		scheme:        opts.DeepLinkScheme,
		receiptDelay:  opts.ReceiptDelay,
	}
}

type route struct {
	gateway  Gateway
	messages []Message
}

type pendingReceipt struct {
	checker  ReceiptChecker
	gateway  string
	ticketID string
	outcome  int
}

// Dispatch delivers the notification to its recipients' devices. Only a missing
// notification or a token lookup failure is returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, notificationID int64) (*domain.DispatchResult, error) {
	started := time.Now()

	n, err := d.notifications.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	tokens, err := d.tokens.TokensFor(ctx, n.TargetUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tokens: %w", err)
	}

	result := &domain.DispatchResult{
		NotificationID: n.ID,
		Recipients:     len(tokens),
		Outcomes:       []domain.TokenOutcome{},
	}
	log := d.logger.With(zap.Int64("notification_id", n.ID))

	if len(tokens) == 0 {
		log.Info("no device tokens for notification", zap.Int64("target_user_id", n.TargetUserID))
		return result, nil
	}

	log.Info("dispatching notification",
		zap.Int64("target_user_id", n.TargetUserID),
		zap.Int("recipients", len(tokens)),
	)

	var pending []pendingReceipt
	for _, rt := range d.routes(ctx, n, tokens) {
		for start := 0; start < len(rt.messages); start += MaxBatchSize {
			end := start + MaxBatchSize
			if end > len(rt.messages) {
				end = len(rt.messages)
			}
			pending = d.sendChunk(ctx, rt.gateway, rt.messages[start:end], result, pending)
		}
	}

	if len(pending) > 0 {
		d.checkReceipts(ctx, pending, result)
	}

	d.metrics.RecordDispatch(ctx, result.Success(), time.Since(started))
	log.Info("dispatch finished",
		zap.Int("sent", result.SentCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("chunks_sent", result.ChunksSent),
		zap.Int("chunks_failed", result.ChunksFailed),
		zap.Int("tokens_pruned", result.TokensPruned),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// routes builds one message per token and groups them by gateway
func (d *Dispatcher) routes(ctx context.Context, n *domain.Notification, tokens []domain.DeviceToken) []route {
	badges := make(map[int64]int)
	expo := route{gateway: d.expo}
	native := route{gateway: d.native}

	for _, t := range tokens {
		badge, ok := badges[t.OwnerUserID]
		if !ok {
			badge = d.badgeFor(ctx, t.OwnerUserID)
			badges[t.OwnerUserID] = badge
		}

		msg := d.buildMessage(n, t, badge)
		if d.native != nil && !t.IsExpo() {
			native.messages = append(native.messages, msg)
		} else {
			expo.messages = append(expo.messages, msg)
		}
	}

	var out []route
	if len(expo.messages) > 0 {
		out = append(out, expo)
	}
	if len(native.messages) > 0 {
		out = append(out, native)
	}
	return out
}

func (d *Dispatcher) badgeFor(ctx context.Context, ownerID int64) int {
	if d.badges == nil {
		return 0
	}
	count, err := d.badges.UnreadCount(ctx, ownerID)
	if err != nil {
		d.logger.Warn("failed to compute badge count", zap.Int64("user_id", ownerID), zap.Error(err))
		return 0
	}
	if count < 0 {
		return 0
	}
	return count
}

func (d *Dispatcher) buildMessage(n *domain.Notification, t domain.DeviceToken, badge int) Message {
	msg := Message{
		To:    t.Token,
		Title: n.Title,
		Body:  n.Body,
		Data: Data{
			ID:           strconv.FormatInt(n.ID, 10),
			Type:         string(n.Category),
			ReferenceID:  n.ReferenceIDString(),
			ImageURL:     n.ImageURL,
			ReferenceURL: n.DeepLink(d.scheme),
		},
		Sound:               "default",
		Badge:               badge,
		Priority:            "high",
		ChannelID:           n.Category.ChannelID(),
		DisplayInForeground: true,
		Color:               n.Category.Color(),
		OwnerID:             t.OwnerUserID,
	}
	if n.ImageURL != "" {
		msg.RichContent = &RichContent{Image: n.ImageURL}
	}
	return msg
}

// sendChunk sends one batch and records an outcome per message. Ticket ids that
// can be checked later are appended to pending.
func (d *Dispatcher) sendChunk(ctx context.Context, gw Gateway, chunk []Message, result *domain.DispatchResult, pending []pendingReceipt) []pendingReceipt {
	base := len(result.Outcomes)
	for _, m := range chunk {
		result.Outcomes = append(result.Outcomes, domain.TokenOutcome{Token: m.To, Gateway: gw.Name()})
	}
	outcomes := result.Outcomes[base:]

	resp, err := gw.SendBatch(ctx, chunk)
	if err == nil && resp == nil {
		resp = &SendResponse{}
	}
	if err == nil && len(resp.Errors) > 0 {
		d.reconciler.HandleRequestErrors(gw.Name(), resp.Errors)
	}
	if err == nil && len(resp.Data) == 0 {
		err = &TransportError{Gateway: gw.Name(), Err: errors.New("response contained no tickets")}
	}

	if err != nil {
		for i := range outcomes {
			outcomes[i].Status = domain.OutcomeFailed
			outcomes[i].ErrorCode = ErrorTransport
			outcomes[i].Message = err.Error()
		}
		result.FailedCount += len(chunk)
		result.ChunksFailed++
		d.metrics.RecordChunk(ctx, gw.Name(), false)
		d.metrics.RecordMessages(ctx, gw.Name(), string(domain.OutcomeFailed), len(chunk))
		d.logger.Warn("push chunk failed",
			zap.String("gateway", gw.Name()),
			zap.Int("size", len(chunk)),
			zap.Error(err),
		)
		return pending
	}

	result.ChunksSent++
	d.metrics.RecordChunk(ctx, gw.Name(), true)

	checker, canCheck := gw.(ReceiptChecker)
	sent, failed := 0, 0
	for i := range outcomes {
		if i >= len(resp.Data) {
			outcomes[i].Status = domain.OutcomeFailed
			outcomes[i].ErrorCode = ErrorMissingTicket
			outcomes[i].Message = "provider returned no ticket for this message"
			failed++
			continue
		}

		d.reconciler.HandleTicket(ctx, &outcomes[i], resp.Data[i])
		if outcomes[i].Pruned {
			result.TokensPruned++
		}
		if outcomes[i].Status != domain.OutcomeSent {
			failed++
			continue
		}
		sent++
		if canCheck && outcomes[i].TicketID != "" {
			pending = append(pending, pendingReceipt{
				checker:  checker,
				gateway:  gw.Name(),
				ticketID: outcomes[i].TicketID,
				outcome:  base + i,
			})
		}
	}
	if len(resp.Data) > len(chunk) {
		d.logger.Warn("provider returned extra tickets",
			zap.String("gateway", gw.Name()),
			zap.Int("messages", len(chunk)),
			zap.Int("tickets", len(resp.Data)),
		)
	}

	result.SentCount += sent
	result.FailedCount += failed
	d.metrics.RecordMessages(ctx, gw.Name(), string(domain.OutcomeSent), sent)
	d.metrics.RecordMessages(ctx, gw.Name(), string(domain.OutcomeFailed), failed)
	return pending
}

// checkReceipts waits for the provider to process the tickets, then fetches their
// receipts. Failures here are logged and never change sent or failed counts.
func (d *Dispatcher) checkReceipts(ctx context.Context, pending []pendingReceipt, result *domain.DispatchResult) {
	if err := sleepContext(ctx, d.receiptDelay); err != nil {
		d.logger.Warn("receipt check skipped", zap.Int("tickets", len(pending)), zap.Error(err))
		return
	}

	var order []string
	groups := make(map[string][]pendingReceipt)
	for _, p := range pending {
		if _, ok := groups[p.gateway]; !ok {
			order = append(order, p.gateway)
		}
		groups[p.gateway] = append(groups[p.gateway], p)
	}

	for _, name := range order {
		group := groups[name]
		for start := 0; start < len(group); start += MaxReceiptBatch {
			end := start + MaxReceiptBatch
			if end > len(group) {
				end = len(group)
			}
			batch := group[start:end]

			ids := make([]string, len(batch))
			for i, p := range batch {
				ids[i] = p.ticketID
			}

			receipts, err := batch[0].checker.GetReceipts(ctx, ids)
			if err != nil {
				d.logger.Warn("receipt request failed",
					zap.String("gateway", name),
					zap.Int("tickets", len(ids)),
					zap.Error(err),
				)
				continue
			}

			for _, p := range batch {
				receipt, ok := receipts[p.ticketID]
				if !ok {
					continue
				}
				result.ReceiptsChecked++
				if d.reconciler.HandleReceipt(ctx, &result.Outcomes[p.outcome], receipt) {
					result.TokensPruned++
				}
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
