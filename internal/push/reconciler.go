package push

import (
	"context"

	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/pkg/telemetry"
)

const (
	phaseTicket  = "ticket"
	phaseReceipt = "receipt"
)

// Reconciler applies provider feedback to the token store. A token is deleted only
// when the provider reports a permanent error for it, at the ticket or receipt phase.
type Reconciler struct {
	tokens  domain.TokenRepository
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

func NewReconciler(tokens domain.TokenRepository, metrics *telemetry.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		tokens:  tokens,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "reconciler")),
	}
}

// HandleTicket records a ticket on the outcome and updates the token store
func (r *Reconciler) HandleTicket(ctx context.Context, outcome *domain.TokenOutcome, ticket Ticket) {
	if ticket.OK() {
		outcome.Status = domain.OutcomeSent
		outcome.TicketID = ticket.ID
		if err := r.tokens.TouchToken(ctx, outcome.Token); err != nil {
			r.logger.Warn("failed to touch token", zap.String("token", outcome.Token), zap.Error(err))
		}
		return
	}

	outcome.Status = domain.OutcomeFailed
	outcome.ErrorCode = ticket.ErrorCode()
	outcome.Message = ticket.Message

	if IsPermanent(outcome.ErrorCode) {
		outcome.Pruned = r.prune(ctx, outcome.Token, outcome.ErrorCode, phaseTicket)
		return
	}

	r.logger.Warn("push ticket error",
		zap.String("gateway", outcome.Gateway),
		zap.String("token", outcome.Token),
		zap.String("error", outcome.ErrorCode),
		zap.String("message", ticket.Message),
	)
}

// HandleReceipt records a receipt on the outcome and reports whether the token was deleted
func (r *Reconciler) HandleReceipt(ctx context.Context, outcome *domain.TokenOutcome, receipt Receipt) bool {
	outcome.ReceiptStatus = receipt.Status
	if receipt.OK() {
		return false
	}

	outcome.ReceiptError = receipt.ErrorCode()
	if IsPermanent(outcome.ReceiptError) && !outcome.Pruned {
		outcome.Pruned = r.prune(ctx, outcome.Token, outcome.ReceiptError, phaseReceipt)
		return outcome.Pruned
	}

	r.logger.Warn("push receipt error",
		zap.String("gateway", outcome.Gateway),
		zap.String("ticket_id", outcome.TicketID),
		zap.String("error", outcome.ReceiptError),
		zap.String("message", receipt.Message),
	)
	return false
}

// HandleRequestErrors logs request level errors. They carry no token to act on.
func (r *Reconciler) HandleRequestErrors(gateway string, errs []RequestError) {
	for _, e := range errs {
		r.logger.Warn("push request error",
			zap.String("gateway", gateway),
			zap.String("code", e.Code),
			zap.String("message", e.Message),
		)
	}
}

func (r *Reconciler) prune(ctx context.Context, token, code, phase string) bool {
	removed, err := r.tokens.DeleteToken(ctx, token)
	if err != nil {
		r.logger.Error("failed to delete invalid token",
			zap.String("token", token),
			zap.String("phase", phase),
			zap.Error(err),
		)
		return false
	}
	if removed {
		r.metrics.RecordPruned(ctx, phase)
		r.logger.Info("removed invalid push token",
			zap.String("token", token),
			zap.String("error", code),
			zap.String("phase", phase),
		)
	}
	return removed
}
