package domain

import "context"

// OutcomeStatus is the delivery state of one token within a dispatch
type OutcomeStatus string

const (
	OutcomeSent   OutcomeStatus = "sent"
	OutcomeFailed OutcomeStatus = "failed"
)

// TokenOutcome records what happened to a single device token
type TokenOutcome struct {
	Token         string        `json:"token"`
	Gateway       string        `json:"gateway"`
	Status        OutcomeStatus `json:"status"`
	TicketID      string        `json:"ticket_id,omitempty"`
	ErrorCode     string        `json:"error_code,omitempty"`
	Message       string        `json:"message,omitempty"`
	ReceiptStatus string        `json:"receipt_status,omitempty"`
	ReceiptError  string        `json:"receipt_error,omitempty"`
	Pruned        bool          `json:"pruned"`
}

// DispatchResult summarises one dispatch. Provider failures are reported here and
// never returned as errors.
type DispatchResult struct {
	NotificationID  int64          `json:"notification_id"`
	Recipients      int            `json:"recipients"`
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	ChunksSent      int            `json:"chunks_sent"`
	ChunksFailed    int            `json:"chunks_failed"`
	TokensPruned    int            `json:"tokens_pruned"`
	ReceiptsChecked int            `json:"receipts_checked"`
	Outcomes        []TokenOutcome `json:"outcomes"`
}

// Success reports whether at least one chunk reached the provider
func (r *DispatchResult) Success() bool {
	return r.ChunksSent > 0
}

// PushDispatcher sends a stored notification to its recipients' devices
type PushDispatcher interface {
	Dispatch(ctx context.Context, notificationID int64) (*DispatchResult, error)
}

// BadgeCache holds unread counts between requests. Implementations must tolerate
// misses; a miss is reported as ok == false.
//
// GetUnread also returns the slot the count lives in. A count computed after a
// miss is stored with SetUnread under that slot, so an invalidation that lands
// in between leaves the stale value unreachable. An empty slot means the count
// must not be stored.
type BadgeCache interface {
	GetUnread(ctx context.Context, userID int64) (count int, slot string, ok bool)
	SetUnread(ctx context.Context, userID int64, slot string, count int)
	InvalidateUser(ctx context.Context, userID int64)
	InvalidateAll(ctx context.Context)
}

// LiveFeed receives newly created notifications for connected clients
type LiveFeed interface {
	Publish(n *Notification)
}
