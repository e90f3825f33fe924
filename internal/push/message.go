// Package push turns stored notifications into provider push requests and
// reconciles device tokens against the provider's ticket and receipt feedback.
package push

import (
	"context"
	"fmt"
)

const (
	// MaxBatchSize is the provider's per-request message limit
	MaxBatchSize = 100
	// MaxReceiptBatch is the provider's per-request ticket id limit for receipts
	MaxReceiptBatch = 1000
)

// Provider error codes
const (
	ErrorDeviceNotRegistered = "DeviceNotRegistered"
	ErrorInvalidCredentials  = "InvalidCredentials"
	ErrorMessageTooBig       = "MessageTooBig"
	ErrorMessageRateExceeded = "MessageRateExceeded"
	ErrorMismatchSenderID    = "MismatchSenderId"
	ErrorMissingTicket       = "MissingTicket"
	ErrorTransport           = "TransportError"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// IsPermanent reports whether code means the token will never accept messages again
func IsPermanent(code string) bool {
	switch code {
	case ErrorDeviceNotRegistered, ErrorInvalidCredentials:
		return true
	default:
		return false
	}
}

// Data is the structured payload delivered to the app with the notification
type Data struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	ReferenceID  string `json:"reference_id,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	ReferenceURL string `json:"reference_url,omitempty"`
}

type RichContent struct {
	Image string `json:"image,omitempty"`
}

// Message is one push envelope in Expo's wire format. Fields tagged "-" are used
// by native gateways only.
type Message struct {
	To                  string       `json:"to"`
	Title               string       `json:"title"`
	Body                string       `json:"body"`
	Data                Data         `json:"data"`
	Sound               string       `json:"sound,omitempty"`
	Badge               int          `json:"badge"`
	Priority            string       `json:"priority,omitempty"`
	ChannelID           string       `json:"channelId,omitempty"`
	DisplayInForeground bool         `json:"_displayInForeground"`
	RichContent         *RichContent `json:"richContent,omitempty"`

	Color   string `json:"-"`
	OwnerID int64  `json:"-"`
}

// ErrorDetails carries the machine readable error code of a ticket or receipt
type ErrorDetails struct {
	Error         string `json:"error,omitempty"`
	ExpoPushToken string `json:"expoPushToken,omitempty"`
}

// Ticket is the provider's immediate acknowledgement of one message
type Ticket struct {
	Status  string        `json:"status"`
	ID      string        `json:"id,omitempty"`
	Message string        `json:"message,omitempty"`
	Details *ErrorDetails `json:"details,omitempty"`
}

func (t Ticket) OK() bool {
	return t.Status == StatusOK
}

// ErrorCode returns the details error code, if any
func (t Ticket) ErrorCode() string {
	if t.Details == nil {
		return ""
	}
	return t.Details.Error
}

// Receipt is the provider's delayed delivery outcome for a ticket
type Receipt struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Details *ErrorDetails `json:"details,omitempty"`
}

func (r Receipt) OK() bool {
	return r.Status == StatusOK
}

func (r Receipt) ErrorCode() string {
	if r.Details == nil {
		return ""
	}
	return r.Details.Error
}

// RequestError is a request level problem reported outside the ticket list
type RequestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendResponse holds tickets aligned positionally with the submitted messages
type SendResponse struct {
	Data   []Ticket       `json:"data"`
	Errors []RequestError `json:"errors,omitempty"`
}

// Gateway delivers a batch of at most MaxBatchSize messages in one call
type Gateway interface {
	Name() string
	SendBatch(ctx context.Context, messages []Message) (*SendResponse, error)
}

// ReceiptChecker is implemented by gateways with an asynchronous receipt endpoint
type ReceiptChecker interface {
	GetReceipts(ctx context.Context, ticketIDs []string) (map[string]Receipt, error)
}

// TransportError is a network, timeout, status or decoding failure talking to a gateway
type TransportError struct {
	Gateway    string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Gateway, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Gateway, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
