package fcm

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/churchapp/notifications/internal/push"
)

const (
	gatewayName = "fcm"

	errorUnknown = "FCMError"
)

// Sender is the subset of messaging.Client used to deliver native pushes
type Sender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// Client delivers messages addressed to native device tokens through Firebase Cloud Messaging
type Client struct {
	sender Sender
	logger *zap.Logger
}

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided. FCM will utilize environment variable GOOGLE_APPLICATION_CREDENTIALS or default credentials.")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return NewClientWithSender(msgClient, logger), nil
}

// NewClientWithSender wraps an existing sender
func NewClientWithSender(sender Sender, logger *zap.Logger) *Client {
	return &Client{
		sender: sender,
		logger: logger.With(zap.String("component", "fcm")),
	}
}

func (c *Client) Name() string {
	return gatewayName
}

// SendBatch sends each message and converts per-message results into tickets
// aligned with the input order
func (c *Client) SendBatch(ctx context.Context, messages []push.Message) (*push.SendResponse, error) {
	if len(messages) > push.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit of %d", len(messages), push.MaxBatchSize)
	}

	native := make([]*messaging.Message, len(messages))
	for i, m := range messages {
		native[i] = toNative(m)
	}

	batch, err := c.sender.SendEach(ctx, native)
	if err != nil {
		return nil, &push.TransportError{Gateway: gatewayName, Err: err}
	}
	if batch == nil {
		return nil, &push.TransportError{Gateway: gatewayName, Err: errors.New("empty batch response")}
	}

	resp := &push.SendResponse{Data: make([]push.Ticket, 0, len(batch.Responses))}
	for _, r := range batch.Responses {
		if r == nil {
			resp.Data = append(resp.Data, push.Ticket{Status: push.StatusError, Details: &push.ErrorDetails{Error: errorUnknown}})
			continue
		}
		if r.Success {
			resp.Data = append(resp.Data, push.Ticket{Status: push.StatusOK, ID: r.MessageID})
			continue
		}

		ticket := push.Ticket{
			Status:  push.StatusError,
			Details: &push.ErrorDetails{Error: errorCode(r.Error)},
		}
		if r.Error != nil {
			ticket.Message = r.Error.Error()
		}
		resp.Data = append(resp.Data, ticket)
	}

	c.logger.Debug("fcm batch sent",
		zap.Int("success", batch.SuccessCount),
		zap.Int("failure", batch.FailureCount),
	)
	return resp, nil
}

// errorCode maps FCM errors onto the provider codes the reconciler understands
func errorCode(err error) string {
	switch {
	case err == nil:
		return errorUnknown
	case messaging.IsUnregistered(err):
		return push.ErrorDeviceNotRegistered
	case messaging.IsSenderIDMismatch(err):
		return push.ErrorMismatchSenderID
	case messaging.IsQuotaExceeded(err):
		return push.ErrorMessageRateExceeded
	default:
		return errorUnknown
	}
}

func toNative(m push.Message) *messaging.Message {
	data := map[string]string{
		"id":   m.Data.ID,
		"type": m.Data.Type,
	}
	if m.Data.ReferenceID != "" {
		data["reference_id"] = m.Data.ReferenceID
	}
	if m.Data.ImageURL != "" {
		data["image_url"] = m.Data.ImageURL
	}
	if m.Data.ReferenceURL != "" {
		data["reference_url"] = m.Data.ReferenceURL
	}

	var image string
	if m.RichContent != nil {
		image = m.RichContent.Image
	}
	badge := m.Badge

	return &messaging.Message{
		Token: m.To,
		Notification: &messaging.Notification{
			Title:    m.Title,
			Body:     m.Body,
			ImageURL: image,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: m.ChannelID,
				Color:     m.Color,
				Sound:     m.Sound,
				ImageURL:  image,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Badge: &badge,
					Sound: m.Sound,
				},
			},
		},
	}
}
