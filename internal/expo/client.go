package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/push"
)

const (
	DefaultSendURL    = "https://exp.host/--/api/v2/push/send"
	DefaultReceiptURL = "https://exp.host/--/api/v2/push/getReceipts"
	DefaultTimeout    = 30 * time.Second

	gatewayName     = "expo"
	maxErrorBodyLen = 512
)

// Config configures the Expo push client
type Config struct {
	SendURL     string
	ReceiptURL  string
	AccessToken string
	Timeout     time.Duration
}

// Client talks to Expo's push send and receipt endpoints
type Client struct {
	httpClient  *http.Client
	sendURL     string
	receiptURL  string
	accessToken string
	logger      *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.SendURL == "" {
		cfg.SendURL = DefaultSendURL
	}
	if cfg.ReceiptURL == "" {
		cfg.ReceiptURL = DefaultReceiptURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AccessToken == "" {
		logger.Info("No Expo access token configured, sending unauthenticated push requests")
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		sendURL:     cfg.SendURL,
		receiptURL:  cfg.ReceiptURL,
		accessToken: cfg.AccessToken,
		logger:      logger.With(zap.String("component", "expo")),
	}
}

func (c *Client) Name() string {
	return gatewayName
}

// SendBatch posts up to push.MaxBatchSize messages in one request
func (c *Client) SendBatch(ctx context.Context, messages []push.Message) (*push.SendResponse, error) {
	if len(messages) > push.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit of %d", len(messages), push.MaxBatchSize)
	}

	var resp push.SendResponse
	if err := c.post(ctx, c.sendURL, messages, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type receiptRequest struct {
	IDs []string `json:"ids"`
}

type receiptResponse struct {
	Data   map[string]push.Receipt `json:"data"`
	Errors []push.RequestError     `json:"errors,omitempty"`
}

// GetReceipts fetches delivery receipts for previously issued ticket ids
func (c *Client) GetReceipts(ctx context.Context, ticketIDs []string) (map[string]push.Receipt, error) {
	if len(ticketIDs) > push.MaxReceiptBatch {
		return nil, fmt.Errorf("receipt request of %d ids exceeds limit of %d", len(ticketIDs), push.MaxReceiptBatch)
	}

	var resp receiptResponse
	if err := c.post(ctx, c.receiptURL, receiptRequest{IDs: ticketIDs}, &resp); err != nil {
		return nil, err
	}
	for _, e := range resp.Errors {
		c.logger.Warn("receipt request error", zap.String("code", e.Code), zap.String("message", e.Message))
	}
	if resp.Data == nil {
		resp.Data = map[string]push.Receipt{}
	}
	return resp.Data, nil
}

func (c *Client) post(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &push.TransportError{Gateway: gatewayName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &push.TransportError{Gateway: gatewayName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return &push.TransportError{
			Gateway:    gatewayName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response body: %s", bytes.TrimSpace(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &push.TransportError{Gateway: gatewayName, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}
