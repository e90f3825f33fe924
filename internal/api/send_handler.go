package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/pkg/response"
)

// SendHandler accepts notifications and publish events from trusted services
type SendHandler struct {
	notifications *domain.NotificationService
	publish       *domain.PublishService
	logger        *zap.Logger
}

func NewSendHandler(notifications *domain.NotificationService, publish *domain.PublishService, logger *zap.Logger) *SendHandler {
	return &SendHandler{
		notifications: notifications,
		publish:       publish,
		logger:        logger,
	}
}

type sendRequest struct {
	UserID        int64  `json:"user_id" validate:"gte=0"`
	Title         string `json:"title" validate:"required,max=255"`
	Body          string `json:"body" validate:"required"`
	Type          string `json:"type" validate:"omitempty,max=50"`
	ImageURL      string `json:"image_url" validate:"omitempty,url"`
	ReferenceID   *int64 `json:"reference_id" validate:"omitempty,gte=1"`
	ReferenceType string `json:"reference_type" validate:"omitempty,oneof=post event"`
	ReferenceURL  string `json:"reference_url" validate:"omitempty,url"`
}

func (req sendRequest) params() domain.CreateNotificationParams {
	return domain.CreateNotificationParams{
		TargetUserID:  req.UserID,
		Title:         req.Title,
		Body:          req.Body,
		Category:      domain.ParseCategory(req.Type),
		ImageURL:      req.ImageURL,
		ReferenceID:   req.ReferenceID,
		ReferenceType: domain.ReferenceType(req.ReferenceType),
		ReferenceURL:  req.ReferenceURL,
	}
}

// SendResponse is the created notification with its delivery summary
type SendResponse struct {
	Notification *domain.Notification   `json:"notification"`
	Result       *domain.DispatchResult `json:"result,omitempty"`
}

// Send creates a notification and pushes it to devices
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	n, result, err := h.notifications.CreateAndDispatch(r.Context(), req.params())
	if err != nil && n == nil {
		writeServiceError(w, h.logger, err, "send notification")
		return
	}
	if err != nil {
		// stored but not pushed; the caller may redispatch
		h.logger.Error("dispatch failed", zap.Int64("notification_id", n.ID), zap.Error(err))
	}

	response.Created(w, SendResponse{Notification: n, Result: result})
}

type publishedRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=post event"`
	ContentID int64  `json:"content_id" validate:"required,gte=1"`
	Title     string `json:"title" validate:"required"`
	Excerpt   string `json:"excerpt"`
	Content   string `json:"content"`
	ImageURL  string `json:"image_url" validate:"omitempty,url"`
	Permalink string `json:"permalink" validate:"omitempty,url"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status" validate:"required"`
}

// ContentPublished handles a status transition reported by the content system
func (h *SendHandler) ContentPublished(w http.ResponseWriter, r *http.Request) {
	var req publishedRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	outcome, err := h.publish.HandlePublished(r.Context(), domain.ContentPublishedEvent{
		Kind:      domain.ContentKind(req.Kind),
		ContentID: req.ContentID,
		Title:     req.Title,
		Excerpt:   req.Excerpt,
		Content:   req.Content,
		ImageURL:  req.ImageURL,
		Permalink: req.Permalink,
		OldStatus: req.OldStatus,
		NewStatus: req.NewStatus,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "handle publish event")
		return
	}

	if outcome.Skipped {
		response.OK(w, outcome)
		return
	}
	response.Created(w, outcome)
}
