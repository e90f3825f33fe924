package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/internal/middleware"
	"github.com/churchapp/notifications/pkg/response"
)

// NotificationHandler serves the app's notification list and device registration
type NotificationHandler struct {
	notifications *domain.NotificationService
	tokens        *domain.TokenService
	logger        *zap.Logger
}

func NewNotificationHandler(notifications *domain.NotificationService, tokens *domain.TokenService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		tokens:        tokens,
		logger:        logger,
	}
}

type registerTokenRequest struct {
	Token      string `json:"token" validate:"required,max=255,pushtoken"`
	DeviceType string `json:"device_type" validate:"omitempty,max=20"`
}

type unregisterTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// RegisterToken stores the caller's device token
func (h *NotificationHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req registerTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.tokens.Register(r.Context(), domain.RegisterTokenParams{
		UserID:      userID,
		Token:       req.Token,
		DeviceClass: req.DeviceType,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "register token")
		return
	}

	response.OK(w, map[string]string{"message": "Token registered successfully"})
}

// UnregisterToken removes one of the caller's device tokens
func (h *NotificationHandler) UnregisterToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req unregisterTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.tokens.Unregister(r.Context(), userID, req.Token); err != nil {
		writeServiceError(w, h.logger, err, "unregister token")
		return
	}

	response.NoContent(w)
}

// GetNotifications lists the caller's own and broadcast notifications
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	filter := listFilterFromQuery(r)
	filter.ViewerID = &userID

	page, err := h.notifications.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "list notifications")
		return
	}

	response.OK(w, page)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	count, err := h.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "unread count")
		return
	}

	response.OK(w, map[string]int{"count": count})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(r.Context(), userID, id); err != nil {
		writeServiceError(w, h.logger, err, "mark notification read")
		return
	}

	response.OK(w, map[string]string{"status": "success"})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	count, err := h.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "mark all read")
		return
	}

	response.OK(w, map[string]int64{"marked": count})
}

// listFilterFromQuery reads type, read_state, order, page and per_page
func listFilterFromQuery(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{
		ReadState: domain.ReadState(strings.ToLower(q.Get("read_state"))),
		Order:     domain.SortOrder(strings.ToLower(q.Get("order"))),
		Page:      queryInt(r, "page"),
		PerPage:   queryInt(r, "per_page"),
	}
	if filter.PerPage == 0 {
		filter.PerPage = queryInt(r, "limit")
	}
	if t := q.Get("type"); t != "" {
		filter.Category = domain.ParseCategory(t)
	}
	return filter
}
