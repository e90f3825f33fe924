package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/internal/storage"
	"github.com/churchapp/notifications/pkg/response"
)

// AdminHandler backs the dashboard: listing, manual sends and image uploads
type AdminHandler struct {
	notifications *domain.NotificationService
	storage       storage.FileStorage
	logger        *zap.Logger
}

func NewAdminHandler(notifications *domain.NotificationService, fileStorage storage.FileStorage, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		notifications: notifications,
		storage:       fileStorage,
		logger:        logger,
	}
}

// List returns every notification, optionally filtered by type
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	filter.ReadState = domain.ReadStateAll

	page, err := h.notifications.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "list notifications")
		return
	}

	response.OK(w, page)
}

// Create stores a notification and sends it immediately
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	n, result, err := h.notifications.CreateAndDispatch(r.Context(), req.params())
	if err != nil && n == nil {
		writeServiceError(w, h.logger, err, "create notification")
		return
	}
	if err != nil {
		h.logger.Error("dispatch failed", zap.Int64("notification_id", n.ID), zap.Error(err))
	}

	h.logger.Info("admin notification sent", zap.Int64("notification_id", n.ID))
	response.Created(w, SendResponse{Notification: n, Result: result})
}

// Dispatch pushes an existing notification again
func (h *AdminHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.notifications.Redispatch(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "dispatch notification")
		return
	}

	response.OK(w, result)
}

func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.notifications.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete notification")
		return
	}

	response.NoContent(w)
}

// UploadMedia stores a notification image and returns its public URL
func (h *AdminHandler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxImageSize+(1<<20))
	if err := r.ParseMultipartForm(storage.MaxImageSize); err != nil {
		response.BadRequest(w, "invalid form data or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "missing file")
		return
	}
	defer file.Close()

	if header.Size > storage.MaxImageSize {
		response.BadRequest(w, "file too large")
		return
	}

	url, err := h.storage.SaveFile(r.Context(), file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			response.BadRequest(w, err.Error())
			return
		}
		h.logger.Error("upload media failed", zap.Error(err))
		response.InternalError(w, "failed to upload image")
		return
	}

	response.Created(w, map[string]string{"url": url})
}

type deleteMediaRequest struct {
	URL string `json:"url" validate:"required"`
}

func (h *AdminHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	var req deleteMediaRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.storage.DeleteFile(r.Context(), req.URL); err != nil {
		h.logger.Error("delete media failed", zap.Error(err))
		response.InternalError(w, "failed to delete image")
		return
	}

	response.NoContent(w)
}
