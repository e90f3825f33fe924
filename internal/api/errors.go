package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/churchapp/notifications/internal/domain"
	"github.com/churchapp/notifications/pkg/response"
	"github.com/churchapp/notifications/pkg/validator"
)

const maxBodyBytes = 1 << 20

// writeServiceError maps domain errors onto HTTP responses
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		response.ValidationFailed(w, verr.Error(), validator.ValidationErrors{{Field: verr.Field, Message: verr.Message}})
	case errors.Is(err, domain.ErrDuplicate):
		response.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTokenNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "token belongs to another user")
	default:
		logger.Error(action+" failed", zap.Error(err))
		response.InternalError(w, action+" failed")
	}
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}
	if errs := validator.Struct(dst); errs.HasErrors() {
		response.ValidationFailed(w, errs.Error(), errs)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid notification id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}
