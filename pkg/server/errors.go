package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"tooltool/pkg/api"
	"tooltool/pkg/apperr"
)

var errNoRoute = apperr.NotFound("no such route")

// statusOf 是 apperr.Kind 到 HTTP 状态码唯一的翻译点
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// renderError 写出 {"error": {name, description, status}}
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(apperr.KindOf(err))

	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.Any("error", err),
		)
	}

	if retry := apperr.RetryAfter(err); retry > 0 {
		secs := strconv.Itoa(int(math.Ceil(retry.Seconds())))
		w.Header().Set("X-Retry-After", secs)
		w.Header().Set("Retry-After", secs)
	}

	writeJSON(w, status, api.Error{Error: api.ErrorDetail{
		Name:        http.StatusText(status),
		Description: apperr.Message(err),
		Status:      status,
	}})
}
