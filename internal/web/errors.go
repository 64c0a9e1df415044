package web

// errors.go turns service errors into responses. The technical error is
// logged with the request ID; the client gets the mapped operator message
// and code, as an HTMX fragment for the UI and JSON otherwise.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/web/templates"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
)

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, core.ErrUnknownType),
		errors.Is(err, core.ErrNoCheckpoint):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunActive),
		errors.Is(err, core.ErrInvalidPhase):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnreadableFile),
		errors.Is(err, core.ErrNoRows),
		errors.Is(err, core.ErrCorruptCheckpoint):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoFile):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status chosen by statusFor.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, statusFor(err))
}

func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	userMsg := core.MapError(err)

	logger := core.LoggerFromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		templates.ErrorAlert(userMsg.Message, userMsg.Action, userMsg.Code).Render(r.Context(), w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsHTML reports whether a status request should get the HTML fragment.
func wantsHTML(r *http.Request) bool {
	return isHTMX(r) || strings.Contains(r.Header.Get("Accept"), "text/html")
}
