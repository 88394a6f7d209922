package web

// errors.go turns errors into JSON responses.
//
// The technical error is logged with the request id. The client gets the
// mapped user message and code from core.MapError, so a support request
// can quote the code and be matched against the log line.

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/logging"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// errNoFile is matched by the "no file provided" pattern (FILE004).
var errNoFile = errors.New("no file provided")

// statusFor picks the HTTP status for an error returned by the service.
func statusFor(err error) int {
	var (
		ce *core.ConflictError
		ve validator.ValidationErrors
	)
	switch {
	case errors.Is(err, core.ErrUnknownKind):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrInvalidWorkbook),
		errors.Is(err, core.ErrSheetNotFound),
		errors.Is(err, errNoFile),
		errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyIngestions),
		errors.Is(err, core.ErrNoStore):
		return http.StatusServiceUnavailable
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped message with its status.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		resp.Message = "Invalid request parameters"
		resp.Code = "REQ001"
		for _, fe := range ve {
			resp.Details = append(resp.Details, fe.Field()+" failed "+fe.Tag())
		}
	}

	if status == http.StatusServiceUnavailable && errors.Is(err, core.ErrTooManyIngestions) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, status, resp)
}

const retryAfterSeconds = 5
