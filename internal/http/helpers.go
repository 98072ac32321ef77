package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/middleware/trace"
	"dealbook/internal/session"
	"dealbook/internal/store"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor classifies err for the client.
func statusFor(err error) int {
	var reqErr *requestError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &verrs), isValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrInvalidRecoveryToken):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, session.ErrAuthenticating):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func isValidation(err error) bool {
	for _, target := range []error{
		core.ErrInvalidAmount,
		core.ErrInvalidCommission,
		core.ErrInvalidDealType,
		core.ErrInvalidMonth,
		core.ErrInvalidNumber,
		core.ErrZeroDate,
		session.ErrWeakPassword,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeError maps err to a status and logs server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ctx := r.Context()
	logger := applog.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Request failed", applog.FieldPath, r.URL.Path, applog.FieldStatusCode, status, applog.FieldError, err)
	} else {
		logger.DebugContext(ctx, "Request rejected", applog.FieldPath, r.URL.Path, applog.FieldStatusCode, status, applog.FieldError, err)
	}

	resp := errorResponse{Error: err.Error(), Fields: validationMessages(err), RequestID: trace.RequestID(ctx)}
	if status == http.StatusBadGateway {
		resp.Error = "upstream failure"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}
