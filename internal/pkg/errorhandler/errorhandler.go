package errorhandler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mwork/booking-ledger/internal/middleware"
	"github.com/mwork/booking-ledger/internal/pkg/apperr"
	"github.com/mwork/booking-ledger/internal/pkg/response"
)

// HandleError maps err onto the response envelope. *apperr.Error values keep
// their kind and message; anything else is logged and hidden behind a 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err, "An unexpected error occurred")
	}
	status := e.Status()

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Str("request_id", getRequestID(ctx)).
		Str("error_code", string(e.Kind)).
		Int("status_code", status).
		Err(err).
		Msg("Request error")

	message := e.Message
	if e.Kind == apperr.KindInternal {
		message = "An unexpected error occurred"
	}
	response.Error(w, status, string(e.Kind), message)
}

// HandleValidation writes a 400 with per-field messages.
func HandleValidation(ctx context.Context, w http.ResponseWriter, fieldErrors map[string]string) {
	log.Warn().
		Str("request_id", getRequestID(ctx)).
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")
	response.ValidationError(w, fieldErrors)
}

// LogExternalServiceError logs errors from external service calls
func LogExternalServiceError(ctx context.Context, service string, endpoint string, statusCode int, err error, body string) {
	log.Error().
		Str("request_id", getRequestID(ctx)).
		Str("external_service", service).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Err(err).
		Str("response_body", truncateString(body, 1000)).
		Msg("External service error")
}

func getRequestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return "unknown"
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "...<truncated>"
	}
	return s
}
