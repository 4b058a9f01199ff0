package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/infra/logging"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// statusRule maps a sentinel to a status and a stable code. Order matters:
// specific sentinels come before the class they wrap.
type statusRule struct {
	err    error
	status int
	code   string
}

var statusRules = []statusRule{
	{domain.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{domain.ErrUsageLimitReached, http.StatusForbidden, "usage_limit_reached"},
	{domain.ErrFeatureUnavailable, http.StatusForbidden, "feature_unavailable"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrEventInFlight, http.StatusConflict, "event_in_flight"},
	{domain.ErrPlanAlreadyActive, http.StatusConflict, "plan_already_active"},
	{domain.ErrAlreadyExists, http.StatusConflict, "conflict"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrUpstream, http.StatusBadGateway, "upstream_error"},
	{domain.ErrConsistency, http.StatusInternalServerError, "consistency_error"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// StatusFor returns the HTTP status and error code for err.
func StatusFor(err error) (int, string) {
	for _, r := range statusRules {
		if errors.Is(err, r.err) {
			return r.status, r.code
		}
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	}
	return http.StatusInternalServerError, "internal"
}

// WriteError renders err as {"error":{"code","message"}}. Server-side
// failures are logged, and their message is masked outside dev.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, dev bool, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		l := logging.With(r.Context(), logger)
		ev := l.Error().Err(err).Str("code", code)
		if dev {
			ev = ev.Bytes("stack", debug.Stack())
		}
		ev.Msg("request failed")
		if !dev {
			msg = "internal error"
		}
	}
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
