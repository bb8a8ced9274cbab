package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/infra/logging"
	"course-payment-sync/internal/infra/payment"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "unreadable request body"})
		return
	}
	n, err := payment.DecodeNotification(body)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	res, err := s.deps.Notifications.Handle(r.Context(), n)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: res.Message})
}

func (s *Server) handleWebhookPing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "payment webhook endpoint is up",
		"environment": s.deps.Environment,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, domain.ErrMalformedOrderID),
		errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.With(r.Context(), logger).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if errors.Is(err, domain.ErrProjectionWrite) {
			msg = "payment recorded, access update pending"
		} else {
			msg = "internal error"
		}
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}
