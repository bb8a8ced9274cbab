package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"course-payment-sync/internal/infra/logging"
)

func (s *Server) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		writeJSON(w, http.StatusNotImplemented, envelope{Success: false, Message: "reconciliation not configured"})
		return
	}
	logging.With(r.Context(), s.log).Info().Str("by", subjectFrom(r.Context())).Msg("manual sync requested")
	sum, err := s.deps.Reconciler.ReconcileAll(r.Context())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: sum.Failed == 0, Message: "sync finished", Data: sum})
}

func (s *Server) handleReconcileUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		writeJSON(w, http.StatusNotImplemented, envelope{Success: false, Message: "reconciliation not configured"})
		return
	}
	userID := chi.URLParam(r, "userID")
	res := s.deps.Reconciler.ReconcileUser(r.Context(), userID)
	if res.Failed() {
		logging.With(r.Context(), s.log).Warn().Str("user_id", userID).Str("error", res.Error).Msg("manual user reconcile failed")
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: res.Error, Data: res})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "user reconciled", Data: res})
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	s.validate(w, r, false)
}

func (s *Server) handleDriftFix(w http.ResponseWriter, r *http.Request) {
	s.validate(w, r, true)
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request, fix bool) {
	if s.deps.Validator == nil {
		writeJSON(w, http.StatusNotImplemented, envelope{Success: false, Message: "validation not configured"})
		return
	}
	rep, err := s.deps.Validator.Validate(r.Context(), fix)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "validation finished", Data: rep})
}

// handleDriftHealth evaluates drift against the alert thresholds. It runs a full
// validation, so it sits behind admin auth and the admin timeout.
func (s *Server) handleDriftHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Validator == nil {
		writeJSON(w, http.StatusNotImplemented, envelope{Success: false, Message: "validation not configured"})
		return
	}
	h, err := s.deps.Validator.Health(r.Context())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, envelope{Success: h.Healthy(), Message: h.Status, Data: h})
}
