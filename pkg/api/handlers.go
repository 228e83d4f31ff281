package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/zeek/zeek-benchmarker/pkg/admission"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// jobResponse is returned on successful admission.
type jobResponse struct {
	Job struct {
		ID         string    `json:"id"`
		EnqueuedAt time.Time `json:"enqueued_at"`
	} `json:"job"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTrigger admits a build trigger and enqueues it for the worker
// identified by jobFunc.
func (s *server) handleTrigger(jobFunc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.gateway.Admit(r)
		if err != nil {
			s.writeAdmissionError(w, err)

			return
		}

		handle, err := s.dispatcher.Enqueue(r.Context(), jobFunc, req)
		if err != nil {
			s.log.WithError(err).Error("Failed to enqueue job")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"failed to enqueue job"})

			return
		}

		// A job that entered the queue but isn't recorded must still
		// surface as a failure.
		if err := s.store.StoreJob(r.Context(), handle.ID, jobFunc, req); err != nil {
			s.log.WithError(err).
				WithField("job_id", handle.ID).
				Error("Failed to store job")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"failed to store job"})

			return
		}

		var resp jobResponse
		resp.Job.ID = handle.ID
		resp.Job.EnqueuedAt = handle.EnqueuedAt

		writeJSON(w, http.StatusOK, resp)
	}
}

// writeAdmissionError maps the admission failure taxonomy onto HTTP
// status codes. Authentication failures are forbidden, everything else
// about the request shape is a bad request.
func (s *server) writeAdmissionError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest

	switch {
	case errors.Is(err, admission.ErrAuthMissing),
		errors.Is(err, admission.ErrAuthExpired),
		errors.Is(err, admission.ErrAuthInvalid):
		status = http.StatusForbidden
	}

	writeJSON(w, status, errorResponse{err.Error()})
}
