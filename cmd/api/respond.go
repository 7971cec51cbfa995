package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/dashboard"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/schedule"
)

// envelope wraps every response body.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Count     *int      `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func respond(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func respondList(w http.ResponseWriter, data any, n int) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Count: &n, Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, code int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, schedule.ErrUnknownJob):
		return http.StatusNotFound
	case errors.As(err, &ve),
		errors.Is(err, domain.ErrUnknownBank),
		errors.Is(err, domain.ErrEmptyQuery),
		errors.Is(err, domain.ErrInvalidPage),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrInvalidLabel),
		errors.Is(err, domain.ErrOutOfRange),
		errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPassInProgress):
		return http.StatusConflict
	case errors.Is(err, dashboard.ErrGraphDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, log *slog.Logger, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		msg = "internal server error"
	}
	writeJSON(w, code, envelope{Error: msg, Timestamp: time.Now().UTC()})
}
