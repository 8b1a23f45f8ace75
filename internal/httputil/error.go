package httputil

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/padelyzer/tournament-engine/internal/bracket"
)

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StatusFor maps an engine error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, bracket.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, bracket.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bracket.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, bracket.ErrIntegrity), errors.Is(err, bracket.ErrInfeasible):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a JSON error body. Internal errors are logged and
// their detail is not sent to the caller.
func Error(w http.ResponseWriter, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		InternalServerError(w, msg, err)
		return
	}
	slog.Warn(msg, "status", status, "error", err)
	WriteJSON(w, status, errorBody{Error: err.Error(), Retryable: bracket.IsRetryable(err)})
}

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	WriteJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("bad request", "message", msg, "error", err)
	} else {
		slog.Warn("bad request", "message", msg)
	}
	WriteJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func NotFound(w http.ResponseWriter, msg string) {
	slog.Warn("not found", "message", msg)
	WriteJSON(w, http.StatusNotFound, errorBody{Error: msg})
}
