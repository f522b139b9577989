package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"covdiff/internal/errors"
)

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error          string             `json:"error"`
	Code           string             `json:"code"`
	Details        any                `json:"details,omitempty"`
	SuggestedFixes []errors.FixAction `json:"suggestedFixes,omitempty"`
}

// WriteError writes err with a status derived from its code.
func WriteError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: string(errors.InternalError)}

	var coded *errors.Error
	if stderrors.As(err, &coded) {
		resp.Code = string(coded.Code)
		resp.Details = coded.Details
		resp.SuggestedFixes = coded.SuggestedFixes
	}

	WriteJSON(w, resp, StatusFor(errors.ErrorCode(resp.Code)))
}

// StatusFor maps error codes to HTTP status codes
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.BuildNotFound, errors.UnknownBaseline, errors.JobNotFound:
		return http.StatusNotFound
	case errors.InvalidArgument, errors.ConfigInvalid:
		return http.StatusBadRequest
	case errors.DimensionMismatch:
		return http.StatusUnprocessableEntity
	case errors.StorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// InternalError writes a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, errors.New(errors.InternalError, message, nil))
}
