// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// TypedError is a classified error that knows its payload.
type TypedError interface {
	error
	Context() map[string]any
}

// ErrorBody is the typed error payload returned by every JSON endpoint.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// RespondTyped writes a typed error payload with the given status.
func RespondTyped(w http.ResponseWriter, status int, kind string, err error) {
	body := ErrorBody{Kind: kind, Message: err.Error()}
	var typed TypedError
	if errors.As(err, &typed) {
		body.Context = typed.Context()
	}
	JSON(w, status, body)
}

// RespondValidation maps validator failures to a ValidationFailed payload.
func RespondValidation(w http.ResponseWriter, err error) {
	fields := make(map[string]any)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fieldErr := range verrs {
			fields[fieldErr.Namespace()] = fieldErr.Tag()
		}
	}
	JSON(w, http.StatusBadRequest, ErrorBody{
		Kind:    "ValidationFailed",
		Message: err.Error(),
		Context: map[string]any{"fields": fields},
	})
}

// RespondError maps sentinel errors to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
