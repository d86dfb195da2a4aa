package gate

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrorHandler is the pipeline's centralized failure path. It receives the
// failure verbatim and is responsible for producing the response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err *Error)

// problem is the response body written by DefaultErrorHandler.
type problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// StatusCode maps a failure kind to an HTTP status code.
func StatusCode(kind Kind) int {
	switch kind {
	case KindFetchFailed:
		return http.StatusBadGateway
	case KindInternalValidatorFault:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// DefaultErrorHandler writes the failure as an RFC 7807 problem document.
// Internal faults do not expose their detail to the client.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err *Error) {
	status := StatusCode(err.Kind)

	body := problem{
		Type:   err.DocsURL,
		Title:  http.StatusText(status),
		Status: status,
		Kind:   err.Kind,
		Detail: err.Detail,
	}
	if err.Kind == KindInternalValidatorFault {
		body.Detail = ""
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		if err.Kind == KindMissingCredential {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		// the status is already written, so only logging is possible
		zerolog.Ctx(r.Context()).Warn().Err(encErr).Msg("failed to write error response")
	}
}

// LogErrorHandler returns an ErrorHandler that logs the failure before
// delegating to next (DefaultErrorHandler if nil).
func LogErrorHandler(next ErrorHandler) ErrorHandler {
	if next == nil {
		next = DefaultErrorHandler
	}

	return func(w http.ResponseWriter, r *http.Request, err *Error) {
		zerolog.Ctx(r.Context()).Info().
			Str("kind", string(err.Kind)).
			Str("detail", err.Detail).
			Str("path", r.URL.Path).
			Msg("request failed validation")

		next(w, r, err)
	}
}
