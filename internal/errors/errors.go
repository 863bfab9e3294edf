// Package errors defines the closed error taxonomy shared by the activation
// gate, the transport layer, and the command-line tools.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Codec errors: user input quality, always recoverable by re-entry.
var (
	ErrMalformedCode    = errors.New("malformed activation code")
	ErrChecksumMismatch = errors.New("activation code checksum mismatch")
)

// Verification errors: recoverable with a different or renewed code.
var (
	ErrInvalidSignature = errors.New("invalid code signature")
	ErrCodeExpired      = errors.New("activation code expired")
)

// Ledger and gate errors.
var (
	ErrBoundToOtherDevice     = errors.New("code already bound to another device")
	ErrPersistenceUnavailable = errors.New("local persistence unavailable")
	ErrTooManyAttempts        = errors.New("too many activation attempts")
	ErrNotLicensed            = errors.New("installation not licensed")
	ErrRecordCorrupted        = errors.New("activation record corrupted")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens the extension fields into the top-level object.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapActivationError maps domain errors to HTTP problem details. Every error
// the gate can return resolves to one of these responses; nothing propagates
// to the client as an uncaught failure.
func MapActivationError(err error, traceID string) render.Renderer {
	instance := "/api/license/activate#" + traceID

	switch {
	case errors.Is(err, ErrMalformedCode):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/malformed-code",
			"Malformed Activation Code",
			"The activation code does not match the expected format. Please re-enter it.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "MALFORMED_CODE")

	case errors.Is(err, ErrChecksumMismatch):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/checksum-mismatch",
			"Activation Code Checksum Mismatch",
			"The activation code appears to be mistyped. Please check each character and try again.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "CHECKSUM_MISMATCH")

	case errors.Is(err, ErrInvalidSignature):
		return NewProblemDetails(
			http.StatusUnprocessableEntity,
			"/errors/invalid-signature",
			"Invalid Activation Code",
			"The activation code is not valid for this distribution.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_SIGNATURE")

	case errors.Is(err, ErrCodeExpired):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/code-expired",
			"Activation Code Expired",
			"The activation code has expired. Please obtain a new code.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "CODE_EXPIRED")

	case errors.Is(err, ErrBoundToOtherDevice):
		return NewProblemDetails(
			http.StatusConflict,
			"/errors/code-already-used",
			"Code Already Used",
			"This activation code has already been used on another device.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "CODE_ALREADY_USED")

	case errors.Is(err, ErrTooManyAttempts):
		return NewProblemDetails(
			http.StatusTooManyRequests,
			"/errors/rate-limited",
			"Too Many Requests",
			"Too many activation attempts. Please try again later.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "RATE_LIMITED").
			WithExtension("retry_after", 60)

	case errors.Is(err, ErrPersistenceUnavailable):
		// Degraded, not fatal: the session is licensed but the record could
		// not be persisted, so activation will be required again on restart.
		return NewProblemDetails(
			http.StatusOK,
			"/warnings/persistence-unavailable",
			"Licensed For This Session Only",
			"The license could not be saved. It remains valid for this session but must be re-activated after a restart.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("warning_code", "PERSISTENCE_UNAVAILABLE")

	case errors.Is(err, ErrNotLicensed):
		return NewProblemDetails(
			http.StatusPreconditionRequired,
			"/errors/not-licensed",
			"Not Licensed",
			"No license has been activated on this installation.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "NOT_LICENSED")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
