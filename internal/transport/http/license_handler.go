// Package http exposes the activation gate over the host application's local
// HTTP surface. The application gates feature access purely on the status
// these endpoints report.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "clausecli/internal/errors"
	"clausecli/internal/license"
)

var validate = validator.New()

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	gate   *license.Gate
	logger *slog.Logger
}

// NewLicenseHandler creates a license handler over the gate.
func NewLicenseHandler(gate *license.Gate, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		gate:   gate,
		logger: logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the activation submission payload.
type ActivationRequest struct {
	Code string `json:"code" validate:"required,min=10,max=64"`
}

// Bind implements the render.Binder interface.
func (req *ActivationRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// StatusResponse reports the gate status for this installation.
type StatusResponse struct {
	Status    string    `json:"status"`
	Licensed  bool      `json:"licensed"`
	Warning   string    `json:"warning,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id"`
}

// ActivationResponse reports a successful activation.
type ActivationResponse struct {
	Status      string     `json:"status"`
	Class       string     `json:"class"`
	ActivatedAt time.Time  `json:"activated_at"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	TraceID     string     `json:"trace_id"`
}

// Routes returns the chi router for the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(10 * time.Second))
	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Delete("/", h.Deactivate)
	return r
}

// GetStatus answers the startup question: licensed or not, no prompting, no
// ledger mutation.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r)
	status := h.gate.CheckLicense(r.Context())

	h.logger.Debug("license status checked",
		slog.String("status", status.String()),
		slog.String("trace_id", traceID),
	)

	render.JSON(w, r, &StatusResponse{
		Status:    status.String(),
		Licensed:  status == license.StatusLicensed,
		Warning:   h.gate.Warning(),
		Timestamp: time.Now(),
		TraceID:   traceID,
	})
}

// Activate processes a user-submitted activation code.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r)

	var req ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		h.logger.Info("activation request rejected at binding",
			slog.String("error", err.Error()),
			slog.String("trace_id", traceID),
		)
		render.Render(w, r, apperrors.MapActivationError(apperrors.ErrMalformedCode, traceID))
		return
	}

	outcome, err := h.gate.Activate(r.Context(), req.Code)
	if err != nil {
		h.logger.Info("activation rejected",
			slog.String("reason", license.ReasonForError(err)),
			slog.String("trace_id", traceID),
		)
		render.Render(w, r, apperrors.MapActivationError(err, traceID))
		return
	}

	resp := &ActivationResponse{
		Status:  outcome.Status.String(),
		Warning: outcome.Warning,
		TraceID: traceID,
	}
	if outcome.Record != nil {
		resp.Class = outcome.Record.Class
		resp.ActivatedAt = outcome.Record.ActivatedAt
		resp.Expiry = outcome.Record.Expiry
	}

	h.logger.Info("activation accepted",
		slog.String("class", resp.Class),
		slog.String("trace_id", traceID),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// Deactivate clears the activation record for this installation.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	traceID := traceIDFrom(r)

	if err := h.gate.Deactivate(r.Context()); err != nil {
		h.logger.Error("deactivation failed",
			slog.String("error", err.Error()),
			slog.String("trace_id", traceID),
		)
		render.Render(w, r, apperrors.MapActivationError(err, traceID))
		return
	}

	render.JSON(w, r, map[string]any{
		"status":   license.StatusUnlicensed.String(),
		"trace_id": traceID,
	})
}

func traceIDFrom(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
