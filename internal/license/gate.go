package license

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	apperrors "clausecli/internal/errors"
	"clausecli/internal/security"
)

// GateStatus is the gate's answer to "is this installation licensed".
type GateStatus int

const (
	StatusUnlicensed GateStatus = iota
	StatusPendingVerification
	StatusLicensed
)

func (s GateStatus) String() string {
	switch s {
	case StatusLicensed:
		return "licensed"
	case StatusPendingVerification:
		return "pending_verification"
	default:
		return "unlicensed"
	}
}

// ActivationOutcome reports a successful activation. Failures are returned
// as errors from Activate and mapped to the closed user-facing reason set.
type ActivationOutcome struct {
	Status  GateStatus        `json:"status"`
	Record  *ActivationRecord `json:"record,omitempty"`
	Warning string            `json:"warning,omitempty"`
}

// checkCacheTTL bounds how long a CheckLicense result is reused before the
// ledger is re-read.
const checkCacheTTL = 30 * time.Second

// Gate orchestrates the codec, verifier, and ledger. It owns the session
// state machine (unlicensed, pending verification, licensed) and is the only
// component the host application talks to.
type Gate struct {
	verifier *Verifier
	ledger   *Ledger
	identity *security.IdentityProvider
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *GateMetrics
	now      func() time.Time

	mu          sync.Mutex
	state       GateStatus
	lastCheck   GateStatus
	lastCheckAt time.Time
	warning     string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the gate's time source, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithAttemptLimit overrides the activation attempt limiter.
func WithAttemptLimit(perMinute, burst int) GateOption {
	return func(g *Gate) {
		g.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}
}

// WithGateMetrics attaches OpenTelemetry metrics to the gate.
func WithGateMetrics(m *GateMetrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates the activation gate for one distribution.
func NewGate(verifier *Verifier, ledger *Ledger, identity *security.IdentityProvider, logger *slog.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		verifier: verifier,
		ledger:   ledger,
		identity: identity,
		limiter:  rate.NewLimiter(rate.Limit(0.1), 4),
		logger:   logger.With(slog.String("component", "gate")),
		now:      time.Now,
		state:    StatusUnlicensed,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckLicense answers the startup question without prompting and without
// mutating the ledger. Results are cached briefly; calling it twice in
// succession returns the same status and performs no writes.
func (g *Gate) CheckLicense(ctx context.Context) GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastCheckAt.IsZero() && g.now().Sub(g.lastCheckAt) < checkCacheTTL {
		g.recordCheck(ctx, "cache_hit", g.lastCheck)
		return g.lastCheck
	}

	status := g.evaluate(ctx)
	g.lastCheck = status
	g.lastCheckAt = g.now()
	g.state = status
	g.recordCheck(ctx, "cache_miss", status)
	return status
}

// evaluate reads the ledger and classifies the installation. Corrupted
// records reset the gate to unlicensed.
func (g *Gate) evaluate(ctx context.Context) GateStatus {
	rec, err := g.ledger.IsBound()
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordCorrupted) {
			g.logger.Warn("activation record corrupted, resetting to unlicensed",
				slog.String("error", err.Error()),
			)
			if clearErr := g.ledger.Clear(); clearErr != nil {
				g.logger.Error("failed to clear corrupted record",
					slog.String("error", clearErr.Error()),
				)
			}
		}
		return StatusUnlicensed
	}
	if rec == nil {
		return StatusUnlicensed
	}

	device, idErr := g.identity.GetOrCreate()
	if idErr != nil {
		g.warning = apperrors.ErrPersistenceUnavailable.Error()
	}
	if device == nil || rec.DeviceID != device.ID {
		g.logger.Warn("activation record bound to a different device identity",
			slog.String("record_device_prefix", logPrefix(rec.DeviceID, 8)),
		)
		return StatusUnlicensed
	}

	if rec.Expiry != nil && g.now().After(*rec.Expiry) {
		g.logger.Info("activation record expired",
			slog.String("expiry", rec.Expiry.Format("2006-01-02")),
		)
		return StatusUnlicensed
	}

	return StatusLicensed
}

// Activate processes a user-submitted code: parse, verify, bind, in that
// order, short-circuiting on the first failure. Re-submitting an already
// accepted code on the same device is a no-op success.
func (g *Gate) Activate(ctx context.Context, raw string) (*ActivationOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.countAttempt(ctx)

	if !g.limiter.Allow() {
		g.countFailure(ctx, "rate_limited")
		return nil, apperrors.ErrTooManyAttempts
	}

	g.state = StatusPendingVerification

	parsed, err := ParseCode(raw)
	if err != nil {
		g.state = StatusUnlicensed
		g.countFailure(ctx, ReasonForError(err))
		g.logger.Info("activation rejected by codec",
			slog.String("reason", ReasonForError(err)),
		)
		return nil, err
	}

	result, err := g.verifier.Verify(parsed, g.now())
	if err != nil {
		g.state = StatusUnlicensed
		g.countFailure(ctx, ReasonForError(err))
		g.logger.Info("activation rejected by verifier",
			slog.String("class", parsed.Class().String()),
			slog.String("reason", ReasonForError(err)),
		)
		return nil, err
	}

	device, idErr := g.identity.GetOrCreate()
	warning := ""
	if idErr != nil {
		if !errors.Is(idErr, apperrors.ErrPersistenceUnavailable) {
			g.state = StatusUnlicensed
			return nil, idErr
		}
		warning = "license will not survive a restart: local persistence is unavailable"
	}

	fingerprint := parsed.Fingerprint()

	// Idempotent re-submission of the code this device is already bound to.
	if existing, err := g.ledger.IsBound(); err == nil && existing != nil &&
		existing.CodeFingerprint == fingerprint && existing.DeviceID == device.ID {
		g.state = StatusLicensed
		g.invalidateCheckCache()
		g.countSuccess(ctx, parsed.Class(), true)
		return &ActivationOutcome{Status: StatusLicensed, Record: existing, Warning: warning}, nil
	}

	rec := ActivationRecord{
		CodeFingerprint: fingerprint,
		DeviceID:        device.ID,
		Class:           result.Class.String(),
		ActivatedAt:     g.now(),
		Expiry:          result.Expiry,
	}

	if err := g.ledger.Bind(rec); err != nil {
		g.state = StatusUnlicensed
		g.countFailure(ctx, ReasonForError(err))
		if errors.Is(err, apperrors.ErrBoundToOtherDevice) && g.metrics != nil {
			g.metrics.ReplayRejections.Add(ctx, 1)
		}
		return nil, err
	}

	g.state = StatusLicensed
	g.invalidateCheckCache()
	g.countSuccess(ctx, parsed.Class(), false)

	g.logger.Info("activation accepted",
		slog.String("class", result.Class.String()),
		slog.String("device_prefix", logPrefix(device.ID, 8)),
		slog.String("fingerprint_prefix", logPrefix(fingerprint, 12)),
	)
	return &ActivationOutcome{Status: StatusLicensed, Record: &rec, Warning: warning}, nil
}

// Deactivate clears the activation record and returns the gate to the
// unlicensed state. Consumed codes stay consumed.
func (g *Gate) Deactivate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ledger.Clear(); err != nil {
		return err
	}
	g.state = StatusUnlicensed
	g.invalidateCheckCache()
	g.logger.Info("installation deactivated")
	return nil
}

// Status returns the gate's current session state without touching the
// ledger.
func (g *Gate) Status() GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Warning returns the current degradation warning, if any.
func (g *Gate) Warning() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.warning
}

func (g *Gate) invalidateCheckCache() {
	g.lastCheckAt = time.Time{}
}

// ReasonForError maps gate errors onto the closed set of user-facing reasons.
func ReasonForError(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrMalformedCode):
		return "malformed_code"
	case errors.Is(err, apperrors.ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, apperrors.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, apperrors.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, apperrors.ErrBoundToOtherDevice):
		return "code_already_used"
	case errors.Is(err, apperrors.ErrTooManyAttempts):
		return "rate_limited"
	case errors.Is(err, apperrors.ErrPersistenceUnavailable):
		return "persistence_unavailable"
	default:
		return "internal_error"
	}
}

func (g *Gate) countAttempt(ctx context.Context) {
	if g.metrics == nil {
		return
	}
	g.metrics.ActivationAttempts.Add(ctx, 1)
}

func (g *Gate) countSuccess(ctx context.Context, class CodeClass, resubmission bool) {
	if g.metrics == nil {
		return
	}
	g.metrics.ActivationSuccess.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class.String()),
		attribute.Bool("resubmission", resubmission),
	))
}

func (g *Gate) countFailure(ctx context.Context, reason string) {
	if g.metrics == nil {
		return
	}
	g.metrics.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (g *Gate) recordCheck(ctx context.Context, cacheResult string, status GateStatus) {
	if g.metrics == nil {
		return
	}
	g.metrics.LicenseChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache_result", cacheResult),
		attribute.String("status", status.String()),
	))
}
