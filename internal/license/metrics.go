package license

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies the gate's instrumentation scope.
const MeterName = "activation-gate"

// GateMetrics holds the gate's OpenTelemetry instruments.
type GateMetrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	LicenseChecks      metric.Int64Counter
	ReplayRejections   metric.Int64Counter
}

// NewGateMetrics creates the gate instruments on the global meter provider.
func NewGateMetrics() (*GateMetrics, error) {
	meter := otel.Meter(MeterName)

	attempts, err := meter.Int64Counter("license.activation.attempts",
		metric.WithDescription("Activation attempts submitted to the gate"))
	if err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}
	success, err := meter.Int64Counter("license.activation.success",
		metric.WithDescription("Activations accepted"))
	if err != nil {
		return nil, fmt.Errorf("create success counter: %w", err)
	}
	failures, err := meter.Int64Counter("license.activation.failures",
		metric.WithDescription("Activations rejected, by reason"))
	if err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	checks, err := meter.Int64Counter("license.checks",
		metric.WithDescription("License status checks, by cache result"))
	if err != nil {
		return nil, fmt.Errorf("create checks counter: %w", err)
	}
	replays, err := meter.Int64Counter("license.replay.rejections",
		metric.WithDescription("Cross-device replay attempts rejected by the ledger"))
	if err != nil {
		return nil, fmt.Errorf("create replay counter: %w", err)
	}

	return &GateMetrics{
		ActivationAttempts: attempts,
		ActivationSuccess:  success,
		ActivationFailures: failures,
		LicenseChecks:      checks,
		ReplayRejections:   replays,
	}, nil
}
