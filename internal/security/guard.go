package security

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Detection records a single tamper indicator firing.
type Detection struct {
	Indicator string    `json:"indicator"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// Check inspects one tamper indicator. It returns the detection and true when
// the indicator fired.
type Check func() (Detection, bool)

// Guard runs the tamper checks on a recurring timer, independent of the
// activation gate. Checks are heuristics: they raise friction, never affect
// gate correctness, and never interfere with normal request handling until
// the guard trips.
type Guard struct {
	interval  time.Duration
	threshold int
	checks    []Check
	logger    *slog.Logger

	onEscalate func([]Detection)

	mu          sync.Mutex
	consecutive int
	recent      []Detection
	tripped     atomic.Bool
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithChecks replaces the default check set.
func WithChecks(checks ...Check) GuardOption {
	return func(g *Guard) { g.checks = checks }
}

// WithEscalation sets the callback invoked once when the consecutive
// detection count reaches the threshold.
func WithEscalation(fn func([]Detection)) GuardOption {
	return func(g *Guard) { g.onEscalate = fn }
}

// NewGuard creates a tamper guard. threshold is the number of consecutive
// detection rounds before escalation.
func NewGuard(interval time.Duration, threshold int, logger *slog.Logger, opts ...GuardOption) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		interval:  interval,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "tamper_guard")),
		checks:    []Check{TracerCheck, TimingCheck(25 * time.Millisecond, 8)},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes the check loop until ctx is cancelled. It always returns nil;
// tamper detections are escalation events, not errors.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.sweep()
		}
	}
}

// Tripped reports whether the guard has escalated.
func (g *Guard) Tripped() bool {
	return g.tripped.Load()
}

// Detections returns a copy of the detections from the current streak.
func (g *Guard) Detections() []Detection {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Detection, len(g.recent))
	copy(out, g.recent)
	return out
}

func (g *Guard) sweep() {
	var fired []Detection
	for _, check := range g.checks {
		if d, detected := check(); detected {
			fired = append(fired, d)
		}
	}

	g.mu.Lock()
	if len(fired) == 0 {
		g.consecutive = 0
		g.recent = nil
		g.mu.Unlock()
		return
	}

	g.consecutive++
	g.recent = append(g.recent, fired...)
	consecutive := g.consecutive
	recent := make([]Detection, len(g.recent))
	copy(recent, g.recent)
	g.mu.Unlock()

	for _, d := range fired {
		g.logger.Warn("tamper indicator detected",
			slog.String("indicator", d.Indicator),
			slog.String("detail", d.Detail),
			slog.Int("consecutive_rounds", consecutive),
		)
	}

	if consecutive >= g.threshold && g.tripped.CompareAndSwap(false, true) {
		g.logger.Error("tamper guard escalated",
			slog.Int("detections", len(recent)),
			slog.Int("threshold", g.threshold),
		)
		if g.onEscalate != nil {
			g.onEscalate(recent)
		}
	}
}

// TracerCheck detects an attached debugger via the kernel's tracer record on
// Linux. Other platforms report nothing rather than guessing.
func TracerCheck() (Detection, bool) {
	if runtime.GOOS != "linux" {
		return Detection{}, false
	}
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return Detection{}, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:")))
		if err == nil && pid != 0 {
			return Detection{
				Indicator: "tracer_attached",
				Detail:    "TracerPid=" + strconv.Itoa(pid),
				At:        time.Now(),
			}, true
		}
		break
	}
	return Detection{}, false
}

// TimingCheck returns a check that measures wall-clock dilation of a short
// sleep. Step-through debugging and process suspension stretch the observed
// duration well past the requested one.
func TimingCheck(sleep time.Duration, maxFactor int64) Check {
	return func() (Detection, bool) {
		start := time.Now()
		time.Sleep(sleep)
		elapsed := time.Since(start)
		if elapsed > sleep*time.Duration(maxFactor) {
			return Detection{
				Indicator: "timing_dilation",
				Detail:    "slept " + sleep.String() + ", observed " + elapsed.String(),
				At:        time.Now(),
			}, true
		}
		return Detection{}, false
	}
}

// IntegrityCheckFor wraps a binary integrity verification as a guard check.
// An empty expected hash disables the check.
func IntegrityCheckFor(expectedHash string) Check {
	checker := NewIntegrityChecker(expectedHash)
	return func() (Detection, bool) {
		if expectedHash == "" {
			return Detection{}, false
		}
		result, err := checker.Verify()
		if err != nil || result == nil {
			return Detection{}, false
		}
		if !result.IsValid {
			return Detection{
				Indicator: "binary_integrity",
				Detail:    result.ErrorMessage,
				At:        time.Now(),
			}, true
		}
		return Detection{}, false
	}
}
