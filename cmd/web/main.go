// Command web is the licensed web host: it wires the activation gate, the
// tamper guard, and the local HTTP surface the clause-comparison frontend
// talks to. Feature access is gated purely on the license status endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"clausecli/internal/config"
	apperrors "clausecli/internal/errors"
	"clausecli/internal/license"
	"clausecli/internal/security"
	"clausecli/internal/store"
	transport "clausecli/internal/transport/http"
)

// Stamped by build.go via -ldflags.
var (
	Version   = "dev"
	BuildTime = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	logger := newLogger(settings.LogLevel)
	slog.SetDefault(logger)

	dist, err := config.GetDistribution()
	if err != nil {
		return fmt.Errorf("resolve distribution: %w", err)
	}

	logger.Info("starting licensed web host",
		slog.String("version", Version),
		slog.String("variant", dist.Name),
		slog.String("addr", settings.Addr),
		slog.String("data_dir", settings.DataDir),
	)

	// Persistence failures degrade to session-only licensing, never abort.
	st, err := store.Open(settings.DataDir, dist.StorageNamespace, logger)
	if err != nil {
		logger.Warn("local persistence unavailable, licensing is session-only",
			slog.String("error", err.Error()),
		)
		st = nil
	}

	identity := security.NewIdentityProvider(st, logger)
	ledger := license.NewLedger(st, logger)

	verifier, err := license.NewVerifier(dist.Secret, dist.PermanentCode)
	if err != nil {
		return fmt.Errorf("initialize verifier: %w", err)
	}

	metrics, err := license.NewGateMetrics()
	if err != nil {
		return fmt.Errorf("initialize gate metrics: %w", err)
	}

	gate := license.NewGate(verifier, ledger, identity, logger,
		license.WithAttemptLimit(settings.ActivationRatePerMin, settings.ActivationBurst),
		license.WithGateMetrics(metrics),
	)

	guard := security.NewGuard(settings.GuardInterval, settings.GuardThreshold, logger,
		security.WithEscalation(func(detections []security.Detection) {
			logger.Error("tamper guard tripped, serving blocking notice",
				slog.Int("detections", len(detections)),
			)
		}),
	)

	// Surface the startup answer early; warm identity and ledger state.
	status := gate.CheckLicense(context.Background())
	logger.Info("startup license check",
		slog.String("status", status.String()),
	)
	if w := gate.Warning(); w != "" && w == apperrors.ErrPersistenceUnavailable.Error() {
		logger.Warn("license state is session-only for this run")
	}

	server := &http.Server{
		Addr:              settings.Addr,
		Handler:           transport.NewRouter(gate, guard, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return guard.Run(ctx)
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
