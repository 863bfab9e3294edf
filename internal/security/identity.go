package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "clausecli/internal/errors"
	"clausecli/internal/store"
)

const deviceIdentityKey = "device_id"

// DeviceIdentity is the locally generated, stable identifier binding a
// license to one installation. It is created at most once per installation
// and never regenerated while valid persisted state exists.
type DeviceIdentity struct {
	ID          string    `json:"id"`
	HintDigest  string    `json:"hint_digest"`
	CreatedAt   time.Time `json:"created_at"`
	Ephemeral   bool      `json:"-"`
	OS          string    `json:"os"`
	Hostname    string    `json:"hostname"`
}

// IdentityProvider loads or synthesizes the device identity. When the
// persistence layer is unavailable it falls back to a process-lifetime
// ephemeral identity and surfaces ErrPersistenceUnavailable as a warning.
type IdentityProvider struct {
	store  *store.Store
	hints  *HintCollector
	logger *slog.Logger

	mu     sync.Mutex
	cached *DeviceIdentity
}

// NewIdentityProvider creates an identity provider backed by st. A nil store
// means persistence is already known to be unavailable.
func NewIdentityProvider(st *store.Store, logger *slog.Logger) *IdentityProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityProvider{
		store:  st,
		hints:  NewHintCollector(),
		logger: logger.With(slog.String("component", "identity")),
	}
}

// GetOrCreate returns the persisted device identity, creating and persisting
// one on first run. On persistence failure it returns a usable ephemeral
// identity together with ErrPersistenceUnavailable; callers treat that error
// as a warning, not a failure.
func (p *IdentityProvider) GetOrCreate() (*DeviceIdentity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	if p.store != nil {
		var existing DeviceIdentity
		err := p.store.Get(deviceIdentityKey, &existing)
		if err == nil && len(existing.ID) >= 8 {
			p.cached = &existing
			p.logger.Debug("device identity loaded",
				slog.String("device_id", existing.ID[:8]),
				slog.Time("created_at", existing.CreatedAt),
			)
			return p.cached, nil
		}
		if err == nil && existing.ID != "" {
			p.logger.Warn("device identity garbled, synthesizing a new one",
				slog.Int("id_length", len(existing.ID)),
			)
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("device identity unreadable, synthesizing a new one",
				slog.String("error", err.Error()),
			)
		}
	}

	identity := p.synthesize()

	if p.store == nil {
		identity.Ephemeral = true
		p.cached = identity
		return identity, fmt.Errorf("device identity not persisted: %w", apperrors.ErrPersistenceUnavailable)
	}

	if err := p.store.Put(deviceIdentityKey, identity); err != nil {
		identity.Ephemeral = true
		p.cached = identity
		p.logger.Warn("device identity persistence failed, using ephemeral identity",
			slog.String("error", err.Error()),
		)
		return identity, fmt.Errorf("device identity not persisted: %w", apperrors.ErrPersistenceUnavailable)
	}

	p.cached = identity
	p.logger.Info("device identity created",
		slog.String("device_id", identity.ID[:8]),
		slog.String("hint_digest", logPrefix(identity.HintDigest, 8)),
	)
	return identity, nil
}

// logPrefix returns at most n leading characters of s for log output. The
// hint digest falls back to a short placeholder when no hardware hint is
// available.
func logPrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// synthesize builds a fresh identity from a high-entropy source combined with
// the hardware hint where available.
func (p *IdentityProvider) synthesize() *DeviceIdentity {
	entropy := uuid.NewString()

	hint, err := p.hints.Collect()
	if err != nil || hint == nil {
		hint = &HardwareHint{Digest: "no-hint", Hostname: "unknown"}
	}

	sum := sha256.Sum256([]byte(entropy + "|" + hint.Digest))
	return &DeviceIdentity{
		ID:         hex.EncodeToString(sum[:]),
		HintDigest: hint.Digest,
		CreatedAt:  time.Now(),
		OS:         hint.OS,
		Hostname:   hint.Hostname,
	}
}
