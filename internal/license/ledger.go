package license

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "clausecli/internal/errors"
	"clausecli/internal/store"
)

const (
	recordKey    = "license"
	usedCodesKey = "used_codes"
)

// ActivationRecord is the unit of truth for "is this installation entitled".
// It exists if and only if the installation is considered licensed.
type ActivationRecord struct {
	CodeFingerprint string     `json:"code_fingerprint"`
	DeviceID        string     `json:"device_id"`
	Class           string     `json:"class"`
	ActivatedAt     time.Time  `json:"activated_at"`
	Expiry          *time.Time `json:"expiry,omitempty"` // nil for permanent codes
}

// UsedCodeEntry marks a code fingerprint as consumed. Entries are append-only
// and never deleted by normal operation.
type UsedCodeEntry struct {
	DeviceID   string    `json:"device_id"`
	ConsumedAt time.Time `json:"consumed_at"`
}

// Ledger persists the (code, device) binding and the consumed-code set. With
// a nil store it degrades to session-only in-memory state; the gate surfaces
// that as a PersistenceUnavailable warning.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger

	mu sync.Mutex
	// Session state, used when no store is available.
	memRecord *ActivationRecord
	memUsed   map[string]UsedCodeEntry
}

// NewLedger creates a ledger over st. st may be nil.
func NewLedger(st *store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:   st,
		logger:  logger.With(slog.String("component", "ledger")),
		memUsed: make(map[string]UsedCodeEntry),
	}
}

// Persistent reports whether the ledger is backed by durable storage.
func (l *Ledger) Persistent() bool { return l.store != nil }

// IsBound returns the activation record held by this installation, if any.
// A record that fails to load cleanly is treated as corrupted and reported
// so the gate can reset to unlicensed.
func (l *Ledger) IsBound() (*ActivationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		if l.memRecord == nil {
			return nil, nil
		}
		rec := *l.memRecord
		return &rec, nil
	}

	var rec ActivationRecord
	err := l.store.Get(recordKey, &rec)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRecordCorrupted, err)
	}
	if !recordWellFormed(&rec) {
		return nil, apperrors.ErrRecordCorrupted
	}
	return &rec, nil
}

// recordWellFormed rejects records whose fields cannot have been written by
// Bind: fingerprints are always 64 hex characters and device identifiers are
// never shorter than the prefix we log. A hand-edited or truncated file fails
// here and the gate resets to unlicensed instead of trusting it.
func recordWellFormed(rec *ActivationRecord) bool {
	return len(rec.CodeFingerprint) == 64 && len(rec.DeviceID) >= 8
}

// logPrefix returns at most n leading characters of s for log output. Values
// read back from disk may be shorter than the usual prefix length.
func logPrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Bind writes the activation record for this installation. Expiring codes
// already consumed under a different device are rejected; binding the same
// fingerprint to the same device again is a no-op success. Permanent codes
// bypass the replay check entirely.
func (l *Ledger) Bind(rec ActivationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Class == ClassExpiring.String() {
		if entry, consumed := l.lookupUsed(rec.CodeFingerprint); consumed && entry.DeviceID != rec.DeviceID {
			l.logger.Warn("replay across devices rejected",
				slog.String("fingerprint_prefix", logPrefix(rec.CodeFingerprint, 12)),
				slog.String("bound_device_prefix", logPrefix(entry.DeviceID, 8)),
			)
			return apperrors.ErrBoundToOtherDevice
		}
	}

	if l.store == nil {
		copied := rec
		l.memRecord = &copied
		l.markUsedLocked(rec)
		return nil
	}

	if err := l.store.Put(recordKey, rec); err != nil {
		return fmt.Errorf("persist activation record: %w", err)
	}
	l.markUsedLocked(rec)

	l.logger.Info("activation record written",
		slog.String("class", rec.Class),
		slog.String("fingerprint_prefix", logPrefix(rec.CodeFingerprint, 12)),
		slog.Time("activated_at", rec.ActivatedAt),
	)
	return nil
}

// IsConsumed reports whether a code fingerprint is already in the used set,
// and under which device.
func (l *Ledger) IsConsumed(fingerprint string) (*UsedCodeEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.lookupUsed(fingerprint)
	if !ok {
		return nil, false
	}
	return &entry, true
}

// MarkConsumed appends a code fingerprint to the used set.
func (l *Ledger) MarkConsumed(fingerprint, deviceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.markUsedLocked(ActivationRecord{
		CodeFingerprint: fingerprint,
		DeviceID:        deviceID,
		Class:           ClassExpiring.String(),
	})
}

// Clear removes the activation record. The used-code set is left intact:
// deactivating never frees a consumed code.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.memRecord = nil
	if l.store == nil {
		return nil
	}
	if err := l.store.Delete(recordKey); err != nil {
		return fmt.Errorf("clear activation record: %w", err)
	}
	return nil
}

func (l *Ledger) lookupUsed(fingerprint string) (UsedCodeEntry, bool) {
	if l.store == nil {
		entry, ok := l.memUsed[fingerprint]
		return entry, ok
	}
	used, err := l.loadUsed()
	if err != nil {
		l.logger.Warn("used-code set unreadable",
			slog.String("error", err.Error()),
		)
		return UsedCodeEntry{}, false
	}
	entry, ok := used[fingerprint]
	return entry, ok
}

func (l *Ledger) markUsedLocked(rec ActivationRecord) error {
	// Permanent codes never enter the used set: the single shared literal
	// is meant for trusted internal installs.
	if rec.Class != ClassExpiring.String() {
		return nil
	}

	if l.store == nil {
		if _, ok := l.memUsed[rec.CodeFingerprint]; !ok {
			l.memUsed[rec.CodeFingerprint] = UsedCodeEntry{DeviceID: rec.DeviceID, ConsumedAt: time.Now()}
		}
		return nil
	}

	used, err := l.loadUsed()
	if err != nil {
		return err
	}
	if _, ok := used[rec.CodeFingerprint]; ok {
		return nil
	}
	used[rec.CodeFingerprint] = UsedCodeEntry{DeviceID: rec.DeviceID, ConsumedAt: time.Now()}
	if err := l.store.Put(usedCodesKey, used); err != nil {
		return fmt.Errorf("persist used-code set: %w", err)
	}
	return nil
}

func (l *Ledger) loadUsed() (map[string]UsedCodeEntry, error) {
	used := make(map[string]UsedCodeEntry)
	err := l.store.Get(usedCodesKey, &used)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return used, nil
}
