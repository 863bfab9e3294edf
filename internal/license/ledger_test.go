package license

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	apperrors "clausecli/internal/errors"
	"clausecli/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	st, err := store.Open(t.TempDir(), "ledger-test", slog.Default())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return NewLedger(st, slog.Default())
}

func expiringRecord(fingerprint, device string, expiry time.Time) ActivationRecord {
	return ActivationRecord{
		CodeFingerprint: fingerprint,
		DeviceID:        device,
		Class:           ClassExpiring.String(),
		ActivatedAt:     time.Now(),
		Expiry:          &expiry,
	}
}

func TestLedgerBindAndRead(t *testing.T) {
	l := newTestLedger(t)
	expiry := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	fp := "aaaabbbbccccdddd0000111122223333aaaabbbbccccdddd0000111122223333"
	device := "device-one-0000000000000000000000000000000000000000000000000000"

	if rec, err := l.IsBound(); err != nil || rec != nil {
		t.Fatalf("fresh ledger: rec=%v err=%v, want nil/nil", rec, err)
	}

	if err := l.Bind(expiringRecord(fp, device, expiry)); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	rec, err := l.IsBound()
	if err != nil {
		t.Fatalf("IsBound: %v", err)
	}
	if rec == nil || rec.CodeFingerprint != fp || rec.DeviceID != device {
		t.Fatalf("unexpected record: %+v", rec)
	}

	entry, consumed := l.IsConsumed(fp)
	if !consumed {
		t.Fatal("fingerprint not marked consumed after bind")
	}
	if entry.DeviceID != device {
		t.Errorf("consumed under %q, want %q", entry.DeviceID, device)
	}
}

func TestLedgerTreatsGarbledRecordAsCorrupted(t *testing.T) {
	fp := "aaaabbbbccccdddd0000111122223333aaaabbbbccccdddd0000111122223333"
	tests := []struct {
		name   string
		record ActivationRecord
	}{
		{
			name: "truncated device id",
			record: ActivationRecord{
				CodeFingerprint: fp,
				DeviceID:        "abc",
				Class:           ClassExpiring.String(),
				ActivatedAt:     time.Now(),
			},
		},
		{
			name: "truncated fingerprint",
			record: ActivationRecord{
				CodeFingerprint: "aaaa",
				DeviceID:        "device-garbled-0000000000000000000000000000000000000000000000000",
				Class:           ClassExpiring.String(),
				ActivatedAt:     time.Now(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := store.Open(t.TempDir(), "ledger-test", slog.Default())
			if err != nil {
				t.Fatalf("store.Open: %v", err)
			}
			if err := st.Put("license", tt.record); err != nil {
				t.Fatalf("write garbled record: %v", err)
			}
			_, err = NewLedger(st, slog.Default()).IsBound()
			if !errors.Is(err, apperrors.ErrRecordCorrupted) {
				t.Fatalf("IsBound error = %v, want record-corrupted", err)
			}
		})
	}
}

func TestLedgerRejectsReplayAcrossDevices(t *testing.T) {
	l := newTestLedger(t)
	expiry := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	fp := "eeeeffff00001111eeeeffff00001111eeeeffff00001111eeeeffff00001111"
	deviceA := "device-aaaa-000000000000000000000000000000000000000000000000000"
	deviceB := "device-bbbb-000000000000000000000000000000000000000000000000000"

	if err := l.Bind(expiringRecord(fp, deviceA, expiry)); err != nil {
		t.Fatalf("first bind: %v", err)
	}

	// Same code fingerprint, different device identity: replay boundary.
	err := l.Bind(expiringRecord(fp, deviceB, expiry))
	if !errors.Is(err, apperrors.ErrBoundToOtherDevice) {
		t.Fatalf("second device bind error = %v, want bound-to-other-device", err)
	}

	// Same device again is a no-op success.
	if err := l.Bind(expiringRecord(fp, deviceA, expiry)); err != nil {
		t.Fatalf("rebind on same device: %v", err)
	}
}

func TestLedgerPermanentBypassesReplayCheck(t *testing.T) {
	l := newTestLedger(t)
	fp := "9999888877776666999988887777666699998888777766669999888877776666"

	recA := ActivationRecord{
		CodeFingerprint: fp,
		DeviceID:        "device-a-permanent-00000000000000000000000000000000000000000000",
		Class:           ClassPermanent.String(),
		ActivatedAt:     time.Now(),
	}
	recB := recA
	recB.DeviceID = "device-b-permanent-00000000000000000000000000000000000000000000"

	if err := l.Bind(recA); err != nil {
		t.Fatalf("first permanent bind: %v", err)
	}
	if err := l.Bind(recB); err != nil {
		t.Fatalf("permanent bind on second device rejected: %v", err)
	}

	// Permanent codes never enter the used set.
	if _, consumed := l.IsConsumed(fp); consumed {
		t.Error("permanent fingerprint must not be marked consumed")
	}

	if rec, err := l.IsBound(); err != nil || rec == nil || rec.Expiry != nil {
		t.Errorf("permanent record: %+v err=%v, want record with nil expiry", rec, err)
	}
}

func TestLedgerClearKeepsConsumedCodes(t *testing.T) {
	l := newTestLedger(t)
	expiry := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	fp := "1111222233334444111122223333444411112222333344441111222233334444"
	device := "device-clear-000000000000000000000000000000000000000000000000000"

	if err := l.Bind(expiringRecord(fp, device, expiry)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if rec, err := l.IsBound(); err != nil || rec != nil {
		t.Fatalf("after clear: rec=%v err=%v, want nil/nil", rec, err)
	}
	// Deactivation never frees a consumed code.
	if _, consumed := l.IsConsumed(fp); !consumed {
		t.Error("consumed fingerprint lost after clear")
	}
}

func TestLedgerSessionOnlyFallback(t *testing.T) {
	l := NewLedger(nil, slog.Default())
	if l.Persistent() {
		t.Fatal("nil-store ledger reports persistent")
	}

	expiry := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	fp := "5555666677778888555566667777888855556666777788885555666677778888"

	if err := l.Bind(expiringRecord(fp, "device-mem", expiry)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if rec, err := l.IsBound(); err != nil || rec == nil {
		t.Fatalf("in-memory record not readable: rec=%v err=%v", rec, err)
	}
	if err := l.Bind(expiringRecord(fp, "device-other", expiry)); !errors.Is(err, apperrors.ErrBoundToOtherDevice) {
		t.Fatalf("replay in session-only mode: error = %v", err)
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir, "reopen-test", slog.Default())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	expiry := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	fp := "abcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcd"
	device := "device-reopen-00000000000000000000000000000000000000000000000000"

	if err := NewLedger(st, slog.Default()).Bind(expiringRecord(fp, device, expiry)); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	st2, err := store.Open(dir, "reopen-test", slog.Default())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	rec, err := NewLedger(st2, slog.Default()).IsBound()
	if err != nil {
		t.Fatalf("IsBound after reopen: %v", err)
	}
	if rec == nil || rec.CodeFingerprint != fp {
		t.Fatalf("record lost across reopen: %+v", rec)
	}
}
