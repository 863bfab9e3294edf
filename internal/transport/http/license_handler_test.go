package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clausecli/internal/license"
	"clausecli/internal/security"
	"clausecli/internal/store"
)

type handlerEnv struct {
	router   chi.Router
	verifier *license.Verifier
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	st, err := store.Open(t.TempDir(), "http-test", slog.Default())
	require.NoError(t, err)

	v, err := license.NewVerifier([]byte("http-test-distribution-secret"), "")
	require.NoError(t, err)

	gate := license.NewGate(v,
		license.NewLedger(st, slog.Default()),
		security.NewIdentityProvider(st, slog.Default()),
		slog.Default(),
		license.WithAttemptLimit(6000, 100),
	)
	return &handlerEnv{
		router:   NewRouter(gate, nil, slog.Default()),
		verifier: v,
	}
}

func (e *handlerEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded),
		"response body is not JSON: %s", rec.Body.String())
	return rec, decoded
}

func (e *handlerEnv) issue(t *testing.T, expiry time.Time) string {
	t.Helper()
	code, err := e.verifier.IssueCode(expiry, 100)
	require.NoError(t, err)
	return code
}

func TestStatusOnFreshInstall(t *testing.T) {
	env := newHandlerEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/license/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unlicensed", body["status"])
	assert.Equal(t, false, body["licensed"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestActivateAcceptsValidCode(t *testing.T) {
	env := newHandlerEnv(t)
	code := env.issue(t, time.Now().AddDate(1, 0, 0))

	rec, body := env.do(t, http.MethodPost, "/api/license/activate", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, "body: %v", body)
	assert.Equal(t, "licensed", body["status"])
	assert.Equal(t, "expiring", body["class"])
	assert.NotEmpty(t, body["expiry"])

	rec, body = env.do(t, http.MethodGet, "/api/license/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["licensed"])
}

func TestActivateRejectsMistypedCode(t *testing.T) {
	env := newHandlerEnv(t)
	code := env.issue(t, time.Now().AddDate(1, 0, 0))

	// Simulate a single-character typo.
	last := code[len(code)-1]
	typo := byte('A')
	if last == 'A' {
		typo = 'B'
	}
	mistyped := code[:len(code)-1] + string(typo)

	rec, body := env.do(t, http.MethodPost, "/api/license/activate", `{"code":"`+mistyped+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CHECKSUM_MISMATCH", body["error_code"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestActivateRejectsForeignDistributionCode(t *testing.T) {
	env := newHandlerEnv(t)

	other, err := license.NewVerifier([]byte("a-different-distribution-secret"), "")
	require.NoError(t, err)
	code, err := other.IssueCode(time.Now().AddDate(1, 0, 0), 100)
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodPost, "/api/license/activate", `{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", body["error_code"])
}

func TestActivateValidatesRequestShape(t *testing.T) {
	env := newHandlerEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing code", `{}`},
		{"code too short", `{"code":"ABC"}`},
		{"not json", `garbage`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodPost, "/api/license/activate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "MALFORMED_CODE", body["error_code"])
		})
	}
}

func TestDeactivateClearsLicense(t *testing.T) {
	env := newHandlerEnv(t)
	code := env.issue(t, time.Now().AddDate(1, 0, 0))

	rec, _ := env.do(t, http.MethodPost, "/api/license/activate", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodDelete, "/api/license/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unlicensed", body["status"])

	rec, body = env.do(t, http.MethodGet, "/api/license/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["licensed"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newHandlerEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestGuardNoticeBlocksAllTrafficWhenTripped(t *testing.T) {
	tripping := func() (security.Detection, bool) {
		return security.Detection{Indicator: "tracer_attached", At: time.Now()}, true
	}
	guard := security.NewGuard(time.Millisecond, 1, slog.Default(), security.WithChecks(tripping))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go guard.Run(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for !guard.Tripped() {
		if time.Now().After(deadline) {
			t.Fatal("guard never tripped")
		}
		time.Sleep(2 * time.Millisecond)
	}

	handler := GuardNotice(guard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler reached while guard is tripped")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")
}

func TestGuardNoticePassesThroughUntilTripped(t *testing.T) {
	guard := security.NewGuard(time.Hour, 1, slog.Default())

	reached := false
	handler := GuardNotice(guard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.True(t, reached)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
