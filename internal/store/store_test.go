package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestOpenCreatesNamespaceDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, "retail", slog.Default())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "retail"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), "test", slog.Default())
	require.NoError(t, err)

	in := payload{Name: "alpha", Count: 3}
	require.NoError(t, s.Put("doc", in))

	var out payload
	require.NoError(t, s.Get("doc", &out))
	assert.Equal(t, in, out)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	s, err := Open(t.TempDir(), "test", slog.Default())
	require.NoError(t, err)

	var out payload
	err = s.Get("absent", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutOverwritesPreviousValue(t *testing.T) {
	s, err := Open(t.TempDir(), "test", slog.Default())
	require.NoError(t, err)

	require.NoError(t, s.Put("doc", payload{Name: "first"}))
	require.NoError(t, s.Put("doc", payload{Name: "second"}))

	var out payload
	require.NoError(t, s.Get("doc", &out))
	assert.Equal(t, "second", out.Name)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), "test", slog.Default())
	require.NoError(t, err)

	require.NoError(t, s.Put("doc", payload{Name: "gone"}))
	require.NoError(t, s.Delete("doc"))
	require.NoError(t, s.Delete("doc"))

	var out payload
	assert.ErrorIs(t, s.Get("doc", &out), ErrNotFound)
}

func TestNamespacesAreIsolated(t *testing.T) {
	dir := t.TempDir()
	retail, err := Open(dir, "retail", slog.Default())
	require.NoError(t, err)
	enterprise, err := Open(dir, "enterprise", slog.Default())
	require.NoError(t, err)

	require.NoError(t, retail.Put("doc", payload{Name: "retail-only"}))

	var out payload
	assert.ErrorIs(t, enterprise.Get("doc", &out), ErrNotFound)
}

func TestKeysAreSanitizedToSafeFilenames(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "ns", slog.Default())
	require.NoError(t, err)

	require.NoError(t, s.Put("../escape/attempt", payload{Name: "contained"}))

	// The hostile key must not produce a file outside the namespace.
	entries, err := os.ReadDir(filepath.Join(dir, "ns"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")

	var out payload
	require.NoError(t, s.Get("../escape/attempt", &out))
	assert.Equal(t, "contained", out.Name)
}

func TestGetRejectsCorruptedDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "ns", slog.Default())
	require.NoError(t, err)

	require.NoError(t, s.Put("doc", payload{Name: "valid"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ns", "doc.json"), []byte("{truncated"), 0o600))

	var out payload
	err = s.Get("doc", &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
