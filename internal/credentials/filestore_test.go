package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmail/kestrel/internal/crypto"
)

func newTestFileProvider(t *testing.T) *FileProvider {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 3)
	}
	enc, err := crypto.NewEncryptor(key)
	require.NoError(t, err)

	return NewFileProvider(filepath.Join(t.TempDir(), "secrets.json"), enc)
}

func TestFileProviderRoundTrip(t *testing.T) {
	p := newTestFileProvider(t)

	require.NoError(t, p.SetSecret("alice@example.com", "app-password"))

	secret, err := p.Secret("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "app-password", secret)
}

func TestFileProviderMissingAccount(t *testing.T) {
	p := newTestFileProvider(t)

	_, err := p.Secret("nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, p.DeleteSecret("nobody"), ErrNotFound)
}

func TestFileProviderOverwriteAndDelete(t *testing.T) {
	p := newTestFileProvider(t)

	require.NoError(t, p.SetSecret("acct", "first"))
	require.NoError(t, p.SetSecret("acct", "second"))

	secret, err := p.Secret("acct")
	require.NoError(t, err)
	assert.Equal(t, "second", secret)

	require.NoError(t, p.DeleteSecret("acct"))
	_, err = p.Secret("acct")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileProviderNeverStoresPlaintext(t *testing.T) {
	p := newTestFileProvider(t)

	require.NoError(t, p.SetSecret("acct", "super-secret-password"))

	data, err := os.ReadFile(p.path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret-password")

	// The file is well-formed JSON with one sealed entry.
	stored := map[string]string{}
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Len(t, stored, 1)

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(p.path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}
}

func TestFileProviderSurvivesReopen(t *testing.T) {
	key := make([]byte, 32)
	enc, err := crypto.NewEncryptor(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, NewFileProvider(path, enc).SetSecret("acct", "persisted"))

	secret, err := NewFileProvider(path, enc).Secret("acct")
	require.NoError(t, err)
	assert.Equal(t, "persisted", secret)
}
