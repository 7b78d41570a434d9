package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmail/kestrel/internal/models"
	"github.com/kestrelmail/kestrel/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), testutil.DiscardLogger())
	require.NoError(t, err)
	return store
}

func TestSaveAndPath(t *testing.T) {
	store := newTestStore(t)

	content := []byte("report body bytes")
	saved := store.Save("acct", 7, []models.AttachmentPayload{
		{Filename: "report.pdf", ContentType: "application/pdf", Content: content},
	})
	require.Len(t, saved, 1)

	att := saved[0]
	assert.Equal(t, "report.pdf", att.Filename)
	assert.Equal(t, int64(len(content)), att.SizeBytes)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), att.ContentHash)

	stored, err := os.ReadFile(att.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	path, err := store.Path("acct", 7, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, att.StoragePath, path)
}

func TestPathNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Path("acct", 1, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	store.Save("acct", 1, []models.AttachmentPayload{
		{Filename: "present.txt", Content: []byte("x")},
	})
	_, err = store.Path("acct", 1, "other.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeduplicationSharesObjects(t *testing.T) {
	store := newTestStore(t)

	content := []byte("identical payload")
	a := store.Save("acct", 1, []models.AttachmentPayload{
		{Filename: "invoice.pdf", Content: content},
	})
	b := store.Save("acct", 2, []models.AttachmentPayload{
		{Filename: "invoice-copy.pdf", Content: content},
	})
	require.Len(t, a, 1)
	require.Len(t, b, 1)

	// Same bytes, same content hash, regardless of filename.
	assert.Equal(t, a[0].ContentHash, b[0].ContentHash)
	assert.NotEqual(t, a[0].StoragePath, b[0].StoragePath)

	// Exactly one object exists for the shared content.
	hash := a[0].ContentHash
	objectPath := filepath.Join(store.baseDir, objectsDir, hash[:2], hash[2:])
	fi, err := os.Stat(objectPath)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), fi.Size())
}

func TestSaveSanitizesFilenames(t *testing.T) {
	store := newTestStore(t)

	saved := store.Save("acct", 3, []models.AttachmentPayload{
		{Filename: "../../etc/passwd", Content: []byte("nope")},
		{Filename: "my file (1).txt", Content: []byte("spaces")},
		{Filename: "", ContentType: "text/plain", Content: []byte("anon")},
	})
	require.Len(t, saved, 3)

	base := filepath.Join(store.baseDir, "acct")
	for _, att := range saved {
		// Every stored path stays inside the account directory.
		rel, err := filepath.Rel(base, att.StoragePath)
		require.NoError(t, err)
		assert.NotContains(t, rel, "..")
	}

	// A nameless payload still gets a usable stored name.
	path, err := store.Path("acct", 3, "")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "attachment")
}

func TestSaveIdempotent(t *testing.T) {
	store := newTestStore(t)

	payload := []models.AttachmentPayload{
		{Filename: "photo.jpg", ContentType: "image/jpeg", Content: []byte("jpeg bytes")},
	}
	first := store.Save("acct", 5, payload)
	second := store.Save("acct", 5, payload)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].StoragePath, second[0].StoragePath)

	info, err := store.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.FileCount)
}

func TestCleanupRemovesOldFiles(t *testing.T) {
	store := newTestStore(t)

	old := store.Save("acct", 1, []models.AttachmentPayload{
		{Filename: "old.txt", Content: []byte("old")},
	})
	fresh := store.Save("acct", 2, []models.AttachmentPayload{
		{Filename: "fresh.txt", Content: []byte("fresh")},
	})
	require.Len(t, old, 1)
	require.Len(t, fresh, 1)

	// Backdate the old file and its object past the retention window.
	past := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(old[0].StoragePath, past, past))
	hash := old[0].ContentHash
	objectPath := filepath.Join(store.baseDir, objectsDir, hash[:2], hash[2:])
	require.NoError(t, os.Chtimes(objectPath, past, past))

	require.NoError(t, store.Cleanup(30))

	_, err := os.Stat(old[0].StoragePath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh[0].StoragePath)
	assert.NoError(t, err)

	// The emptied message directory is gone too.
	_, err = os.Stat(filepath.Dir(old[0].StoragePath))
	assert.True(t, os.IsNotExist(err))
}

func TestInfo(t *testing.T) {
	store := newTestStore(t)

	info, err := store.Info()
	require.NoError(t, err)
	assert.Equal(t, Info{}, info)

	store.Save("alice", 1, []models.AttachmentPayload{
		{Filename: "a.txt", Content: []byte("aaaa")},
	})
	store.Save("bob", 1, []models.AttachmentPayload{
		{Filename: "b.txt", Content: []byte("bb")},
	})

	info, err = store.Info()
	require.NoError(t, err)
	assert.Equal(t, 2, info.Accounts)
	assert.Equal(t, 2, info.FileCount)
	assert.Equal(t, int64(6), info.TotalBytes)
}
