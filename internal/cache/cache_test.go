package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmail/kestrel/internal/models"
	"github.com/kestrelmail/kestrel/internal/testutil"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir(), testutil.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func cachedEmail(id uint32, subject string, date time.Time) *models.Email {
	return &models.Email{
		MessageID: id,
		AccountID: "acct",
		Folder:    "INBOX",
		Subject:   subject,
		Sender:    "alice@example.com",
		Recipients: models.Recipients{
			To: []string{"bob@example.com"},
			Cc: []string{"carol@example.com"},
		},
		Date:  date,
		Body:  "body of " + subject,
		Flags: []string{models.FlagSeen},
		Metadata: models.Metadata{
			Headers:     map[string]string{"Message-Id": "<" + subject + "@example.com>"},
			ContentType: "text/plain",
		},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)

	date := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	in := cachedEmail(1, "Hello", date)
	require.NoError(t, c.CacheEmail("acct", "INBOX", in))

	out, err := c.CachedEmails("acct", "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, uint32(1), got.MessageID)
	assert.Equal(t, "acct", got.AccountID)
	assert.Equal(t, "INBOX", got.Folder)
	assert.Equal(t, "Hello", got.Subject)
	assert.Equal(t, "alice@example.com", got.Sender)
	assert.Equal(t, in.Recipients, got.Recipients)
	assert.Equal(t, date, got.Date)
	assert.Equal(t, "body of Hello", got.Body)
	assert.Equal(t, []string{models.FlagSeen}, got.Flags)
	assert.Equal(t, "<Hello@example.com>", got.Metadata.Header("Message-ID"))
	assert.Equal(t, "text/plain", got.Metadata.ContentType)
}

func TestCacheUpsertReplaces(t *testing.T) {
	c := newTestCache(t)

	date := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.CacheEmail("acct", "INBOX", cachedEmail(1, "First", date)))

	updated := cachedEmail(1, "First", date)
	updated.Flags = []string{models.FlagSeen, models.FlagFlagged}
	require.NoError(t, c.CacheEmail("acct", "INBOX", updated))

	out, err := c.CachedEmails("acct", "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{models.FlagSeen, models.FlagFlagged}, out[0].Flags)
}

func TestCachedEmailsPagination(t *testing.T) {
	c := newTestCache(t)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := uint32(1); i <= 5; i++ {
		e := cachedEmail(i, "Message", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, c.CacheEmail("acct", "INBOX", e))
	}

	page, err := c.CachedEmails("acct", "INBOX", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint32(5), page[0].MessageID)
	assert.Equal(t, uint32(4), page[1].MessageID)

	page, err = c.CachedEmails("acct", "INBOX", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint32(3), page[0].MessageID)
	assert.Equal(t, uint32(2), page[1].MessageID)

	// Past the end comes back empty, not an error.
	page, err = c.CachedEmails("acct", "INBOX", 10, 100)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = c.CachedEmails("acct", "INBOX", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestCachedEmailsScopedByAccountAndFolder(t *testing.T) {
	c := newTestCache(t)

	date := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, c.CacheEmail("acct", "INBOX", cachedEmail(1, "Inbox", date)))
	require.NoError(t, c.CacheEmail("acct", "Archive", cachedEmail(1, "Archived", date)))

	other := cachedEmail(1, "Other account", date)
	other.AccountID = "other"
	require.NoError(t, c.CacheEmail("other", "INBOX", other))

	out, err := c.CachedEmails("acct", "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Inbox", out[0].Subject)

	out, err = c.CachedEmails("acct", "Archive", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Archived", out[0].Subject)
}

func TestCacheMirrorsAttachmentBlobs(t *testing.T) {
	c := newTestCache(t)

	// A stored attachment file the cache should copy into its blob area.
	src := filepath.Join(t.TempDir(), "report_abcd1234.pdf")
	require.NoError(t, os.WriteFile(src, []byte("pdf bytes"), 0o644))

	e := cachedEmail(3, "With attachment", time.Now().UTC())
	e.Attachments = []models.Attachment{{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		SizeBytes:   9,
		ContentHash: "abcd1234",
		StoragePath: src,
	}}
	require.NoError(t, c.CacheEmail("acct", "INBOX", e))

	out, err := c.CachedEmails("acct", "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Attachments, 1)

	att := out[0].Attachments[0]
	assert.Equal(t, "report.pdf", att.Filename)
	assert.True(t, out[0].HasAttachments())

	// The blob is an independent copy; removing the source leaves it
	// readable.
	require.NoError(t, os.Remove(src))
	content, err := os.ReadFile(att.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), content)
}

func TestCacheMissingBlobDowngradesReference(t *testing.T) {
	c := newTestCache(t)

	src := filepath.Join(t.TempDir(), "gone_12345678.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	e := cachedEmail(4, "Blob vanishes", time.Now().UTC())
	e.Attachments = []models.Attachment{{
		Filename: "gone.txt", SizeBytes: 1, ContentHash: "12345678", StoragePath: src,
	}}
	require.NoError(t, c.CacheEmail("acct", "INBOX", e))

	out, err := c.CachedEmails("acct", "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, out[0].Attachments, 1)
	require.NoError(t, os.Remove(out[0].Attachments[0].StoragePath))

	out, err = c.CachedEmails("acct", "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Attachments, 1)
	assert.Equal(t, "gone.txt", out[0].Attachments[0].Filename)
	assert.Empty(t, out[0].Attachments[0].StoragePath)
}

func TestClearOld(t *testing.T) {
	c := newTestCache(t)

	// Write an entry 40 days in the past by steering the clock.
	past := time.Now().UTC().AddDate(0, 0, -40)
	c.now = func() time.Time { return past }

	src := filepath.Join(t.TempDir(), "stale_deadbeef.txt")
	require.NoError(t, os.WriteFile(src, []byte("stale"), 0o644))
	stale := cachedEmail(1, "Stale", past)
	stale.Attachments = []models.Attachment{{
		Filename: "stale.txt", SizeBytes: 5, ContentHash: "deadbeef", StoragePath: src,
	}}
	require.NoError(t, c.CacheEmail("acct", "INBOX", stale))

	blobPath := filepath.Join(c.blobDir, "acct", "1", filepath.Base(src))
	_, err := os.Stat(blobPath)
	require.NoError(t, err)

	c.now = time.Now
	require.NoError(t, c.CacheEmail("acct", "INBOX", cachedEmail(2, "Fresh", time.Now().UTC())))

	require.NoError(t, c.ClearOld(30))

	out, err := c.CachedEmails("acct", "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Fresh", out[0].Subject)

	// The stale blob file went with its rows.
	_, err = os.Stat(blobPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSizeAndClear(t *testing.T) {
	c := newTestCache(t)

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size.EmailCount)
	assert.Equal(t, 0, size.AttachmentCount)

	src := filepath.Join(t.TempDir(), "data_cafebabe.bin")
	require.NoError(t, os.WriteFile(src, []byte("12345"), 0o644))

	e := cachedEmail(1, "Sized", time.Now().UTC())
	e.Attachments = []models.Attachment{{
		Filename: "data.bin", SizeBytes: 5, ContentHash: "cafebabe", StoragePath: src,
	}}
	require.NoError(t, c.CacheEmail("acct", "INBOX", e))
	require.NoError(t, c.CacheEmail("acct", "INBOX", cachedEmail(2, "Plain", time.Now().UTC())))

	size, err = c.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size.EmailCount)
	assert.Equal(t, 1, size.AttachmentCount)
	assert.Equal(t, int64(5), size.AttachmentBytes)
	assert.Positive(t, size.DatabaseBytes)

	require.NoError(t, c.Clear())

	size, err = c.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size.EmailCount)
	assert.Equal(t, 0, size.AttachmentCount)

	entries, err := os.ReadDir(c.blobDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
