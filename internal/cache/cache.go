// Package cache mirrors fetched emails and their attachment bytes
// into a local SQLite database plus a blob directory, and serves reads
// from that mirror when no live session is available. Writes are
// upserts keyed by (message ID, account), so a crash between a live
// fetch and the cache write leaves the mirror stale but never corrupt:
// the next fetch overwrites the same keys.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kestrelmail/kestrel/internal/faults"
	"github.com/kestrelmail/kestrel/internal/models"
)

const dbFilename = "email_cache.db"

// Size aggregates cache statistics.
type Size struct {
	EmailCount      int
	AttachmentCount int
	AttachmentBytes int64
	DatabaseBytes   int64
}

// Cache is the offline mirror. Operations are short open-use-close
// statement units; concurrent use is bounded only by what SQLite
// allows.
type Cache struct {
	db      *sqlx.DB
	dir     string
	blobDir string
	logger  *slog.Logger
	now     func() time.Time
}

// Open opens (or creates) the cache under dir, enables WAL mode, and
// runs any pending schema migrations.
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", filepath.Join(dir, dbFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	c := &Cache{db: db, dir: dir, blobDir: blobDir, logger: logger, now: time.Now}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// migrate applies any outstanding schema migrations in order.
func (c *Cache) migrate() error {
	currentVersion := 0

	var tableCount int
	err := c.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("failed to check schema version table: %w", err)
	}
	if tableCount > 0 {
		if err := c.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// emailRow is the database shape of one cached email.
type emailRow struct {
	MessageID      int64  `db:"message_id"`
	Account        string `db:"account"`
	Folder         string `db:"folder"`
	Subject        string `db:"subject"`
	Sender         string `db:"sender"`
	Recipients     string `db:"recipients"`
	Date           int64  `db:"date"`
	Body           string `db:"body"`
	HasAttachments int    `db:"has_attachments"`
	Metadata       string `db:"metadata"`
	Flags          string `db:"flags"`
	LastUpdated    int64  `db:"last_updated"`
}

// attachmentRow is the database shape of one cached attachment.
type attachmentRow struct {
	ID          int64  `db:"id"`
	MessageID   int64  `db:"message_id"`
	Account     string `db:"account"`
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	Size        int64  `db:"size"`
	ContentHash string `db:"content_hash"`
	Path        string `db:"path"`
	LastUpdated int64  `db:"last_updated"`
}

// CacheEmail upserts one email keyed by (message ID, account) and
// mirrors its attachment bytes into the blob area.
func (c *Cache) CacheEmail(accountID, folder string, email *models.Email) error {
	recipients, err := json.Marshal(email.Recipients)
	if err != nil {
		return faults.Storage("cache email", fmt.Errorf("failed to encode recipients: %w", err))
	}
	metadata, err := json.Marshal(email.Metadata)
	if err != nil {
		return faults.Storage("cache email", fmt.Errorf("failed to encode metadata: %w", err))
	}
	flags, err := json.Marshal(email.Flags)
	if err != nil {
		return faults.Storage("cache email", fmt.Errorf("failed to encode flags: %w", err))
	}

	now := c.now().UTC().Unix()

	tx, err := c.db.Beginx()
	if err != nil {
		return faults.Storage("cache email", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO emails (
			message_id, account, folder, subject, sender, recipients,
			date, body, has_attachments, metadata, flags, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(email.MessageID), accountID, folder, email.Subject, email.Sender,
		string(recipients), email.Date.UTC().Unix(), email.Body,
		boolToInt(email.HasAttachments()), string(metadata), string(flags), now,
	)
	if err != nil {
		return faults.Storage("cache email", fmt.Errorf("failed to upsert email: %w", err))
	}

	// Replace the attachment rows for this message wholesale; the
	// upsert contract is per message, not per attachment.
	if _, err := tx.Exec(
		"DELETE FROM attachments WHERE message_id = ? AND account = ?",
		int64(email.MessageID), accountID,
	); err != nil {
		return faults.Storage("cache email", fmt.Errorf("failed to clear attachment rows: %w", err))
	}

	for _, att := range email.Attachments {
		blobPath, err := c.mirrorBlob(accountID, email.MessageID, att)
		if err != nil {
			c.logger.Warn("failed to mirror attachment bytes",
				"account", accountID, "message_id", email.MessageID,
				"filename", att.Filename, "error", err)
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO attachments (
				message_id, account, filename, content_type, size, content_hash, path, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(email.MessageID), accountID, att.Filename, att.ContentType,
			att.SizeBytes, att.ContentHash, blobPath, now,
		); err != nil {
			return faults.Storage("cache email", fmt.Errorf("failed to insert attachment row: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return faults.Storage("cache email", fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// mirrorBlob copies the stored attachment bytes into the blob area and
// returns the blob path.
func (c *Cache) mirrorBlob(accountID string, messageID uint32, att models.Attachment) (string, error) {
	content, err := os.ReadFile(att.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to read attachment bytes: %w", err)
	}

	dir := filepath.Join(c.blobDir, accountID, fmt.Sprintf("%d", messageID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(att.StoragePath))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return path, nil
}

// CachedEmails returns cached emails for an account and folder,
// newest first by date, with recipients, flags, metadata, and
// attachment references fully reconstructed.
func (c *Cache) CachedEmails(accountID, folder string, limit, offset int) ([]*models.Email, error) {
	if limit <= 0 {
		return []*models.Email{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	var rows []emailRow
	err := c.db.Select(&rows, `
		SELECT * FROM emails
		WHERE account = ? AND folder = ?
		ORDER BY date DESC, message_id DESC
		LIMIT ? OFFSET ?`,
		accountID, folder, limit, offset,
	)
	if err != nil {
		return nil, faults.Storage("get cached emails", fmt.Errorf("failed to query emails: %w", err))
	}

	emails := make([]*models.Email, 0, len(rows))
	for _, row := range rows {
		email, err := c.reconstruct(row)
		if err != nil {
			c.logger.Warn("failed to reconstruct cached email",
				"account", accountID, "message_id", row.MessageID, "error", err)
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// reconstruct rebuilds an Email entity from its row and attachment rows.
func (c *Cache) reconstruct(row emailRow) (*models.Email, error) {
	email := &models.Email{
		MessageID: uint32(row.MessageID),
		AccountID: row.Account,
		Folder:    row.Folder,
		Subject:   row.Subject,
		Sender:    row.Sender,
		Date:      time.Unix(row.Date, 0).UTC(),
		Body:      row.Body,
	}

	if err := json.Unmarshal([]byte(row.Recipients), &email.Recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Metadata), &email.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Flags), &email.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode flags: %w", err)
	}

	var atts []attachmentRow
	err := c.db.Select(&atts,
		"SELECT * FROM attachments WHERE message_id = ? AND account = ? ORDER BY id",
		row.MessageID, row.Account,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}

	for _, a := range atts {
		att := models.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			SizeBytes:   a.Size,
			ContentHash: a.ContentHash,
			StoragePath: a.Path,
		}
		// Blobs live on disk; a missing file downgrades the reference
		// rather than failing the read.
		if _, err := os.Stat(a.Path); err != nil {
			c.logger.Debug("cached attachment blob missing", "path", a.Path)
			att.StoragePath = ""
		}
		email.Attachments = append(email.Attachments, att)
	}

	return email, nil
}

// ClearOld deletes cache rows whose last update is older than the
// given number of days, along with their blob files. Files already
// missing are tolerated.
func (c *Cache) ClearOld(days int) error {
	cutoff := c.now().UTC().AddDate(0, 0, -days).Unix()

	var paths []string
	err := c.db.Select(&paths, `
		SELECT a.path FROM attachments a
		JOIN emails e ON e.message_id = a.message_id AND e.account = a.account
		WHERE e.last_updated < ?`, cutoff)
	if err != nil {
		return faults.Storage("clear old cache", fmt.Errorf("failed to find old attachments: %w", err))
	}

	tx, err := c.db.Beginx()
	if err != nil {
		return faults.Storage("clear old cache", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM attachments WHERE (message_id, account) IN (
			SELECT message_id, account FROM emails WHERE last_updated < ?
		)`, cutoff); err != nil {
		return faults.Storage("clear old cache", fmt.Errorf("failed to delete old attachment rows: %w", err))
	}
	if _, err := tx.Exec("DELETE FROM emails WHERE last_updated < ?", cutoff); err != nil {
		return faults.Storage("clear old cache", fmt.Errorf("failed to delete old email rows: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return faults.Storage("clear old cache", fmt.Errorf("failed to commit: %w", err))
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove old blob", "path", path, "error", err)
		}
	}
	return nil
}

// Size returns email and attachment counts plus on-disk byte totals.
func (c *Cache) Size() (Size, error) {
	var size Size

	if err := c.db.Get(&size.EmailCount, "SELECT COUNT(*) FROM emails"); err != nil {
		return size, faults.Storage("cache size", fmt.Errorf("failed to count emails: %w", err))
	}

	row := c.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(size), 0) FROM attachments")
	if err := row.Scan(&size.AttachmentCount, &size.AttachmentBytes); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return size, faults.Storage("cache size", fmt.Errorf("failed to sum attachments: %w", err))
	}

	if fi, err := os.Stat(filepath.Join(c.dir, dbFilename)); err == nil {
		size.DatabaseBytes = fi.Size()
	}
	return size, nil
}

// Clear wipes every row and every blob file.
func (c *Cache) Clear() error {
	tx, err := c.db.Beginx()
	if err != nil {
		return faults.Storage("clear cache", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM attachments"); err != nil {
		return faults.Storage("clear cache", fmt.Errorf("failed to delete attachment rows: %w", err))
	}
	if _, err := tx.Exec("DELETE FROM emails"); err != nil {
		return faults.Storage("clear cache", fmt.Errorf("failed to delete email rows: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return faults.Storage("clear cache", fmt.Errorf("failed to commit: %w", err))
	}

	if err := os.RemoveAll(c.blobDir); err != nil {
		return faults.Storage("clear cache", fmt.Errorf("failed to remove blobs: %w", err))
	}
	if err := os.MkdirAll(c.blobDir, 0o755); err != nil {
		return faults.Storage("clear cache", fmt.Errorf("failed to recreate blob directory: %w", err))
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
