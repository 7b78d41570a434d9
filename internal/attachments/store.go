// Package attachments implements durable, de-duplicating storage for
// binary payloads extracted from messages. Content is addressed by the
// SHA-256 of its bytes: the store keeps one object per distinct
// content and hardlinks it into a per-account, per-message directory,
// so identical payloads are stored once regardless of filename or
// source message.
package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kestrelmail/kestrel/internal/models"
)

// objectsDir holds the content-addressed objects, one per distinct
// payload, next to the per-account directories.
const objectsDir = "objects"

// ErrNotFound is returned by Path when no stored attachment matches.
var ErrNotFound = errors.New("attachment not found")

// Info aggregates storage statistics.
type Info struct {
	TotalBytes int64
	FileCount  int
	Accounts   int
}

// Store persists attachment payloads under a base directory.
type Store struct {
	baseDir string
	logger  *slog.Logger
}

// NewStore creates the base directory if needed and returns the store.
func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(baseDir, objectsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

// Save persists the payloads of one message and returns the metadata
// of every attachment that was stored. A payload that fails to save is
// skipped and logged; it never fails the batch.
func (s *Store) Save(accountID string, messageID uint32, payloads []models.AttachmentPayload) []models.Attachment {
	messageDir := filepath.Join(s.accountDir(accountID), fmt.Sprintf("%d", messageID))

	saved := make([]models.Attachment, 0, len(payloads))
	for _, p := range payloads {
		att, err := s.saveOne(messageDir, p)
		if err != nil {
			s.logger.Warn("failed to save attachment",
				"account", accountID, "message_id", messageID,
				"filename", p.Filename, "error", err)
			continue
		}
		saved = append(saved, att)
	}
	return saved
}

// saveOne writes (or links) a single payload into the message directory.
func (s *Store) saveOne(messageDir string, p models.AttachmentPayload) (models.Attachment, error) {
	sum := sha256.Sum256(p.Content)
	hash := hex.EncodeToString(sum[:])

	objectPath, err := s.ensureObject(hash, p.Content)
	if err != nil {
		return models.Attachment{}, err
	}

	if err := os.MkdirAll(messageDir, 0o755); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create message directory: %w", err)
	}

	storedName := storedFilename(p.Filename, p.ContentType, hash)
	storedPath := filepath.Join(messageDir, storedName)

	if err := linkOrCopy(objectPath, storedPath); err != nil {
		return models.Attachment{}, err
	}

	return models.Attachment{
		Filename:    p.Filename,
		ContentType: p.ContentType,
		SizeBytes:   int64(len(p.Content)),
		ContentHash: hash,
		StoragePath: storedPath,
	}, nil
}

// ensureObject writes the content object for hash if it does not exist
// yet and returns its path. The write goes through a temp file so a
// crash never leaves a truncated object behind.
func (s *Store) ensureObject(hash string, content []byte) (string, error) {
	dir := filepath.Join(s.baseDir, objectsDir, hash[:2])
	path := filepath.Join(dir, hash[2:])

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}
	return path, nil
}

// linkOrCopy hardlinks src to dst, copying when the filesystem does
// not support links. An existing dst is left alone: same name implies
// same content because the name embeds the hash fragment.
func linkOrCopy(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read object for copy: %w", err)
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

// Path looks up a stored attachment by its original filename, matching
// on the sanitized name prefix. Returns ErrNotFound when the message
// directory does not exist or nothing matches.
func (s *Store) Path(accountID string, messageID uint32, filename string) (string, error) {
	messageDir := filepath.Join(s.accountDir(accountID), fmt.Sprintf("%d", messageID))

	entries, err := os.ReadDir(messageDir)
	if err != nil {
		return "", ErrNotFound
	}

	base, _ := splitName(filename)
	prefix := sanitizeName(base)
	if prefix == "" {
		prefix = "attachment"
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(names)
	return filepath.Join(messageDir, names[0]), nil
}

// Cleanup deletes stored files older than maxAgeDays, then removes any
// directory left empty.
func (s *Store) Cleanup(maxAgeDays int) error {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	var dirs []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.baseDir {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to remove old attachment", "path", path, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk attachment storage: %w", err)
	}

	// Deepest directories first so emptied parents fall too.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return nil
}

// Info returns aggregate statistics over the per-message storage (the
// content objects are hardlinks of the same bytes and are not counted
// twice).
func (s *Store) Info() (Info, error) {
	var info Info

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return info, fmt.Errorf("failed to read attachment directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() || e.Name() == objectsDir {
			continue
		}
		info.Accounts++

		accountDir := filepath.Join(s.baseDir, e.Name())
		err := filepath.WalkDir(accountDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			info.FileCount++
			info.TotalBytes += fi.Size()
			return nil
		})
		if err != nil {
			return info, fmt.Errorf("failed to walk account directory: %w", err)
		}
	}
	return info, nil
}

// accountDir maps an account ID to its directory, restricted to a safe
// character subset.
func (s *Store) accountDir(accountID string) string {
	var b strings.Builder
	for _, r := range accountID {
		if isSafeRune(r) {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "account"
	}
	return filepath.Join(s.baseDir, name)
}

// storedFilename builds the on-disk name: sanitized base, an 8-char
// hash fragment against collisions between same-named attachments, and
// an extension recovered from the content type when sanitizing ate it.
func storedFilename(original, contentType, hash string) string {
	base, ext := splitName(original)

	safeBase := sanitizeName(base)
	if safeBase == "" {
		safeBase = "attachment"
	}
	safeExt := sanitizeName(ext)
	if safeExt == "" && contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			safeExt = strings.TrimPrefix(exts[0], ".")
		}
	}

	name := fmt.Sprintf("%s_%s", safeBase, hash[:8])
	if safeExt != "" {
		name += "." + safeExt
	}
	return name
}

// splitName splits a filename into base and extension (without dot).
func splitName(filename string) (base, ext string) {
	ext = filepath.Ext(filename)
	base = strings.TrimSuffix(filepath.Base(filename), ext)
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}
	ext = strings.TrimPrefix(ext, ".")
	return base, ext
}

// sanitizeName keeps alphanumerics plus "._-" and falls back to
// "attachment" when nothing survives.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if isSafeRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}
