// Package engine is the orchestration layer over the protocol client,
// parser, attachment store, offline cache, and thread grouping. It
// owns the online/offline decision: live fetches are written through
// to the cache, and when no session can be established the same
// pagination contract is served from the mirror.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/kestrelmail/kestrel/internal/attachments"
	"github.com/kestrelmail/kestrel/internal/cache"
	"github.com/kestrelmail/kestrel/internal/config"
	"github.com/kestrelmail/kestrel/internal/credentials"
	"github.com/kestrelmail/kestrel/internal/faults"
	"github.com/kestrelmail/kestrel/internal/imap"
	"github.com/kestrelmail/kestrel/internal/models"
	"github.com/kestrelmail/kestrel/internal/parser"
	"github.com/kestrelmail/kestrel/internal/smtp"
	"github.com/kestrelmail/kestrel/internal/thread"
)

// FetchResult is what a fetch call hands back to the caller: the flat
// page of emails, the threaded view when requested, and whether the
// page came from the offline mirror.
type FetchResult struct {
	Emails    []*models.Email
	Threads   []*models.Thread
	FromCache bool
}

// Engine serializes all protocol access through one mailbox session
// and one submission session. It is not safe for concurrent use; the
// caller provides external serialization, matching the single-session
// protocol model.
type Engine struct {
	account config.Account
	store   *attachments.Store
	cache   *cache.Cache
	creds   credentials.Provider
	logger  *slog.Logger

	client *imap.Client
	sender *smtp.Sender
	parser *parser.Parser

	// lastThreads is the thread view of the most recent threaded
	// fetch; the thread query surface reads from it.
	lastThreads []*models.Thread
}

// New creates an engine for one account. Sessions are established
// lazily on first use, with the secret pulled from the credential
// provider.
func New(account config.Account, store *attachments.Store, c *cache.Cache, creds credentials.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		account: account,
		store:   store,
		cache:   c,
		creds:   creds,
		parser:  parser.New(store, logger),
		logger:  logger,
	}
}

// Close drops both sessions. The cache and attachment store belong to
// the caller and stay open.
func (e *Engine) Close() {
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			e.logger.Debug("failed to close mailbox session", "error", err)
		}
		e.client = nil
	}
	if e.sender != nil {
		if err := e.sender.Close(); err != nil {
			e.logger.Debug("failed to close submission session", "error", err)
		}
		e.sender = nil
	}
}

// connect ensures a live mailbox session, establishing one if needed.
// A failed attempt leaves no session behind.
func (e *Engine) connect() (*imap.Client, error) {
	if e.client != nil && e.client.Connected() {
		return e.client, nil
	}

	secret, err := e.creds.Secret(e.account.ID)
	if err != nil {
		return nil, faults.Connection("connect", fmt.Errorf("failed to get account secret: %w", err))
	}

	client := imap.NewClient(imap.Config{
		Host:     e.account.IMAPHost,
		Port:     e.account.IMAPPort,
		UseTLS:   e.account.IMAPTLS,
		Username: e.account.Address,
		Password: secret,
	}, e.logger)

	if err := client.Connect(); err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

// connectSend ensures a live submission session.
func (e *Engine) connectSend() (*smtp.Sender, error) {
	if e.sender != nil && e.sender.Connected() {
		return e.sender, nil
	}

	secret, err := e.creds.Secret(e.account.ID)
	if err != nil {
		return nil, faults.Connection("connect send", fmt.Errorf("failed to get account secret: %w", err))
	}

	sender := smtp.NewSender(smtp.Config{
		Host:     e.account.SMTPHost,
		Port:     e.account.SMTPPort,
		UseTLS:   e.account.SMTPTLS,
		Insecure: e.account.Insecure,
		Username: e.account.Address,
		Password: secret,
	}, e.logger)

	if err := sender.Connect(); err != nil {
		return nil, err
	}
	e.sender = sender
	return sender, nil
}

// FetchEmails returns one page of a folder, newest first. With
// useCache it reads the mirror directly; otherwise it fetches live,
// writes every parsed email through to the cache, and falls back to
// the mirror with the same folder/limit/offset when the live path
// fails. With threaded set, the page is additionally grouped into
// conversations.
func (e *Engine) FetchEmails(folder string, limit, offset int, useCache, threaded bool) (*FetchResult, error) {
	if useCache {
		return e.fetchFromCache(folder, limit, offset, threaded)
	}

	client, err := e.connect()
	if err != nil {
		e.logger.Warn("live session unavailable, falling back to cache",
			"folder", folder, "error", err)
		return e.fetchFromCache(folder, limit, offset, threaded)
	}

	raws, err := client.FetchRange(folder, offset, limit)
	if err != nil {
		e.logger.Warn("live fetch failed, falling back to cache",
			"folder", folder, "error", err)
		return e.fetchFromCache(folder, limit, offset, threaded)
	}

	emails := e.parser.ParseBatch(raws, e.account.ID, folder)

	// Opportunistic write-through: a storage failure never discards
	// the in-memory result the caller is about to receive.
	for _, email := range emails {
		if err := e.cache.CacheEmail(e.account.ID, folder, email); err != nil {
			e.logger.Warn("failed to cache email",
				"folder", folder, "message_id", email.MessageID, "error", err)
		}
	}

	result := &FetchResult{Emails: emails}
	if threaded {
		result.Threads = thread.Process(emails)
		e.lastThreads = result.Threads
	}
	return result, nil
}

// fetchFromCache serves a page from the offline mirror.
func (e *Engine) fetchFromCache(folder string, limit, offset int, threaded bool) (*FetchResult, error) {
	emails, err := e.cache.CachedEmails(e.account.ID, folder, limit, offset)
	if err != nil {
		return nil, err
	}

	result := &FetchResult{Emails: emails, FromCache: true}
	if threaded {
		result.Threads = thread.Process(emails)
		e.lastThreads = result.Threads
	}
	return result, nil
}

// SendEmail builds and submits an outbound message from the account
// address. No retry on failure; the outcome reports upward.
func (e *Engine) SendEmail(to []string, subject, body string, atts []models.AttachmentPayload) error {
	sender, err := e.connectSend()
	if err != nil {
		return err
	}

	return sender.Send(models.OutgoingMessage{
		From:        e.account.Address,
		To:          to,
		Subject:     subject,
		Body:        body,
		Attachments: atts,
	})
}

// MoveEmail moves a message out of the active folder. The message must
// come from the folder of the last fetch or selection.
func (e *Engine) MoveEmail(messageID uint32, targetFolder string) error {
	client, err := e.ensureSelected()
	if err != nil {
		return err
	}
	return client.Move(messageID, targetFolder)
}

// MarkRead sets the seen flag on a message in the active folder.
func (e *Engine) MarkRead(messageID uint32) error {
	return e.mutateFlag(messageID, models.FlagSeen, true)
}

// MarkUnread clears the seen flag on a message in the active folder.
func (e *Engine) MarkUnread(messageID uint32) error {
	return e.mutateFlag(messageID, models.FlagSeen, false)
}

// MarkFlagged sets the flagged flag on a message in the active folder.
func (e *Engine) MarkFlagged(messageID uint32) error {
	return e.mutateFlag(messageID, models.FlagFlagged, true)
}

// MarkUnflagged clears the flagged flag on a message in the active
// folder.
func (e *Engine) MarkUnflagged(messageID uint32) error {
	return e.mutateFlag(messageID, models.FlagFlagged, false)
}

func (e *Engine) mutateFlag(messageID uint32, flag string, add bool) error {
	client, err := e.ensureSelected()
	if err != nil {
		return err
	}
	return client.MutateFlag(messageID, flag, add)
}

// ensureSelected returns a connected client with a selected folder,
// defaulting to INBOX when nothing was selected yet.
func (e *Engine) ensureSelected() (*imap.Client, error) {
	client, err := e.connect()
	if err != nil {
		return nil, err
	}
	if client.SelectedFolder() == "" {
		if _, err := client.SelectFolder("INBOX"); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// ListFolders lists every folder of the account.
func (e *Engine) ListFolders() ([]models.Folder, error) {
	client, err := e.connect()
	if err != nil {
		return nil, err
	}
	return client.ListFolders()
}

// FolderStatus returns the counts of a folder.
func (e *Engine) FolderStatus(name string) (models.FolderStatus, error) {
	client, err := e.connect()
	if err != nil {
		return models.FolderStatus{}, err
	}
	return client.FolderStatus(name)
}

// SelectFolder makes a folder the active context for flag and move
// operations.
func (e *Engine) SelectFolder(name string) (models.FolderStatus, error) {
	client, err := e.connect()
	if err != nil {
		return models.FolderStatus{}, err
	}
	return client.SelectFolder(name)
}

// CreateFolder creates a folder on the server.
func (e *Engine) CreateFolder(name string) error {
	client, err := e.connect()
	if err != nil {
		return err
	}
	return client.CreateFolder(name)
}

// DeleteFolder deletes a folder on the server.
func (e *Engine) DeleteFolder(name string) error {
	client, err := e.connect()
	if err != nil {
		return err
	}
	return client.DeleteFolder(name)
}

// RenameFolder renames a folder on the server.
func (e *Engine) RenameFolder(name, newName string) error {
	client, err := e.connect()
	if err != nil {
		return err
	}
	return client.RenameFolder(name, newName)
}

// GetThreadForEmail returns the conversation containing the message,
// from the most recent threaded view. With no threaded fetch yet, the
// view is computed from the cached INBOX.
func (e *Engine) GetThreadForEmail(messageID uint32) (*models.Thread, error) {
	threads, err := e.threads()
	if err != nil {
		return nil, err
	}
	return thread.ThreadForMessage(threads, messageID), nil
}

// GetThreadsBySubject returns conversations matching a normalized
// subject.
func (e *Engine) GetThreadsBySubject(subject string) ([]*models.Thread, error) {
	threads, err := e.threads()
	if err != nil {
		return nil, err
	}
	return thread.ThreadsBySubject(threads, subject), nil
}

// GetThreadsByParticipant returns conversations a participant address
// took part in.
func (e *Engine) GetThreadsByParticipant(address string) ([]*models.Thread, error) {
	threads, err := e.threads()
	if err != nil {
		return nil, err
	}
	return thread.ThreadsByParticipant(threads, address), nil
}

// threads returns the current thread view, computing one from the
// cached INBOX when no threaded fetch happened yet.
func (e *Engine) threads() ([]*models.Thread, error) {
	if e.lastThreads != nil {
		return e.lastThreads, nil
	}

	emails, err := e.cache.CachedEmails(e.account.ID, "INBOX", threadScanLimit, 0)
	if err != nil {
		return nil, err
	}
	e.lastThreads = thread.Process(emails)
	return e.lastThreads, nil
}

// threadScanLimit bounds the cache read backing the thread query
// surface when no threaded fetch has run.
const threadScanLimit = 500
