package models

import (
	"net/textproto"
	"time"
)

// Standard IMAP system flags as they appear on the wire.
const (
	FlagSeen     = "\\Seen"
	FlagAnswered = "\\Answered"
	FlagFlagged  = "\\Flagged"
	FlagDeleted  = "\\Deleted"
	FlagDraft    = "\\Draft"
	FlagRecent   = "\\Recent"
)

// Folder describes one mailbox on the server, with its name decoded
// from the wire encoding and the attributes the server reported.
type Folder struct {
	Name       string   `json:"name"`
	Attributes []string `json:"attributes,omitempty"`
}

// FolderStatus holds the message counts reported by a STATUS call.
type FolderStatus struct {
	Name     string `json:"name"`
	Messages uint32 `json:"messages"`
	Unseen   uint32 `json:"unseen"`
	Recent   uint32 `json:"recent"`
}

// Recipients holds the per-field recipient lists of a message.
// Each list preserves the header order and contains bare addresses.
type Recipients struct {
	To  []string `json:"to,omitempty"`
	Cc  []string `json:"cc,omitempty"`
	Bcc []string `json:"bcc,omitempty"`
}

// Metadata carries the raw header mapping and content type of a message.
// Threading reads References and In-Reply-To from here; nothing else in
// the engine depends on unmapped headers.
type Metadata struct {
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
}

// Header returns the header value for key, matching case-insensitively.
func (m Metadata) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[textproto.CanonicalMIMEHeaderKey(key)]
}

// Email is one mailbox message as produced by the parser or
// reconstructed from the cache. It is a value object: server-side state
// changes (marking read, moving) go through the protocol client, never
// through mutation of an Email.
type Email struct {
	MessageID   uint32       `json:"message_id"`
	AccountID   string       `json:"account_id"`
	Folder      string       `json:"folder"`
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Recipients  Recipients   `json:"recipients"`
	Date        time.Time    `json:"date"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Flags       []string     `json:"flags,omitempty"`
	Metadata    Metadata     `json:"metadata"`
}

// HasAttachments reports whether the email carries any attachments.
// Derived from the attachment list so it can never drift out of sync
// with a separately stored boolean.
func (e *Email) HasAttachments() bool {
	return len(e.Attachments) > 0
}

// HasFlag reports whether the given flag is set on the email.
func (e *Email) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Attachment is the metadata of one stored binary payload. The bytes
// live on disk at StoragePath; ContentHash is the SHA-256 digest of the
// raw content, so identical payloads share a hash regardless of name.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
	StoragePath string `json:"storage_path"`
}

// AttachmentPayload is an extracted attachment that has not been stored
// yet: the original untrusted filename plus the decoded raw bytes.
type AttachmentPayload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// OutgoingMessage is a fully formed message to hand to the submission
// session.
type OutgoingMessage struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	Attachments []AttachmentPayload
}
