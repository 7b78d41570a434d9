// Package parser turns raw wire-format messages into Email entities.
// Parsing is lenient where the wire is messy: one malformed message is
// logged and skipped without failing the batch, and an unparsable date
// falls back to the time of parsing rather than aborting.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/kestrelmail/kestrel/internal/attachments"
	"github.com/kestrelmail/kestrel/internal/faults"
	"github.com/kestrelmail/kestrel/internal/imap"
	"github.com/kestrelmail/kestrel/internal/models"
)

// Parser converts raw messages to Email entities, writing extracted
// attachment payloads through the attachment store.
type Parser struct {
	store  *attachments.Store
	logger *slog.Logger
}

// New creates a parser backed by the given attachment store.
func New(store *attachments.Store, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{store: store, logger: logger}
}

// ParseBatch parses a batch of raw messages. A message that fails to
// parse is logged and omitted; it never stops the rest of the batch.
func (p *Parser) ParseBatch(raws []imap.RawMessage, accountID, folder string) []*models.Email {
	emails := make([]*models.Email, 0, len(raws))
	for _, raw := range raws {
		email, err := p.Parse(raw, accountID, folder)
		if err != nil {
			p.logger.Warn("skipping malformed message",
				"account", accountID, "folder", folder,
				"message_id", raw.SeqNum, "error", err)
			continue
		}
		emails = append(emails, email)
	}
	return emails
}

// Parse converts one raw message into an Email entity. Attachment
// payloads are decoded and persisted via the attachment store; the
// returned entity references their stored locations.
func (p *Parser) Parse(raw imap.RawMessage, accountID, folder string) (*models.Email, error) {
	if len(raw.Body) == 0 {
		return nil, faults.Parse("parse message", fmt.Errorf("message %d has no body", raw.SeqNum))
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, faults.Parse("parse message", fmt.Errorf("failed to read envelope: %w", err))
	}

	email := &models.Email{
		MessageID:  raw.SeqNum,
		AccountID:  accountID,
		Folder:     folder,
		Subject:    env.GetHeader("Subject"),
		Sender:     p.senderAddress(env),
		Recipients: p.recipients(env),
		Date:       p.parseDate(env.GetHeader("Date"), raw.SeqNum),
		Body:       env.Text,
		Flags:      append([]string(nil), raw.Flags...),
		Metadata:   buildMetadata(env),
	}

	payloads := attachmentPayloads(env)
	if len(payloads) > 0 {
		email.Attachments = p.store.Save(accountID, raw.SeqNum, payloads)
	}

	return email, nil
}

// senderAddress extracts the bare sender address, falling back to the
// raw header when the address does not parse.
func (p *Parser) senderAddress(env *enmime.Envelope) string {
	from := env.GetHeader("From")
	addrs, err := env.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(from)
	}
	return addrs[0].Address
}

// recipients extracts bare addresses per recipient header, preserving
// header order. A field that fails to parse is left empty rather than
// failing the message.
func (p *Parser) recipients(env *enmime.Envelope) models.Recipients {
	extract := func(field string) []string {
		if env.GetHeader(field) == "" {
			return nil
		}
		addrs, err := env.AddressList(field)
		if err != nil {
			p.logger.Debug("failed to parse address header", "field", field, "error", err)
			return nil
		}
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Address)
		}
		return out
	}

	return models.Recipients{
		To:  extract("To"),
		Cc:  extract("Cc"),
		Bcc: extract("Bcc"),
	}
}

// parseDate parses the Date header, falling back to now so one bad
// date never discards the message or the batch.
func (p *Parser) parseDate(header string, seqNum uint32) time.Time {
	if header == "" {
		return time.Now()
	}
	date, err := mail.ParseDate(header)
	if err != nil {
		p.logger.Debug("unparsable date header, using current time",
			"message_id", seqNum, "date", header)
		return time.Now()
	}
	return date
}

// buildMetadata copies the raw headers (first value per key) plus the
// content type. Threading reads References and In-Reply-To from here.
func buildMetadata(env *enmime.Envelope) models.Metadata {
	headers := make(map[string]string)
	if env.Root != nil {
		for key, values := range env.Root.Header {
			if len(values) > 0 {
				headers[key] = values[0]
			}
		}
	}
	return models.Metadata{
		Headers:     headers,
		ContentType: env.GetHeader("Content-Type"),
	}
}

// attachmentPayloads collects every leaf part carrying a filename,
// with transfer encodings already decoded by the MIME reader.
func attachmentPayloads(env *enmime.Envelope) []models.AttachmentPayload {
	var payloads []models.AttachmentPayload
	collect := func(parts []*enmime.Part) {
		for _, part := range parts {
			if part == nil || part.FileName == "" {
				continue
			}
			payloads = append(payloads, models.AttachmentPayload{
				Filename:    part.FileName,
				ContentType: part.ContentType,
				Content:     part.Content,
			})
		}
	}
	collect(env.Attachments)
	collect(env.Inlines)
	collect(env.OtherParts)
	return payloads
}
