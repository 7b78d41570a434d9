// Package smtp implements the submission side of an account: one
// authenticated session against the outbound relay. Like the mailbox
// client it never retries internally and is not safe for concurrent
// use without external serialization.
package smtp

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime"

	"github.com/kestrelmail/kestrel/internal/faults"
	"github.com/kestrelmail/kestrel/internal/models"
)

// Config holds everything needed to establish a submission session.
// Insecure skips both implicit TLS and the STARTTLS upgrade; it exists
// for local test servers only.
type Config struct {
	Host     string
	Port     int
	UseTLS   bool
	Insecure bool
	Username string
	Password string
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Sender manages one authenticated submission session.
type Sender struct {
	cfg    Config
	logger *slog.Logger

	c *smtp.Client
}

// NewSender creates a disconnected sender. Call Connect before use.
func NewSender(cfg Config, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{cfg: cfg, logger: logger}
}

// Connect establishes the submission session: implicit TLS when the
// account says so, STARTTLS upgrade otherwise, then AUTH PLAIN.
func (s *Sender) Connect() error {
	var (
		c   *smtp.Client
		err error
	)
	switch {
	case s.cfg.Insecure:
		c, err = smtp.Dial(s.cfg.Addr())
	case s.cfg.UseTLS:
		c, err = smtp.DialTLS(s.cfg.Addr(), nil)
	default:
		c, err = smtp.DialStartTLS(s.cfg.Addr(), nil)
	}
	if err != nil {
		return faults.Connection("connect send", fmt.Errorf("failed to dial %s: %w", s.cfg.Addr(), err))
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := c.Auth(auth); err != nil {
			_ = c.Close()
			return faults.Connection("connect send", fmt.Errorf("failed to authenticate: %w", err))
		}
	}

	s.c = c
	s.logger.Debug("smtp session established", "host", s.cfg.Host, "user", s.cfg.Username)
	return nil
}

// Connected reports whether a live session exists.
func (s *Sender) Connected() bool {
	return s.c != nil
}

// Close ends the submission session.
func (s *Sender) Close() error {
	if s.c == nil {
		return nil
	}
	err := s.c.Quit()
	s.c = nil
	if err != nil {
		return fmt.Errorf("failed to quit: %w", err)
	}
	return nil
}

// Send submits a fully formed outbound message, attachments included,
// over the live session.
func (s *Sender) Send(msg models.OutgoingMessage) error {
	if s.c == nil {
		return faults.Connection("send", fmt.Errorf("no live session"))
	}

	raw, err := buildMessage(msg)
	if err != nil {
		return faults.Parse("send", fmt.Errorf("failed to build message: %w", err))
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)
	if len(recipients) == 0 {
		return faults.Protocol("send", fmt.Errorf("message has no recipients"))
	}

	if err := s.c.SendMail(msg.From, recipients, bytes.NewReader(raw)); err != nil {
		return faults.Protocol("send", fmt.Errorf("failed to submit message: %w", err))
	}

	s.logger.Debug("message submitted", "from", msg.From, "recipients", len(recipients))
	return nil
}

// buildMessage renders an outgoing message to its wire form.
func buildMessage(msg models.OutgoingMessage) ([]byte, error) {
	b := enmime.Builder().
		From("", msg.From).
		Subject(msg.Subject).
		Text([]byte(msg.Body))

	for _, to := range msg.To {
		b = b.To("", to)
	}
	for _, cc := range msg.Cc {
		b = b.CC("", cc)
	}
	for _, bcc := range msg.Bcc {
		b = b.BCC("", bcc)
	}
	for _, att := range msg.Attachments {
		b = b.AddAttachment(att.Content, att.ContentType, att.Filename)
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to assemble MIME parts: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}
