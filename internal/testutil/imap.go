// Package testutil provides in-process IMAP and SMTP servers for
// tests, backed by in-memory stores. No network beyond loopback, no
// TLS.
package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// Credentials of the default user the memory backend creates.
const (
	IMAPUsername = "username"
	IMAPPassword = "password"
)

// MailServer is an in-process IMAP server with an in-memory backend.
// The backend starts with one user and an INBOX pre-seeded with a
// single message, so tests wanting a clean folder should create one.
type MailServer struct {
	Address string
	Backend *memory.Backend

	server *server.Server
}

// StartMailServer starts an IMAP server on a random loopback port and
// registers its shutdown with the test cleanup.
func StartMailServer(t *testing.T) *MailServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("imap server stopped: %v", err)
		}
	}()

	// Give the accept loop a moment.
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() { _ = s.Close() })

	return &MailServer{
		Address: listener.Addr().String(),
		Backend: be,
		server:  s,
	}
}

// HostPort splits the server address for configs that want the parts.
func (s *MailServer) HostPort(t *testing.T) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.Address)
	if err != nil {
		t.Fatalf("failed to split address %q: %v", s.Address, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("failed to parse port %q: %v", portStr, err)
	}
	return host, port
}

// Connect logs a raw client into the server as the default user.
func (s *MailServer) Connect(t *testing.T) *imapclient.Client {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("failed to connect to test server: %v", err)
	}
	if err := c.Login(IMAPUsername, IMAPPassword); err != nil {
		_ = c.Logout()
		t.Fatalf("failed to login: %v", err)
	}
	t.Cleanup(func() { _ = c.Logout() })
	return c
}

// CreateFolder creates a folder on the server for the default user.
func (s *MailServer) CreateFolder(t *testing.T, name string) {
	t.Helper()

	c := s.Connect(t)
	if err := c.Create(name); err != nil {
		t.Fatalf("failed to create folder %q: %v", name, err)
	}
}

// TestMessage describes one message to append to a folder. Zero-value
// fields get sensible defaults.
type TestMessage struct {
	MessageID  string
	From       string
	To         string
	Subject    string
	Body       string
	Date       time.Time
	InReplyTo  string
	References []string
	// Attachment, when non-empty, adds one base64 file part named
	// AttachmentName.
	Attachment     []byte
	AttachmentName string
	Flags          []string
}

// Append stores a message in the folder and returns nothing; messages
// land in append order, so sequence numbers are predictable.
func (s *MailServer) Append(t *testing.T, folder string, msg TestMessage) {
	t.Helper()

	if msg.From == "" {
		msg.From = "sender@example.com"
	}
	if msg.To == "" {
		msg.To = "recipient@example.com"
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	if msg.Body == "" {
		msg.Body = "Test message body."
	}

	c := s.Connect(t)
	if _, err := c.Select(folder, false); err != nil {
		t.Fatalf("failed to select folder %q: %v", folder, err)
	}

	raw := BuildRFC822(msg)
	if err := c.Append(folder, msg.Flags, msg.Date, strings.NewReader(raw)); err != nil {
		t.Fatalf("failed to append message: %v", err)
	}
}

// BuildRFC822 renders a TestMessage to wire form. Plain text unless an
// attachment is set, in which case a two-part multipart/mixed body.
func BuildRFC822(msg TestMessage) string {
	var b strings.Builder

	if msg.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\r\n", msg.MessageID)
	}
	fmt.Fprintf(&b, "Date: %s\r\n", msg.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	if msg.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		fmt.Fprintf(&b, "References: %s\r\n", strings.Join(msg.References, " "))
	}

	if len(msg.Attachment) == 0 {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.Body)
		b.WriteString("\r\n")
		return b.String()
	}

	const boundary = "kestrel-test-boundary"
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	name := msg.AttachmentName
	if name == "" {
		name = "file.bin"
	}
	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: application/octet-stream; name=%q\r\n", name)
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n", name)
	b.WriteString("\r\n")
	b.WriteString(encodeBase64Wrapped(msg.Attachment))
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return b.String()
}

// SeenFlag mirrors the protocol constant for test readability.
const SeenFlag = imap.SeenFlag
