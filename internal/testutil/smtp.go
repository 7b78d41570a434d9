package testutil

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ReceivedMessage is one message accepted by the relay server.
type ReceivedMessage struct {
	From string
	To   []string
	Data []byte
}

// RelayBackend collects submitted messages in memory. Any credentials
// authenticate.
type RelayBackend struct {
	mu       sync.Mutex
	messages []ReceivedMessage
}

// NewSession implements smtp.Backend.
func (b *RelayBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &relaySession{backend: b}, nil
}

// Messages returns a snapshot of everything accepted so far.
func (b *RelayBackend) Messages() []ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ReceivedMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

type relaySession struct {
	backend *RelayBackend
	from    string
	to      []string
}

func (s *relaySession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (s *relaySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error { return nil }), nil
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, ReceivedMessage{
		From: s.from,
		To:   s.to,
		Data: data,
	})
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error { return nil }

// RelayServer is an in-process SMTP server that accepts everything.
type RelayServer struct {
	Address string
	Backend *RelayBackend

	server *smtp.Server
}

// StartRelayServer starts an SMTP server on a random loopback port and
// registers its shutdown with the test cleanup.
func StartRelayServer(t *testing.T) *RelayServer {
	t.Helper()

	be := &RelayBackend{}
	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("smtp server stopped: %v", err)
		}
	}()

	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() { _ = s.Close() })

	return &RelayServer{
		Address: listener.Addr().String(),
		Backend: be,
		server:  s,
	}
}

// HostPort splits the server address for configs that want the parts.
func (s *RelayServer) HostPort(t *testing.T) (string, int) {
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

// encodeBase64Wrapped renders content as base64 wrapped at 76 columns,
// the usual transfer-encoding line length.
func encodeBase64Wrapped(content []byte) string {
	enc := base64.StdEncoding.EncodeToString(content)
	var b strings.Builder
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	return b.String()
}
