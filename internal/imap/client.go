// Package imap implements the protocol client for the mailbox side of
// an account: folder listing and selection, ranged fetches, flag and
// folder mutation. One Client holds one live session and is not safe
// for concurrent use; callers serialize access or hold one client per
// goroutine. Retry policy belongs to the caller.
package imap

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/kestrelmail/kestrel/internal/faults"
)

// dialTimeout bounds session establishment.
const dialTimeout = 5 * time.Second

// Config holds everything needed to establish a mailbox session.
type Config struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Client manages one authenticated session against a mailbox server.
type Client struct {
	cfg    Config
	logger *slog.Logger

	c *client.Client
	// selected is the active folder of the session, empty until the
	// first successful SelectFolder.
	selected string
}

// NewClient creates a disconnected client. Call Connect before use.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Connect establishes the session and authenticates. On failure no
// internal state survives; a fresh Connect attempt is required.
func (c *Client) Connect() error {
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		conn *client.Client
		err  error
	)
	if c.cfg.UseTLS {
		conn, err = client.DialWithDialerTLS(dialer, c.cfg.Addr(), nil)
	} else {
		conn, err = client.DialWithDialer(dialer, c.cfg.Addr())
	}
	if err != nil {
		return faults.Connection("connect", fmt.Errorf("failed to dial %s: %w", c.cfg.Addr(), err))
	}

	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = conn.Logout()
		return faults.Connection("connect", fmt.Errorf("failed to authenticate: %w", err))
	}

	c.c = conn
	c.selected = ""
	c.logger.Debug("imap session established", "host", c.cfg.Host, "user", c.cfg.Username)
	return nil
}

// Connected reports whether a live session exists.
func (c *Client) Connected() bool {
	return c.c != nil
}

// SelectedFolder returns the active folder of the session, or "" when
// no folder has been selected yet.
func (c *Client) SelectedFolder() string {
	return c.selected
}

// Close logs out and drops the session.
func (c *Client) Close() error {
	if c.c == nil {
		return nil
	}
	err := c.c.Logout()
	c.c = nil
	c.selected = ""
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// conn returns the live session or a connection fault.
func (c *Client) conn(op string) (*client.Client, error) {
	if c.c == nil {
		return nil, faults.Connection(op, fmt.Errorf("no live session"))
	}
	return c.c, nil
}

// selectRaw selects a folder and records it as active.
func (c *Client) selectRaw(op, folder string) (*imap.MailboxStatus, error) {
	conn, err := c.conn(op)
	if err != nil {
		return nil, err
	}

	mbox, err := conn.Select(folder, false)
	if err != nil {
		return nil, faults.Protocol(op, fmt.Errorf("failed to select folder %s: %w", folder, err))
	}

	c.selected = folder
	return mbox, nil
}
