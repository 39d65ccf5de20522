package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/models"
)

// Endpoint is an IMAP server address plus how to secure the connection.
type Endpoint struct {
	Host    string
	Port    int
	TLSMode models.TLSMode
}

func (e Endpoint) addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// EndpointFor returns the IMAP side of a bound mailbox.
func EndpointFor(mailbox *models.BoundMailbox) Endpoint {
	return Endpoint{Host: mailbox.IMAPServer, Port: mailbox.IMAPPort, TLSMode: mailbox.IMAPTLSMode}
}

// Dialer opens IMAP connections with explicit timeouts.
type Dialer struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	// TLSConfig is cloned per connection; ServerName is filled in when empty.
	TLSConfig *tls.Config
}

// NewDialer returns a Dialer with the given timeouts.
func NewDialer(dialTimeout, commandTimeout time.Duration) *Dialer {
	return &Dialer{DialTimeout: dialTimeout, CommandTimeout: commandTimeout}
}

func (d *Dialer) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// Dial connects to ep and secures the connection per its TLS mode.
func (d *Dialer) Dial(ctx context.Context, ep Endpoint) (*client.Client, error) {
	netDialer := &net.Dialer{Timeout: d.DialTimeout}

	var conn net.Conn
	var err error
	if ep.TLSMode == models.TLSModeImplicit {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: d.tlsConfig(ep.Host)}
		conn, err = tlsDialer.DialContext(ctx, "tcp", ep.addr())
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", ep.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server %s: %w", ep.addr(), err)
	}

	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read IMAP greeting from %s: %w", ep.addr(), err)
	}
	c.Timeout = d.CommandTimeout

	if ep.TLSMode == models.TLSModeStartTLS {
		if err := c.StartTLS(d.tlsConfig(ep.Host)); err != nil {
			disconnect(c)
			return nil, fmt.Errorf("failed to start TLS with %s: %w", ep.addr(), err)
		}
	}

	return c, nil
}

// Connect dials and logs in. A rejected login is an authentication error.
func (d *Dialer) Connect(ctx context.Context, ep Endpoint, username, password string) (*client.Client, error) {
	c, err := d.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}

	if err := c.Login(username, password); err != nil {
		disconnect(c)
		return nil, apperr.WrapErr(apperr.ErrAuthentication, err, "IMAP login rejected")
	}

	return c, nil
}

// Verify checks that the credentials are accepted, then logs out.
// Network problems are returned as-is.
func (d *Dialer) Verify(ctx context.Context, ep Endpoint, username, password string) error {
	c, err := d.Connect(ctx, ep, username, password)
	if err != nil {
		return err
	}
	disconnect(c)
	return nil
}

// disconnect logs out, falling back to closing the socket.
func disconnect(c *client.Client) {
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
	}
}
