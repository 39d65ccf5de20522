// Package smtp delivers serialized messages, either through the local relay or
// through a bound mailbox's own submission server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/models"
)

// Endpoint is an SMTP server address plus how to secure the connection.
type Endpoint struct {
	Host    string
	Port    int
	TLSMode models.TLSMode
}

func (e Endpoint) addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Credentials authenticate with SASL PLAIN.
type Credentials struct {
	Username string
	Password string
}

// Dialer opens SMTP sessions with explicit timeouts.
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

// Dial connects to ep and performs the TLS handshake the mode asks for.
// The returned client has not authenticated yet.
func (d *Dialer) Dial(ctx context.Context, ep Endpoint) (*smtp.Client, error) {
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
		return nil, fmt.Errorf("failed to connect to SMTP server %s: %w", ep.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var c *smtp.Client
	switch ep.TLSMode {
	case models.TLSModeStartTLS:
		c, err = smtp.NewClientStartTLS(conn, d.tlsConfig(ep.Host))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to start TLS with %s: %w", ep.addr(), err)
		}
	default:
		c = smtp.NewClient(conn)
	}

	if d.CommandTimeout > 0 {
		c.CommandTimeout = d.CommandTimeout
		c.SubmissionTimeout = d.CommandTimeout
	}
	return c, nil
}

// Verify checks that creds are accepted by ep, then hangs up.
// Rejected credentials are an authentication error; network problems are returned as-is.
func (d *Dialer) Verify(ctx context.Context, ep Endpoint, creds Credentials) error {
	c, err := d.Dial(ctx, ep)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := authenticate(c, creds); err != nil {
		return err
	}
	_ = c.Quit()
	return nil
}

// Send transmits raw to every address in to within one SMTP transaction.
// creds may be nil for an unauthenticated relay.
func (d *Dialer) Send(ctx context.Context, ep Endpoint, creds *Credentials, from string, to []string, raw []byte) error {
	c, err := d.Dial(ctx, ep)
	if err != nil {
		return apperr.WrapErr(apperr.ErrDelivery, err, "SMTP server unreachable")
	}
	defer c.Close()

	if creds != nil {
		if err := authenticate(c, *creds); err != nil {
			return err
		}
	}

	if err := c.SendMail(from, to, bytesReader(raw)); err != nil {
		return apperr.WrapErr(apperr.ErrDelivery, err, "SMTP transfer failed")
	}

	// The message was accepted at end of DATA; a failed QUIT does not undo that.
	_ = c.Quit()
	return nil
}

func authenticate(c *smtp.Client, creds Credentials) error {
	err := c.Auth(sasl.NewPlainClient("", creds.Username, creds.Password))
	if err == nil {
		return nil
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return apperr.WrapErr(apperr.ErrAuthentication, err, "SMTP login rejected")
	}
	return fmt.Errorf("SMTP login failed: %w", err)
}
