package smtp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/vdavid/yesmail/internal/models"
)

// Relay hands mail to a local, unauthenticated transfer agent.
type Relay struct {
	endpoint Endpoint
	dialer   *Dialer
}

// NewRelay parses addr ("host:port") into a plain-text relay endpoint.
func NewRelay(addr string, dialer *Dialer) (*Relay, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid relay port %q: %w", portStr, err)
	}
	return &Relay{
		endpoint: Endpoint{Host: host, Port: port, TLSMode: models.TLSModeNone},
		dialer:   dialer,
	}, nil
}

// Deliver sends raw to all recipients in one transmission.
func (r *Relay) Deliver(ctx context.Context, from string, to []string, raw []byte) error {
	return r.dialer.Send(ctx, r.endpoint, nil, from, to, raw)
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
