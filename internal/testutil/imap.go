package testutil

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is a plain-text IMAP server over the go-imap memory backend.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	username string
	password string
}

// loginBackend accepts a single configurable login and maps it onto the memory
// backend's built-in user.
type loginBackend struct {
	*memory.Backend
	username string
	password string
}

func (b *loginBackend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	if username != b.username || password != b.password {
		return nil, backend.ErrInvalidCredentials
	}
	return b.Backend.Login(connInfo, "username", "password")
}

// NewTestIMAPServer starts a server for the memory backend's "username" / "password" user.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()
	return NewTestIMAPServerWithLogin(t, "username", "password")
}

// NewTestIMAPServerWithLogin starts a server on a random local port that accepts only
// the given login and empties its INBOX (the memory backend seeds one message).
// It is closed when the test finishes.
func NewTestIMAPServerWithLogin(t *testing.T, username, password string) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(&loginBackend{Backend: be, username: username, password: password})
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() {
		_ = s.Close()
	})

	srv := &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: username,
		password: password,
	}
	srv.ResetINBOX(t)
	return srv
}

// Username returns the accepted login name.
func (s *TestIMAPServer) Username() string { return s.username }

// Password returns the accepted password.
func (s *TestIMAPServer) Password() string { return s.password }

// Host returns the listening host.
func (s *TestIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the listening port.
func (s *TestIMAPServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Address)
	n, _ := strconv.Atoi(port)
	return n
}

// Connect logs in as the default user.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := c.Login(s.Username(), s.Password()); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return c, func() { _ = c.Logout() }
}

// ResetINBOX deletes every message in INBOX.
func (s *TestIMAPServer) ResetINBOX(t *testing.T) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	mbox, err := c.Select("INBOX", false)
	if err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}
	if mbox.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, mbox.Messages)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages deleted: %v", err)
	}
	if err := c.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge INBOX: %v", err)
	}
}

// AppendRaw appends an RFC 822 message to INBOX.
func (s *TestIMAPServer) AppendRaw(t *testing.T, raw []byte, flags ...string) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if err := c.Append("INBOX", flags, time.Now(), bytes.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}

// AppendText appends a simple text/plain message with the given subject.
func (s *TestIMAPServer) AppendText(t *testing.T, from, subject, body string, sentAt time.Time, flags ...string) {
	t.Helper()

	raw := "From: " + from + "\r\n" +
		"To: username@localhost\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + sentAt.Format(time.RFC1123Z) + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n"
	s.AppendRaw(t, []byte(raw), flags...)
}
