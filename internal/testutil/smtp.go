package testutil

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ReceivedMessage is one message accepted by a TestSMTPServer.
type ReceivedMessage struct {
	From string
	To   []string
	Data []byte
	// AuthUser is empty when the session did not authenticate.
	AuthUser string
}

// MemoryBackend stores accepted mail in memory.
// With RequireAuth set, MAIL FROM is refused until the session has logged in.
type MemoryBackend struct {
	mu          sync.Mutex
	messages    []ReceivedMessage
	username    string
	password    string
	RequireAuth bool
	RejectData  bool
}

// NewSession implements smtp.Backend.
func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// Messages returns a copy of everything received so far.
func (b *MemoryBackend) Messages() []ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ReceivedMessage(nil), b.messages...)
}

type memorySession struct {
	backend  *MemoryBackend
	authUser string
	from     string
	to       []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return errors.New("invalid credentials")
		}
		s.authUser = username
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.RequireAuth && s.authUser == "" {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.backend.RejectData {
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 0, 0}, Message: "transaction failed"}
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, ReceivedMessage{
		From:     s.from,
		To:       append([]string(nil), s.to...),
		Data:     data,
		AuthUser: s.authUser,
	})
	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer is a plain-text SMTP server on a random local port.
type TestSMTPServer struct {
	Server  *smtp.Server
	Address string
	Backend *MemoryBackend
}

// NewTestSMTPServer starts a server that accepts PLAIN login for username/password.
// It is closed when the test finishes.
func NewTestSMTPServer(t *testing.T, username, password string) *TestSMTPServer {
	t.Helper()

	be := &MemoryBackend{username: username, password: password}

	s := smtp.NewServer(be)
	s.Domain = "localhost"
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

	return &TestSMTPServer{Server: s, Address: listener.Addr().String(), Backend: be}
}

// Host returns the listening host.
func (s *TestSMTPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the listening port.
func (s *TestSMTPServer) Port() int {
	_, port, _ := net.SplitHostPort(s.Address)
	n, _ := strconv.Atoi(port)
	return n
}

// Messages returns everything the server accepted.
func (s *TestSMTPServer) Messages() []ReceivedMessage {
	return s.Backend.Messages()
}
