package mimecodec

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/yesmail/internal/apperr"
)

const (
	defaultContentType = "application/octet-stream"
	noSubject          = "(no subject)"
)

// Outgoing is a message to serialize.
type Outgoing struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []OutgoingAttachment
	// Domain is the right-hand side of the generated Message-ID.
	Domain string
}

// OutgoingAttachment names its content in one of three ways, checked in order:
// inline Content, an Open func (blob storage), or a filesystem Path.
type OutgoingAttachment struct {
	Filename string
	Content  []byte
	Open     func() (io.ReadCloser, error)
	Path     string
}

// Encoded is a serialized message plus anything that was skipped on the way.
type Encoded struct {
	Raw       []byte
	MessageID string
	Warnings  []string
}

// Encode serializes msg. Attachments whose content cannot be read are skipped
// and reported in Warnings rather than failing the whole message.
func Encode(msg Outgoing) (*Encoded, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, apperr.WrapErr(apperr.ErrValidation, err, "invalid from address")
	}

	to := make([]mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, apperr.WrapErr(apperr.ErrValidation, err, fmt.Sprintf("invalid recipient %q", addr))
		}
		to = append(to, *parsed)
	}
	if len(to) == 0 {
		return nil, apperr.Wrap(apperr.ErrValidation, "no recipients")
	}

	subject := msg.Subject
	if strings.TrimSpace(subject) == "" {
		subject = noSubject
	}

	domain := msg.Domain
	if domain == "" {
		domain = domainOf(from.Address)
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)

	builder := enmime.Builder().
		From(from.Name, from.Address).
		ToAddrs(to).
		Subject(subject).
		Date(time.Now()).
		Text([]byte(msg.Body))

	var warnings []string
	for _, att := range msg.Attachments {
		content, err := att.read()
		if err != nil {
			warning := fmt.Sprintf("skipped attachment %q: %v", att.Filename, err)
			log.Printf("MIME: %s", warning)
			warnings = append(warnings, warning)
			continue
		}
		builder = builder.AddAttachment(content, GuessContentType(att.Filename), att.Filename)
	}

	root, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	root.Header.Set("Message-ID", messageID)

	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	return &Encoded{Raw: buf.Bytes(), MessageID: messageID, Warnings: warnings}, nil
}

func (a OutgoingAttachment) read() ([]byte, error) {
	switch {
	case a.Content != nil:
		return a.Content, nil
	case a.Open != nil:
		rc, err := a.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	case a.Path != "":
		return os.ReadFile(a.Path)
	}
	return nil, fmt.Errorf("no content")
}

// GuessContentType maps a filename to a MIME type, falling back to application/octet-stream.
func GuessContentType(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return defaultContentType
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}
