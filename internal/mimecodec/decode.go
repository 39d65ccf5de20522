// Package mimecodec converts between raw RFC 822/MIME messages and the structured
// form the rest of yesmail works with.
package mimecodec

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/vdavid/yesmail/internal/apperr"
)

// Decoded is a parsed message.
type Decoded struct {
	Subject     string
	FromAddress string
	Date        time.Time
	Body        string
	Attachments []DecodedAttachment
}

// DecodedAttachment is one attachment part with its transfer encoding removed.
type DecodedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Decode parses raw. Bodies are the concatenated text/plain parts that carry no
// disposition; attachments are parts with an "attachment" disposition and a filename.
// A missing or unparseable Date header is a malformed message.
func Decode(raw io.Reader) (*Decoded, error) {
	env, err := enmime.ReadEnvelope(raw)
	if err != nil {
		return nil, apperr.WrapErr(apperr.ErrMalformedMessage, err, "failed to parse MIME")
	}
	if env.Root == nil {
		return nil, apperr.Wrap(apperr.ErrMalformedMessage, "message has no MIME structure")
	}

	date, err := mail.ParseDate(env.GetHeader("Date"))
	if err != nil {
		return nil, apperr.WrapErr(apperr.ErrMalformedMessage, err, "invalid Date header")
	}

	decoded := &Decoded{
		Subject:     env.GetHeader("Subject"),
		FromAddress: env.GetHeader("From"),
		Date:        date,
	}

	if !isMultipart(env.Root) {
		decoded.Body = string(env.Root.Content)
		return decoded, nil
	}

	var body strings.Builder
	for _, part := range env.Root.DepthMatchAll(func(p *enmime.Part) bool { return true }) {
		switch {
		case isAttachment(part):
			decoded.Attachments = append(decoded.Attachments, DecodedAttachment{
				Filename:    part.FileName,
				ContentType: contentTypeOrDefault(part.ContentType),
				Content:     part.Content,
			})
		case part.ContentType == "text/plain" && part.Disposition == "":
			body.Write(part.Content)
		}
	}
	decoded.Body = body.String()

	return decoded, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(raw []byte) (*Decoded, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperr.Wrap(apperr.ErrMalformedMessage, "empty message")
	}
	return Decode(bytes.NewReader(raw))
}

func isMultipart(p *enmime.Part) bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

func isAttachment(p *enmime.Part) bool {
	return strings.Contains(strings.ToLower(p.Disposition), "attachment") && p.FileName != ""
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return defaultContentType
	}
	return ct
}

// String is used in logs.
func (d *Decoded) String() string {
	return fmt.Sprintf("%q from %s (%d attachments)", d.Subject, d.FromAddress, len(d.Attachments))
}
