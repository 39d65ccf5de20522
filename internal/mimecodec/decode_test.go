package mimecodec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/yesmail/internal/apperr"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

const multipartMessage = `From: Sender <sender@remote.com>
To: bob@x.com
Subject: =?UTF-8?B?SGVsbG8gV29ybGQ=?=
Date: Tue, 02 Jan 2024 03:04:05 +0000
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="XYZ"

--XYZ
Content-Type: text/plain; charset=utf-8

first part
--XYZ
Content-Type: text/plain; charset=utf-8

second part
--XYZ
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQ=
--XYZ
Content-Type: text/plain
Content-Disposition: attachment; filename="=?UTF-8?Q?r=C3=A9sum=C3=A9.txt?="

resume text
--XYZ
Content-Type: image/png
Content-Disposition: attachment

iVBORw0KGgo=
--XYZ--
`

func TestDecodeMultipart(t *testing.T) {
	decoded, err := DecodeBytes(crlf(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "Hello World", decoded.Subject)
	assert.Equal(t, "Sender <sender@remote.com>", decoded.FromAddress)
	assert.True(t, decoded.Date.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Contains(t, decoded.Body, "first part")
	assert.Contains(t, decoded.Body, "second part")
	assert.NotContains(t, decoded.Body, "resume text")

	require.Len(t, decoded.Attachments, 2, "parts without a filename are not attachments")
	assert.Equal(t, "report.pdf", decoded.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", decoded.Attachments[0].ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), decoded.Attachments[0].Content)
	assert.Equal(t, "résumé.txt", decoded.Attachments[1].Filename)
}

func TestDecodeSinglePart(t *testing.T) {
	raw := crlf(`From: a@remote.com
To: b@x.com
Subject: plain
Date: Mon, 1 Jan 2024 10:00:00 +0100

just a body
`)

	decoded, err := DecodeBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, "plain", decoded.Subject)
	assert.Equal(t, "just a body", strings.TrimSpace(decoded.Body))
	assert.Empty(t, decoded.Attachments)
	assert.True(t, decoded.Date.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))
}

func TestDecodeMalformed(t *testing.T) {
	t.Run("bad date", func(t *testing.T) {
		raw := crlf("From: a@remote.com\nSubject: x\nDate: not a date\n\nbody\n")
		_, err := DecodeBytes(raw)
		assert.ErrorIs(t, err, apperr.ErrMalformedMessage)
	})

	t.Run("missing date", func(t *testing.T) {
		raw := crlf("From: a@remote.com\nSubject: x\n\nbody\n")
		_, err := DecodeBytes(raw)
		assert.ErrorIs(t, err, apperr.ErrMalformedMessage)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := DecodeBytes(nil)
		assert.ErrorIs(t, err, apperr.ErrMalformedMessage)
	})
}
