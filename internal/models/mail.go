package models

import "time"

// MailMessage is one email, either exchanged between local accounts or bridged
// to an external mailbox.
type MailMessage struct {
	ID             string       `json:"id"`
	SenderID       *string      `json:"sender_id,omitempty"`
	FromAddress    string       `json:"sender"`
	Recipients     []string     `json:"recipients"`
	ToExternal     string       `json:"to_external,omitempty"`
	Subject        string       `json:"subject"`
	Body           string       `json:"body"`
	IsInternal     bool         `json:"is_internal"`
	IsRead         bool         `json:"is_read"`
	SentAt         time.Time    `json:"sent_at"`
	ExternalUID    *string      `json:"external_uid,omitempty"`
	BoundMailboxID *string      `json:"bound_mailbox_id,omitempty"`
	Attachments    []Attachment `json:"attachments"`

	// RecipientIDs are the account ids behind Recipients. Not serialized.
	RecipientIDs []string `json:"-"`
	// SourceAddress is the bound address the message came in or went out through.
	SourceAddress string `json:"-"`
}

// HasParticipant reports whether accountID is the sender or a recipient of the message.
func (m *MailMessage) HasParticipant(accountID string) bool {
	if m.SenderID != nil && *m.SenderID == accountID {
		return true
	}
	for _, id := range m.RecipientIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

// Attachment is a file owned by exactly one MailMessage.
type Attachment struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	BlobKey     string    `json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// MessageFilter narrows inbox and sent listings. Empty fields do not filter.
type MessageFilter struct {
	Sender    string
	Recipient string
	Subject   string
}

// SendRequest represents the request payload for both send endpoints.
type SendRequest struct {
	Recipients    []string `json:"recipients"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	AttachmentIDs []string `json:"attachments"`
}

// DeliveryReport describes which delivery paths of a send succeeded.
// A send can succeed internally and fail externally; callers must read both sides.
type DeliveryReport struct {
	InternalRecipients []string `json:"internal_recipients"`
	InternalDelivered  bool     `json:"internal_delivered"`
	InternalMessageID  string   `json:"internal_message_id,omitempty"`
	ExternalRecipients []string `json:"external_recipients"`
	ExternalDelivered  bool     `json:"external_delivered"`
	ExternalError      string   `json:"external_error,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// NewMailEvent is pushed to live sessions when mail arrives.
type NewMailEvent struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	From    string `json:"from"`
}
