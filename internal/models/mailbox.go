package models

import "time"

// TLSMode selects how a connection to a remote mail server is secured.
type TLSMode string

const (
	// TLSModeImplicit connects over TLS from the first byte (IMAPS on 993, SMTPS on 465).
	TLSModeImplicit TLSMode = "tls"
	// TLSModeStartTLS connects in plain text and upgrades with STARTTLS.
	TLSModeStartTLS TLSMode = "starttls"
	// TLSModeNone never encrypts. Only meant for local servers.
	TLSModeNone TLSMode = "none"
)

// Valid reports whether m is one of the known modes.
func (m TLSMode) Valid() bool {
	switch m {
	case TLSModeImplicit, TLSModeStartTLS, TLSModeNone:
		return true
	}
	return false
}

// BoundMailbox holds the external mailbox an account has bound for sync and send.
// The secret is only ever stored sealed.
type BoundMailbox struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	EmailAddress   string    `json:"email_address"`
	IMAPServer     string    `json:"imap_server"`
	IMAPPort       int       `json:"imap_port"`
	IMAPTLSMode    TLSMode   `json:"imap_tls_mode"`
	SMTPServer     string    `json:"smtp_server"`
	SMTPPort       int       `json:"smtp_port"`
	SMTPTLSMode    TLSMode   `json:"smtp_tls_mode"`
	SealedPassword []byte    `json:"-"`
	AddedAt        time.Time `json:"added_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MailServerConfig is the endpoint configuration supplied when binding a mailbox.
type MailServerConfig struct {
	EmailAddress string  `json:"email"`
	IMAPServer   string  `json:"imap_server"`
	IMAPPort     int     `json:"imap_port"`
	IMAPTLSMode  TLSMode `json:"imap_tls_mode"`
	SMTPServer   string  `json:"smtp_server"`
	SMTPPort     int     `json:"smtp_port"`
	SMTPTLSMode  TLSMode `json:"smtp_tls_mode"`
}

// BindMailboxRequest represents the request payload for binding an external mailbox.
type BindMailboxRequest struct {
	MailServerConfig
	Password string `json:"password"`
	// UseSSL is accepted for clients that only send a single switch. It fills in
	// missing TLS modes: IMAP over implicit TLS, SMTP implicit on 465 and STARTTLS otherwise.
	UseSSL *bool `json:"use_ssl,omitempty"`
}
