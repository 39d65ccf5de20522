package vault

import (
	"net/mail"
	"strings"

	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/models"
)

// ApplyDefaults fills in missing TLS modes and ports: IMAP over implicit TLS on 993,
// SMTP implicit on 465 and STARTTLS on 587 otherwise.
func ApplyDefaults(cfg models.MailServerConfig) models.MailServerConfig {
	cfg.EmailAddress = strings.TrimSpace(cfg.EmailAddress)
	cfg.IMAPServer = strings.TrimSpace(cfg.IMAPServer)
	cfg.SMTPServer = strings.TrimSpace(cfg.SMTPServer)

	if cfg.IMAPTLSMode == "" {
		cfg.IMAPTLSMode = models.TLSModeImplicit
	}
	if cfg.IMAPPort == 0 {
		if cfg.IMAPTLSMode == models.TLSModeImplicit {
			cfg.IMAPPort = 993
		} else {
			cfg.IMAPPort = 143
		}
	}

	if cfg.SMTPTLSMode == "" {
		if cfg.SMTPPort == 465 {
			cfg.SMTPTLSMode = models.TLSModeImplicit
		} else {
			cfg.SMTPTLSMode = models.TLSModeStartTLS
		}
	}
	if cfg.SMTPPort == 0 {
		if cfg.SMTPTLSMode == models.TLSModeImplicit {
			cfg.SMTPPort = 465
		} else {
			cfg.SMTPPort = 587
		}
	}
	return cfg
}

// FromRequest turns an API bind request into a server config, honoring the legacy
// use_ssl switch when explicit modes are absent.
func FromRequest(req models.BindMailboxRequest) models.MailServerConfig {
	cfg := req.MailServerConfig
	if req.UseSSL != nil {
		if cfg.IMAPTLSMode == "" {
			if *req.UseSSL {
				cfg.IMAPTLSMode = models.TLSModeImplicit
			} else {
				cfg.IMAPTLSMode = models.TLSModeNone
			}
		}
		if cfg.SMTPTLSMode == "" {
			switch {
			case *req.UseSSL && cfg.SMTPPort == 465:
				cfg.SMTPTLSMode = models.TLSModeImplicit
			case *req.UseSSL:
				cfg.SMTPTLSMode = models.TLSModeStartTLS
			default:
				cfg.SMTPTLSMode = models.TLSModeNone
			}
		}
	}
	return cfg
}

// Validate rejects incomplete or nonsensical configurations.
func Validate(cfg models.MailServerConfig) error {
	if _, err := mail.ParseAddress(cfg.EmailAddress); err != nil {
		return apperr.Wrap(apperr.ErrValidation, "invalid email address %q", cfg.EmailAddress)
	}
	if cfg.IMAPServer == "" || cfg.SMTPServer == "" {
		return apperr.Wrap(apperr.ErrValidation, "imap_server and smtp_server are required")
	}
	if !validPort(cfg.IMAPPort) || !validPort(cfg.SMTPPort) {
		return apperr.Wrap(apperr.ErrValidation, "ports must be between 1 and 65535")
	}
	if !cfg.IMAPTLSMode.Valid() || !cfg.SMTPTLSMode.Valid() {
		return apperr.Wrap(apperr.ErrValidation, "tls mode must be tls, starttls or none")
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
