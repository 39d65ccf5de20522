// Package vault binds external mailboxes to accounts and hands their secrets back
// to the sync and dispatch paths.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/crypto"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/imap"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/smtp"
)

// IMAPVerifier checks IMAP credentials without keeping the connection.
type IMAPVerifier interface {
	Verify(ctx context.Context, ep imap.Endpoint, username, password string) error
}

// SMTPVerifier checks SMTP credentials without keeping the connection.
type SMTPVerifier interface {
	Verify(ctx context.Context, ep smtp.Endpoint, creds smtp.Credentials) error
}

// Vault owns the account to bound mailbox relation.
type Vault struct {
	pool   *pgxpool.Pool
	sealer crypto.SecretSealer
	imap   IMAPVerifier
	smtp   SMTPVerifier
	locks  *keyedMutex
}

// New creates a Vault.
func New(pool *pgxpool.Pool, sealer crypto.SecretSealer, imapVerifier IMAPVerifier, smtpVerifier SMTPVerifier) *Vault {
	return &Vault{
		pool:   pool,
		sealer: sealer,
		imap:   imapVerifier,
		smtp:   smtpVerifier,
		locks:  newKeyedMutex(),
	}
}

// Bind verifies the IMAP login, then the SMTP login, and only then stores the
// configuration with the sealed secret. Re-binding the same address replaces the
// stored configuration; binding a second address fails until Unbind is called.
// Nothing is written when a check fails, so a previous binding stays intact.
func (v *Vault) Bind(ctx context.Context, accountID string, cfg models.MailServerConfig, secret string) (*models.BoundMailbox, error) {
	cfg = ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, apperr.Wrap(apperr.ErrValidation, "password is required")
	}

	unlock := v.locks.Lock(accountID)
	defer unlock()

	existing, err := db.GetBoundMailbox(ctx, v.pool, accountID)
	switch {
	case errors.Is(err, db.ErrBoundMailboxNotFound):
	case err != nil:
		return nil, err
	case !strings.EqualFold(existing.EmailAddress, cfg.EmailAddress):
		return nil, apperr.Wrap(apperr.ErrConfiguration,
			"account already has %s bound; unbind it before binding %s", existing.EmailAddress, cfg.EmailAddress)
	}

	imapEP := imap.Endpoint{Host: cfg.IMAPServer, Port: cfg.IMAPPort, TLSMode: cfg.IMAPTLSMode}
	if err := v.imap.Verify(ctx, imapEP, cfg.EmailAddress, secret); err != nil {
		log.Printf("Vault: IMAP check failed for account %s: %v", accountID, err)
		return nil, err
	}

	smtpEP := smtp.Endpoint{Host: cfg.SMTPServer, Port: cfg.SMTPPort, TLSMode: cfg.SMTPTLSMode}
	if err := v.smtp.Verify(ctx, smtpEP, smtp.Credentials{Username: cfg.EmailAddress, Password: secret}); err != nil {
		log.Printf("Vault: SMTP check failed for account %s: %v", accountID, err)
		return nil, err
	}

	sealed, err := v.sealer.Seal(accountID, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal mailbox secret: %w", err)
	}

	mailbox := &models.BoundMailbox{
		AccountID:      accountID,
		EmailAddress:   cfg.EmailAddress,
		IMAPServer:     cfg.IMAPServer,
		IMAPPort:       cfg.IMAPPort,
		IMAPTLSMode:    cfg.IMAPTLSMode,
		SMTPServer:     cfg.SMTPServer,
		SMTPPort:       cfg.SMTPPort,
		SMTPTLSMode:    cfg.SMTPTLSMode,
		SealedPassword: sealed,
	}
	if err := db.UpsertBoundMailbox(ctx, v.pool, mailbox); err != nil {
		return nil, err
	}

	log.Printf("Vault: account %s bound %s", accountID, mailbox.EmailAddress)
	return mailbox, nil
}

// Unbind removes the account's binding. Mail already fetched through it is kept.
func (v *Vault) Unbind(ctx context.Context, accountID string) error {
	unlock := v.locks.Lock(accountID)
	defer unlock()

	err := db.DeleteBoundMailbox(ctx, v.pool, accountID)
	if errors.Is(err, db.ErrBoundMailboxNotFound) {
		return apperr.Wrap(apperr.ErrConfiguration, "no mailbox bound")
	}
	return err
}

// GetBoundMailbox returns the account's single binding.
func (v *Vault) GetBoundMailbox(ctx context.Context, accountID string) (*models.BoundMailbox, error) {
	mailbox, err := db.GetBoundMailbox(ctx, v.pool, accountID)
	if errors.Is(err, db.ErrBoundMailboxNotFound) {
		return nil, apperr.Wrap(apperr.ErrConfiguration, "no mailbox bound")
	}
	return mailbox, err
}

// ResolveSecret unseals the mailbox password.
func (v *Vault) ResolveSecret(_ context.Context, mailbox *models.BoundMailbox) (string, error) {
	secret, err := v.sealer.Unseal(mailbox.SealedPassword)
	if err != nil {
		return "", apperr.WrapErr(apperr.ErrConfiguration, err, "stored mailbox secret is unreadable")
	}
	return secret, nil
}
