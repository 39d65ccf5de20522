// Package dispatch routes outbound mail to local inboxes, the local relay, or the
// sender's bound SMTP account.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/blob"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/mail"
	"github.com/vdavid/yesmail/internal/mimecodec"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/ratelimit"
	"github.com/vdavid/yesmail/internal/smtp"
	"github.com/vdavid/yesmail/internal/websocket"
)

// Relay delivers to the local, unauthenticated transfer agent.
type Relay interface {
	Deliver(ctx context.Context, from string, to []string, raw []byte) error
}

// Transmitter sends through an arbitrary SMTP endpoint.
type Transmitter interface {
	Send(ctx context.Context, ep smtp.Endpoint, creds *smtp.Credentials, from string, to []string, raw []byte) error
}

// MailboxResolver gives the router the sender's binding and its plaintext secret.
type MailboxResolver interface {
	GetBoundMailbox(ctx context.Context, accountID string) (*models.BoundMailbox, error)
	ResolveSecret(ctx context.Context, mailbox *models.BoundMailbox) (string, error)
}

// Router partitions recipients and delivers each part on its own path.
type Router struct {
	pool        *pgxpool.Pool
	blobs       blob.Store
	relay       Relay
	transmitter Transmitter
	resolver    MailboxResolver
	notifier    websocket.Notifier
	limiter     *ratelimit.Limiter
	// domain is used for generated Message-IDs.
	domain string
}

// Options are the Router's collaborators. Notifier and Limiter may be nil.
type Options struct {
	Pool        *pgxpool.Pool
	Blobs       blob.Store
	Relay       Relay
	Transmitter Transmitter
	Resolver    MailboxResolver
	Notifier    websocket.Notifier
	Limiter     *ratelimit.Limiter
	Domain      string
}

// NewRouter creates a Router.
func NewRouter(opts Options) *Router {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = websocket.NopNotifier{}
	}
	return &Router{
		pool:        opts.Pool,
		blobs:       opts.Blobs,
		relay:       opts.Relay,
		transmitter: opts.Transmitter,
		resolver:    opts.Resolver,
		notifier:    notifier,
		limiter:     opts.Limiter,
		domain:      opts.Domain,
	}
}

// Send delivers req from senderID. Internal recipients get one shared message in
// their inboxes; external recipients get one relay transmission. An external
// failure does not undo the internal delivery; the report is returned alongside
// the error so callers can tell which side went through.
func (r *Router) Send(ctx context.Context, senderID string, req models.SendRequest) (*models.DeliveryReport, error) {
	recipients, err := normalizeRecipients(req.Recipients)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, apperr.Wrap(apperr.ErrValidation, "recipients must not be empty")
	}

	sender, err := r.sender(ctx, senderID)
	if err != nil {
		return nil, err
	}

	attachments, err := r.resolveAttachments(ctx, senderID, req.AttachmentIDs)
	if err != nil {
		return nil, err
	}

	if err := r.allow(senderID); err != nil {
		return nil, err
	}

	internal, external, err := r.partition(ctx, recipients)
	if err != nil {
		return nil, err
	}

	report := &models.DeliveryReport{
		InternalRecipients: make([]string, 0, len(internal)),
		ExternalRecipients: external,
	}
	for _, account := range internal {
		report.InternalRecipients = append(report.InternalRecipients, account.Email)
	}

	if len(internal) > 0 {
		msg, warnings, err := r.deliverInternal(ctx, sender, internal, req, attachments)
		report.Warnings = append(report.Warnings, warnings...)
		if err != nil {
			return report, err
		}
		report.InternalDelivered = true
		report.InternalMessageID = msg.ID
	}

	if len(external) > 0 {
		warnings, err := r.deliverExternal(ctx, sender, external, req, attachments)
		report.Warnings = append(report.Warnings, warnings...)
		if err != nil {
			report.ExternalError = err.Error()
			return report, err
		}
		report.ExternalDelivered = true
	}

	return report, nil
}

// SendViaBoundMailbox transmits req through the sender's bound SMTP account and
// records a sent copy. It returns the copy and any attachment warnings.
func (r *Router) SendViaBoundMailbox(ctx context.Context, senderID string, req models.SendRequest) (*models.MailMessage, []string, error) {
	recipients, err := normalizeRecipients(req.Recipients)
	if err != nil {
		return nil, nil, err
	}
	if len(recipients) == 0 {
		return nil, nil, apperr.Wrap(apperr.ErrValidation, "recipients must not be empty")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return nil, nil, apperr.Wrap(apperr.ErrValidation, "subject must not be empty")
	}

	sender, err := r.sender(ctx, senderID)
	if err != nil {
		return nil, nil, err
	}

	mailbox, err := r.resolver.GetBoundMailbox(ctx, senderID)
	if err != nil {
		return nil, nil, err
	}
	secret, err := r.resolver.ResolveSecret(ctx, mailbox)
	if err != nil {
		return nil, nil, err
	}

	attachments, err := r.resolveAttachments(ctx, senderID, req.AttachmentIDs)
	if err != nil {
		return nil, nil, err
	}

	if err := r.allow(senderID); err != nil {
		return nil, nil, err
	}

	encoded, err := mimecodec.Encode(mimecodec.Outgoing{
		From:        mailbox.EmailAddress,
		To:          recipients,
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: r.outgoingAttachments(ctx, attachments),
		Domain:      r.domain,
	})
	if err != nil {
		return nil, nil, err
	}

	ep := smtp.Endpoint{Host: mailbox.SMTPServer, Port: mailbox.SMTPPort, TLSMode: mailbox.SMTPTLSMode}
	creds := &smtp.Credentials{Username: mailbox.EmailAddress, Password: secret}
	if err := r.transmitter.Send(ctx, ep, creds, mailbox.EmailAddress, recipients, encoded.Raw); err != nil {
		log.Printf("Dispatch: bound send for account %s via %s failed: %v", senderID, mailbox.EmailAddress, err)
		return nil, encoded.Warnings, err
	}

	sentCopy := &models.MailMessage{
		SenderID:       &sender.ID,
		FromAddress:    mailbox.EmailAddress,
		ToExternal:     strings.Join(recipients, ", "),
		Subject:        req.Subject,
		Body:           req.Body,
		IsInternal:     false,
		IsRead:         true,
		BoundMailboxID: &mailbox.ID,
		SourceAddress:  mailbox.EmailAddress,
	}
	warnings, err := r.persistWithCopies(ctx, sender.ID, sentCopy, attachments)
	warnings = append(encoded.Warnings, warnings...)
	if err != nil {
		return nil, warnings, fmt.Errorf("message was sent but the sent copy could not be saved: %w", err)
	}

	return sentCopy, warnings, nil
}

func (r *Router) sender(ctx context.Context, senderID string) (*models.Account, error) {
	account, err := db.GetAccountByID(ctx, r.pool, senderID)
	if errors.Is(err, db.ErrAccountNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "sender account %s not found", senderID)
	}
	return account, err
}

func (r *Router) allow(senderID string) error {
	if r.limiter != nil && !r.limiter.Allow(senderID) {
		return apperr.Wrap(apperr.ErrRateLimited, "too many messages, try again later")
	}
	return nil
}

// resolveAttachments loads every referenced attachment before anything is sent.
func (r *Router) resolveAttachments(ctx context.Context, senderID string, ids []string) ([]*models.Attachment, error) {
	attachments := make([]*models.Attachment, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		attachment, err := mail.AccessibleAttachment(ctx, r.pool, senderID, id)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

// partition splits recipients into local accounts and external addresses,
// each in request order.
func (r *Router) partition(ctx context.Context, recipients []string) ([]*models.Account, []string, error) {
	accounts, err := db.GetAccountsByEmails(ctx, r.pool, recipients)
	if err != nil {
		return nil, nil, err
	}

	var internal []*models.Account
	external := make([]string, 0)
	for _, address := range recipients {
		if account := ResolveAccount(accounts, address); account != nil {
			internal = append(internal, account)
		} else {
			external = append(external, address)
		}
	}
	return internal, external, nil
}

// ResolveAccount looks address up in a batch loaded with db.GetAccountsByEmails.
func ResolveAccount(accounts map[string]*models.Account, address string) *models.Account {
	return accounts[db.NormalizeEmail(address)]
}

func (r *Router) deliverInternal(ctx context.Context, sender *models.Account, recipients []*models.Account, req models.SendRequest, attachments []*models.Attachment) (*models.MailMessage, []string, error) {
	msg := &models.MailMessage{
		SenderID:     &sender.ID,
		FromAddress:  sender.Email,
		Subject:      req.Subject,
		Body:         req.Body,
		IsInternal:   true,
		RecipientIDs: make([]string, 0, len(recipients)),
		Recipients:   make([]string, 0, len(recipients)),
	}
	for _, account := range recipients {
		msg.RecipientIDs = append(msg.RecipientIDs, account.ID)
		msg.Recipients = append(msg.Recipients, account.Email)
	}

	warnings, err := r.persistWithCopies(ctx, sender.ID, msg, attachments)
	if err != nil {
		return nil, warnings, fmt.Errorf("internal delivery failed: %w", err)
	}

	for _, account := range recipients {
		r.notifier.NotifyNewMail(account.ID, msg.Subject, sender.Email)
	}
	log.Printf("Dispatch: account %s delivered message %s to %d local recipients", sender.ID, msg.ID, len(recipients))
	return msg, warnings, nil
}

func (r *Router) deliverExternal(ctx context.Context, sender *models.Account, recipients []string, req models.SendRequest, attachments []*models.Attachment) ([]string, error) {
	encoded, err := mimecodec.Encode(mimecodec.Outgoing{
		From:        sender.Email,
		To:          recipients,
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: r.outgoingAttachments(ctx, attachments),
		Domain:      r.domain,
	})
	if err != nil {
		return nil, err
	}

	if err := r.relay.Deliver(ctx, sender.Email, recipients, encoded.Raw); err != nil {
		log.Printf("Dispatch: relay delivery for account %s failed: %v", sender.ID, err)
		if !errors.Is(err, apperr.ErrDelivery) {
			err = apperr.WrapErr(apperr.ErrDelivery, err, "relay delivery failed")
		}
		return encoded.Warnings, err
	}

	sentCopy := &models.MailMessage{
		SenderID:    &sender.ID,
		FromAddress: sender.Email,
		ToExternal:  strings.Join(recipients, ", "),
		Subject:     req.Subject,
		Body:        req.Body,
		IsInternal:  false,
		IsRead:      true,
	}
	warnings, err := r.persistWithCopies(ctx, sender.ID, sentCopy, attachments)
	warnings = append(encoded.Warnings, warnings...)
	if err != nil {
		// The relay already accepted the message; only the local record is missing.
		log.Printf("Dispatch: failed to record sent copy for account %s: %v", sender.ID, err)
		warnings = append(warnings, "sent copy could not be saved")
	}
	return warnings, nil
}

// persistWithCopies copies each attachment's blob under ownerID and saves msg with
// the copies. Attachments whose content is gone are skipped with a warning.
func (r *Router) persistWithCopies(ctx context.Context, ownerID string, msg *models.MailMessage, attachments []*models.Attachment) ([]string, error) {
	var warnings []string
	var written []string
	now := time.Now()

	for _, src := range attachments {
		key := blob.AttachmentKey(ownerID, src.Filename, now)
		err := blob.Copy(ctx, r.blobs, src.BlobKey, key, src.ContentType)
		if errors.Is(err, blob.ErrObjectNotFound) {
			warning := fmt.Sprintf("skipped attachment %q: content is missing", src.Filename)
			log.Printf("Dispatch: %s", warning)
			warnings = append(warnings, warning)
			continue
		}
		if err != nil {
			r.deleteBlobs(ctx, written)
			return warnings, err
		}
		written = append(written, key)
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    src.Filename,
			ContentType: src.ContentType,
			SizeBytes:   src.SizeBytes,
			BlobKey:     key,
		})
	}

	if _, err := db.CreateMessage(ctx, r.pool, msg); err != nil {
		r.deleteBlobs(ctx, written)
		return warnings, err
	}
	return warnings, nil
}

func (r *Router) outgoingAttachments(ctx context.Context, attachments []*models.Attachment) []mimecodec.OutgoingAttachment {
	out := make([]mimecodec.OutgoingAttachment, 0, len(attachments))
	for _, a := range attachments {
		key := a.BlobKey
		out = append(out, mimecodec.OutgoingAttachment{
			Filename: a.Filename,
			Open: func() (io.ReadCloser, error) {
				data, err := r.blobs.Get(ctx, key)
				if err != nil {
					return nil, err
				}
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		})
	}
	return out
}

func (r *Router) deleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := r.blobs.Delete(ctx, key); err != nil {
			log.Printf("Dispatch: failed to delete blob %s: %v", key, err)
		}
	}
}

// normalizeRecipients parses, lower-cases and de-duplicates addresses, keeping order.
// Blank entries are dropped; anything else that is not an address fails the whole list.
func normalizeRecipients(recipients []string) ([]string, error) {
	seen := make(map[string]bool, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if strings.TrimSpace(r) == "" {
			continue
		}
		parsed, err := netmail.ParseAddress(r)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrValidation, "invalid recipient address %q", r)
		}
		n := db.NormalizeEmail(parsed.Address)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}
