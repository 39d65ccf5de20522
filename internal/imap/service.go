package imap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/blob"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/mimecodec"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/websocket"
)

const (
	inboxName    = "INBOX"
	defaultLimit = 10
	maxPageLimit = 100
)

// MailboxResolver gives the sync engine an account's binding and its plaintext secret.
type MailboxResolver interface {
	GetBoundMailbox(ctx context.Context, accountID string) (*models.BoundMailbox, error)
	ResolveSecret(ctx context.Context, mailbox *models.BoundMailbox) (string, error)
}

// Service pulls new mail from bound mailboxes into the local store.
type Service struct {
	pool     *pgxpool.Pool
	resolver MailboxResolver
	blobs    blob.Store
	notifier websocket.Notifier
	dialer   *Dialer
}

// NewService creates a sync service.
func NewService(pool *pgxpool.Pool, resolver MailboxResolver, blobs blob.Store, notifier websocket.Notifier, dialer *Dialer) *Service {
	if notifier == nil {
		notifier = websocket.NopNotifier{}
	}
	return &Service{
		pool:     pool,
		resolver: resolver,
		blobs:    blobs,
		notifier: notifier,
		dialer:   dialer,
	}
}

// SyncInbox fetches every INBOX message not yet stored for the account's bound mailbox
// and persists each exactly once. On a mid-run failure it stops and returns the error
// together with the messages persisted so far.
func (s *Service) SyncInbox(ctx context.Context, accountID string) ([]*models.MailMessage, error) {
	mailbox, err := s.resolver.GetBoundMailbox(ctx, accountID)
	if err != nil {
		return nil, err
	}

	password, err := s.resolver.ResolveSecret(ctx, mailbox)
	if err != nil {
		return nil, err
	}

	c, err := s.dialer.Connect(ctx, EndpointFor(mailbox), mailbox.EmailAddress, password)
	if err != nil {
		if !errors.Is(err, apperr.ErrAuthentication) {
			err = apperr.WrapErr(apperr.ErrAuthentication, err, "could not connect to IMAP server")
		}
		return nil, err
	}
	defer disconnect(c)

	mbox, err := c.Select(inboxName, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", inboxName, err)
	}

	uids, err := ListUIDsNewestFirst(c)
	if err != nil {
		return nil, err
	}

	known, err := db.GetExternalUIDs(ctx, s.pool, mailbox.ID)
	if err != nil {
		return nil, err
	}

	log.Printf("IMAP sync: account %s: %d messages on server, %d already stored", accountID, len(uids), len(known))

	persisted := make([]*models.MailMessage, 0)
	for _, uid := range uids {
		externalUID := fmt.Sprintf("%d:%d", mbox.UidValidity, uid)
		if _, ok := known[externalUID]; ok {
			continue
		}

		if err := ctx.Err(); err != nil {
			return persisted, err
		}

		msg, err := s.ingest(ctx, c, mailbox, accountID, uid, externalUID)
		if err != nil {
			return persisted, fmt.Errorf("failed to ingest message %s: %w", externalUID, err)
		}
		if msg == nil {
			continue
		}

		persisted = append(persisted, msg)
		s.notifier.NotifyNewMail(accountID, msg.Subject, msg.FromAddress)
	}

	if len(persisted) > 0 {
		log.Printf("IMAP sync: account %s: stored %d new messages", accountID, len(persisted))
	}
	return persisted, nil
}

// ingest fetches, decodes and stores one remote message with all of its attachments.
// It returns nil, nil when a concurrent sync stored the same message first.
func (s *Service) ingest(ctx context.Context, c *client.Client, mailbox *models.BoundMailbox, accountID string, uid uint32, externalUID string) (*models.MailMessage, error) {
	fetched, err := FetchRaw(c, uid)
	if err != nil {
		return nil, err
	}

	decoded, err := mimecodec.DecodeBytes(fetched.Raw)
	if err != nil {
		return nil, err
	}

	msg := &models.MailMessage{
		FromAddress:    decoded.FromAddress,
		Subject:        decoded.Subject,
		Body:           decoded.Body,
		IsInternal:     false,
		IsRead:         fetched.Seen,
		SentAt:         decoded.Date,
		ExternalUID:    &externalUID,
		BoundMailboxID: &mailbox.ID,
		SourceAddress:  mailbox.EmailAddress,
		RecipientIDs:   []string{accountID},
	}

	now := time.Now()
	var written []string
	for _, att := range decoded.Attachments {
		key := blob.AttachmentKey(accountID, att.Filename, now)
		if err := s.blobs.Put(ctx, key, att.ContentType, att.Content); err != nil {
			s.deleteBlobs(ctx, written)
			return nil, fmt.Errorf("failed to store attachment %q: %w", att.Filename, err)
		}
		written = append(written, key)
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   int64(len(att.Content)),
			BlobKey:     key,
		})
	}

	inserted, err := db.CreateMessage(ctx, s.pool, msg)
	if err != nil {
		s.deleteBlobs(ctx, written)
		return nil, err
	}
	if !inserted {
		s.deleteBlobs(ctx, written)
		return nil, nil
	}

	msg.Recipients = []string{mailbox.EmailAddress}
	return msg, nil
}

func (s *Service) deleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Printf("IMAP sync: failed to delete orphaned blob %s: %v", key, err)
		}
	}
}

// SyncAndList syncs, then returns one page of the account's external-origin mail, newest first.
func (s *Service) SyncAndList(ctx context.Context, accountID string, limit, offset int) ([]*models.MailMessage, error) {
	if _, err := s.SyncInbox(ctx, accountID); err != nil {
		return nil, err
	}

	limit, offset = normalizePage(limit, offset)
	return db.ListExternalMessages(ctx, s.pool, accountID, limit, offset)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
