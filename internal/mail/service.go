// Package mail serves the local mail store: listings, detail, read flags,
// deletion and attachment upload/download.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/blob"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/models"
)

// Service answers mail queries on behalf of one caller at a time.
type Service struct {
	pool           *pgxpool.Pool
	blobs          blob.Store
	maxUploadBytes int64
}

// NewService creates a mail service. maxUploadBytes <= 0 disables the upload size check.
func NewService(pool *pgxpool.Pool, blobs blob.Store, maxUploadBytes int64) *Service {
	return &Service{pool: pool, blobs: blobs, maxUploadBytes: maxUploadBytes}
}

// ListInbox returns mail addressed to accountID, newest first.
func (s *Service) ListInbox(ctx context.Context, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error) {
	return db.ListInbox(ctx, s.pool, accountID, filter)
}

// ListSent returns mail sent by accountID, newest first.
func (s *Service) ListSent(ctx context.Context, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error) {
	return db.ListSent(ctx, s.pool, accountID, filter)
}

// GetMessage returns a message the caller sent or received.
func (s *Service) GetMessage(ctx context.Context, accountID, id string) (*models.MailMessage, error) {
	msg, err := db.GetMessage(ctx, s.pool, id)
	if errors.Is(err, db.ErrMessageNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "message %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if !msg.HasParticipant(accountID) {
		return nil, apperr.Wrap(apperr.ErrPermission, "not a participant of message %s", id)
	}
	return msg, nil
}

// MarkRead sets the read flag on a message the caller participates in.
func (s *Service) MarkRead(ctx context.Context, accountID, id string) error {
	if _, err := s.GetMessage(ctx, accountID, id); err != nil {
		return err
	}
	if err := db.MarkMessageRead(ctx, s.pool, id); err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			return apperr.Wrap(apperr.ErrNotFound, "message %s not found", id)
		}
		return err
	}
	return nil
}

// DeleteMessage removes a message with its attachments and their blobs.
// Senders may delete what they sent; mail fetched from a remote mailbox has no
// sender and may be deleted by its recipient.
func (s *Service) DeleteMessage(ctx context.Context, accountID, id string) error {
	msg, err := s.GetMessage(ctx, accountID, id)
	if err != nil {
		return err
	}
	if !canDelete(msg, accountID) {
		return apperr.Wrap(apperr.ErrPermission, "only the sender may delete message %s", id)
	}

	keys, err := db.DeleteMessage(ctx, s.pool, id)
	if errors.Is(err, db.ErrMessageNotFound) {
		return apperr.Wrap(apperr.ErrNotFound, "message %s not found", id)
	}
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Printf("Mail: failed to delete blob %s of message %s: %v", key, id, err)
		}
	}
	return nil
}

func canDelete(msg *models.MailMessage, accountID string) bool {
	if msg.SenderID != nil {
		return *msg.SenderID == accountID
	}
	return msg.HasParticipant(accountID)
}

// Upload stores a file as a new attachment of a message the caller sent.
func (s *Service) Upload(ctx context.Context, accountID, messageID, filename, contentType string, content []byte) (*models.Attachment, error) {
	if filename == "" {
		return nil, apperr.Wrap(apperr.ErrValidation, "no file provided")
	}
	if s.maxUploadBytes > 0 && int64(len(content)) > s.maxUploadBytes {
		return nil, apperr.Wrap(apperr.ErrValidation, "file exceeds %d bytes", s.maxUploadBytes)
	}

	msg, err := s.GetMessage(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == nil || *msg.SenderID != accountID {
		return nil, apperr.Wrap(apperr.ErrPermission, "only the sender may attach files to message %s", messageID)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := blob.AttachmentKey(accountID, filename, time.Now())
	if err := s.blobs.Put(ctx, key, contentType, content); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	attachment := &models.Attachment{
		MessageID:   messageID,
		Filename:    blob.SafeFilename(filename),
		ContentType: contentType,
		SizeBytes:   int64(len(content)),
		BlobKey:     key,
	}
	if err := db.InsertAttachment(ctx, s.pool, attachment); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			log.Printf("Mail: failed to delete orphaned upload %s: %v", key, delErr)
		}
		return nil, err
	}

	return attachment, nil
}

// Download returns an attachment and its content. Callers that are neither sender
// nor recipient of the owning message get a permission error, whether or not the
// attachment exists.
func (s *Service) Download(ctx context.Context, accountID, attachmentID string) (*models.Attachment, []byte, error) {
	attachment, err := AccessibleAttachment(ctx, s.pool, accountID, attachmentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, apperr.Wrap(apperr.ErrPermission, "attachment %s is not accessible", attachmentID)
	}
	if err != nil {
		return nil, nil, err
	}

	content, err := s.blobs.Get(ctx, attachment.BlobKey)
	if errors.Is(err, blob.ErrObjectNotFound) {
		return nil, nil, apperr.Wrap(apperr.ErrNotFound, "content of attachment %s is gone", attachmentID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read attachment %s: %w", attachmentID, err)
	}

	return attachment, content, nil
}

// AccessibleAttachment loads an attachment if accountID is the sender or a recipient
// of its message. Unknown ids are not-found errors.
func AccessibleAttachment(ctx context.Context, pool *pgxpool.Pool, accountID, attachmentID string) (*models.Attachment, error) {
	attachment, err := db.GetAttachment(ctx, pool, attachmentID)
	if errors.Is(err, db.ErrAttachmentNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "attachment %s not found", attachmentID)
	}
	if err != nil {
		return nil, err
	}

	msg, err := db.GetMessage(ctx, pool, attachment.MessageID)
	if errors.Is(err, db.ErrMessageNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "attachment %s not found", attachmentID)
	}
	if err != nil {
		return nil, err
	}
	if !msg.HasParticipant(accountID) {
		return nil, apperr.Wrap(apperr.ErrPermission, "not a participant of the message owning attachment %s", attachmentID)
	}

	return attachment, nil
}
