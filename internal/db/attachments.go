package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/models"
)

// ErrAttachmentNotFound is returned when a requested attachment cannot be found.
var ErrAttachmentNotFound = errors.New("attachment not found")

// InsertAttachment saves an attachment row for an existing message.
func InsertAttachment(ctx context.Context, q Querier, attachment *models.Attachment) error {
	err := q.QueryRow(ctx, `
		INSERT INTO attachments (message_id, blob_key, filename, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, uploaded_at
	`,
		attachment.MessageID,
		attachment.BlobKey,
		attachment.Filename,
		attachment.ContentType,
		attachment.SizeBytes,
	).Scan(&attachment.ID, &attachment.UploadedAt)

	if err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

// GetAttachment returns a single attachment by id.
func GetAttachment(ctx context.Context, pool *pgxpool.Pool, id string) (*models.Attachment, error) {
	if !isUUID(id) {
		return nil, ErrAttachmentNotFound
	}
	var att models.Attachment
	err := pool.QueryRow(ctx, `
		SELECT id, message_id, blob_key, filename, content_type, size_bytes, uploaded_at
		FROM attachments
		WHERE id = $1
	`, id).Scan(
		&att.ID,
		&att.MessageID,
		&att.BlobKey,
		&att.Filename,
		&att.ContentType,
		&att.SizeBytes,
		&att.UploadedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}

	return &att, nil
}

// GetAttachmentsForMessages returns all attachments for multiple messages in a single query,
// keyed by message id.
func GetAttachmentsForMessages(ctx context.Context, pool *pgxpool.Pool, messageIDs []string) (map[string][]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return make(map[string][]models.Attachment), nil
	}

	rows, err := pool.Query(ctx, `
		SELECT id, message_id, blob_key, filename, content_type, size_bytes, uploaded_at
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY message_id, uploaded_at, filename
	`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	attachmentsMap := make(map[string][]models.Attachment)
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.BlobKey,
			&att.Filename,
			&att.ContentType,
			&att.SizeBytes,
			&att.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachmentsMap[att.MessageID] = append(attachmentsMap[att.MessageID], att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachmentsMap, nil
}
