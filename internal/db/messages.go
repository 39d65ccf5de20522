package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `
	m.id,
	m.sender_id,
	m.from_address,
	COALESCE(m.to_external, ''),
	m.subject,
	m.body,
	m.is_internal,
	m.is_read,
	m.sent_at,
	m.external_uid,
	m.bound_mailbox_id`

func scanMessage(row pgx.Row) (*models.MailMessage, error) {
	var msg models.MailMessage
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.FromAddress,
		&msg.ToExternal,
		&msg.Subject,
		&msg.Body,
		&msg.IsInternal,
		&msg.IsRead,
		&msg.SentAt,
		&msg.ExternalUID,
		&msg.BoundMailboxID,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage inserts a message with its recipients and attachments in one transaction.
// It returns false without writing anything when a message with the same
// (bound mailbox, external uid) already exists.
func CreateMessage(ctx context.Context, pool *pgxpool.Pool, msg *models.MailMessage) (bool, error) {
	inserted := false
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		ok, err := InsertMessage(ctx, tx, msg)
		if err != nil || !ok {
			return err
		}
		for i := range msg.Attachments {
			msg.Attachments[i].MessageID = msg.ID
			if err := InsertAttachment(ctx, tx, &msg.Attachments[i]); err != nil {
				return err
			}
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// InsertMessage writes the message row and its recipient rows. It does not touch attachments.
func InsertMessage(ctx context.Context, q Querier, msg *models.MailMessage) (bool, error) {
	var toExternal *string
	if msg.ToExternal != "" {
		toExternal = &msg.ToExternal
	}
	var sentAt any
	if !msg.SentAt.IsZero() {
		sentAt = msg.SentAt
	}
	var sourceAddress *string
	if msg.SourceAddress != "" {
		normalized := NormalizeEmail(msg.SourceAddress)
		sourceAddress = &normalized
	}

	err := q.QueryRow(ctx, `
		INSERT INTO messages (
			sender_id,
			from_address,
			to_external,
			subject,
			body,
			is_internal,
			is_read,
			sent_at,
			external_uid,
			bound_mailbox_id,
			source_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, now()), $9, $10, $11)
		ON CONFLICT (bound_mailbox_id, external_uid) DO NOTHING
		RETURNING id, sent_at
	`,
		msg.SenderID,
		msg.FromAddress,
		toExternal,
		msg.Subject,
		msg.Body,
		msg.IsInternal,
		msg.IsRead,
		sentAt,
		msg.ExternalUID,
		msg.BoundMailboxID,
		sourceAddress,
	).Scan(&msg.ID, &msg.SentAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to save message: %w", err)
	}

	for _, accountID := range msg.RecipientIDs {
		if _, err := q.Exec(ctx, `
			INSERT INTO message_recipients (message_id, account_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, msg.ID, accountID); err != nil {
			return false, fmt.Errorf("failed to save message recipient: %w", err)
		}
	}

	return true, nil
}

// GetMessage returns a message with its recipients and attachments.
func GetMessage(ctx context.Context, pool *pgxpool.Pool, id string) (*models.MailMessage, error) {
	if !isUUID(id) {
		return nil, ErrMessageNotFound
	}
	msg, err := scanMessage(pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	if err := populate(ctx, pool, []*models.MailMessage{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListInbox returns messages where the account is a recipient, newest first.
func ListInbox(ctx context.Context, pool *pgxpool.Pool, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error) {
	return queryMessages(ctx, pool, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN message_recipients r ON r.message_id = m.id
		WHERE r.account_id = $1
		  AND ($2::text = '' OR m.from_address ILIKE $2)
		  AND ($3::text = '' OR m.subject ILIKE $3)
		ORDER BY m.sent_at DESC, m.id DESC
	`, accountID, containsPattern(filter.Sender), containsPattern(filter.Subject))
}

// ListSent returns messages sent by the account, newest first. The recipient
// filter matches internal recipients' emails and the external destination.
func ListSent(ctx context.Context, pool *pgxpool.Pool, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error) {
	return queryMessages(ctx, pool, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.sender_id = $1
		  AND ($2::text = '' OR m.to_external ILIKE $2 OR EXISTS (
			SELECT 1 FROM message_recipients r
			JOIN accounts a ON a.id = r.account_id
			WHERE r.message_id = m.id AND a.email ILIKE $2
		  ))
		  AND ($3::text = '' OR m.subject ILIKE $3)
		ORDER BY m.sent_at DESC, m.id DESC
	`, accountID, containsPattern(filter.Recipient), containsPattern(filter.Subject))
}

// ListExternalMessages pages over external-origin messages where the account
// is sender or recipient, newest first.
func ListExternalMessages(ctx context.Context, pool *pgxpool.Pool, accountID string, limit, offset int) ([]*models.MailMessage, error) {
	return queryMessages(ctx, pool, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.is_internal = FALSE
		  AND (m.sender_id = $1 OR EXISTS (
			SELECT 1 FROM message_recipients r
			WHERE r.message_id = m.id AND r.account_id = $1
		  ))
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
}

func queryMessages(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]*models.MailMessage, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.MailMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	if err := populate(ctx, pool, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// populate fills in recipients and attachments with one query each.
func populate(ctx context.Context, pool *pgxpool.Pool, messages []*models.MailMessage) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, len(messages))
	byID := make(map[string]*models.MailMessage, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		byID[m.ID] = m
		m.Recipients = []string{}
		m.Attachments = []models.Attachment{}
	}

	rows, err := pool.Query(ctx, `
		SELECT r.message_id, a.id, a.email
		FROM message_recipients r
		JOIN accounts a ON a.id = r.account_id
		WHERE r.message_id = ANY($1)
		ORDER BY a.email
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to get recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, accountID, email string
		if err := rows.Scan(&messageID, &accountID, &email); err != nil {
			return fmt.Errorf("failed to scan recipient: %w", err)
		}
		m := byID[messageID]
		m.RecipientIDs = append(m.RecipientIDs, accountID)
		m.Recipients = append(m.Recipients, email)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating recipients: %w", err)
	}

	attachments, err := GetAttachmentsForMessages(ctx, pool, ids)
	if err != nil {
		return err
	}
	for messageID, atts := range attachments {
		byID[messageID].Attachments = atts
	}

	return nil
}

// GetExternalUIDs returns the external uids already stored for the bound mailbox.
func GetExternalUIDs(ctx context.Context, pool *pgxpool.Pool, boundMailboxID string) (map[string]struct{}, error) {
	rows, err := pool.Query(ctx, `
		SELECT external_uid
		FROM messages
		WHERE bound_mailbox_id = $1 AND external_uid IS NOT NULL
	`, boundMailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get external uids: %w", err)
	}
	defer rows.Close()

	uids := make(map[string]struct{})
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan external uid: %w", err)
		}
		uids[uid] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating external uids: %w", err)
	}

	return uids, nil
}

// MarkMessageRead sets the read flag. It is the only in-place mutation of a message.
func MarkMessageRead(ctx context.Context, pool *pgxpool.Pool, id string) error {
	if !isUUID(id) {
		return ErrMessageNotFound
	}
	tag, err := pool.Exec(ctx, `UPDATE messages SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// DeleteMessage removes the message, its recipients and its attachment rows.
// It returns the blob keys the caller must delete from storage.
func DeleteMessage(ctx context.Context, pool *pgxpool.Pool, id string) ([]string, error) {
	if !isUUID(id) {
		return nil, ErrMessageNotFound
	}
	var keys []string
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT blob_key FROM attachments WHERE message_id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to get attachment keys: %w", err)
		}
		keys, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to collect attachment keys: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrMessageNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// containsPattern turns a user substring into an ILIKE pattern, or "" for no filter.
func containsPattern(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
