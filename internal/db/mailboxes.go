package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/models"
)

// ErrBoundMailboxNotFound is returned when the account has no bound mailbox.
var ErrBoundMailboxNotFound = errors.New("bound mailbox not found")

// UpsertBoundMailbox stores the account's bound mailbox, replacing any existing row
// for the same account, and reattaches messages left behind by an earlier binding
// of the same address. Both happen in one transaction.
func UpsertBoundMailbox(ctx context.Context, pool *pgxpool.Pool, mailbox *models.BoundMailbox) error {
	return WithTx(ctx, pool, func(tx pgx.Tx) error {
		if err := upsertBoundMailbox(ctx, tx, mailbox); err != nil {
			return err
		}
		_, err := ReattachMessages(ctx, tx, mailbox)
		return err
	})
}

func upsertBoundMailbox(ctx context.Context, q Querier, mailbox *models.BoundMailbox) error {
	err := q.QueryRow(ctx, `
		INSERT INTO bound_mailboxes (
			account_id,
			email_address,
			imap_server,
			imap_port,
			imap_tls_mode,
			smtp_server,
			smtp_port,
			smtp_tls_mode,
			sealed_password
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account_id) DO UPDATE SET
			email_address = EXCLUDED.email_address,
			imap_server = EXCLUDED.imap_server,
			imap_port = EXCLUDED.imap_port,
			imap_tls_mode = EXCLUDED.imap_tls_mode,
			smtp_server = EXCLUDED.smtp_server,
			smtp_port = EXCLUDED.smtp_port,
			smtp_tls_mode = EXCLUDED.smtp_tls_mode,
			sealed_password = EXCLUDED.sealed_password,
			updated_at = now()
		RETURNING id, added_at, updated_at
	`,
		mailbox.AccountID,
		mailbox.EmailAddress,
		mailbox.IMAPServer,
		mailbox.IMAPPort,
		string(mailbox.IMAPTLSMode),
		mailbox.SMTPServer,
		mailbox.SMTPPort,
		string(mailbox.SMTPTLSMode),
		mailbox.SealedPassword,
	).Scan(&mailbox.ID, &mailbox.AddedAt, &mailbox.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save bound mailbox: %w", err)
	}

	return nil
}

// ReattachMessages points the account's orphaned messages from the mailbox's address
// back at the mailbox, so sync dedup sees them again. When orphans share an
// external uid only the oldest is reattached.
func ReattachMessages(ctx context.Context, q Querier, mailbox *models.BoundMailbox) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE messages
		SET bound_mailbox_id = $1
		WHERE id IN (
			SELECT DISTINCT ON (COALESCE(o.external_uid, o.id::text)) o.id
			FROM messages o
			WHERE o.bound_mailbox_id IS NULL
				AND o.source_address = $2
				AND (o.sender_id = $3 OR EXISTS (
					SELECT 1 FROM message_recipients r
					WHERE r.message_id = o.id AND r.account_id = $3
				))
				AND NOT EXISTS (
					SELECT 1 FROM messages d
					WHERE d.bound_mailbox_id = $1 AND d.external_uid = o.external_uid
				)
			ORDER BY COALESCE(o.external_uid, o.id::text), o.sent_at
		)
	`, mailbox.ID, NormalizeEmail(mailbox.EmailAddress), mailbox.AccountID)
	if err != nil {
		return 0, fmt.Errorf("failed to reattach messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetBoundMailbox returns the mailbox bound to the account.
func GetBoundMailbox(ctx context.Context, pool *pgxpool.Pool, accountID string) (*models.BoundMailbox, error) {
	var mailbox models.BoundMailbox
	var imapMode, smtpMode string

	err := pool.QueryRow(ctx, `
		SELECT
			id,
			account_id,
			email_address,
			imap_server,
			imap_port,
			imap_tls_mode,
			smtp_server,
			smtp_port,
			smtp_tls_mode,
			sealed_password,
			added_at,
			updated_at
		FROM bound_mailboxes
		WHERE account_id = $1
	`, accountID).Scan(
		&mailbox.ID,
		&mailbox.AccountID,
		&mailbox.EmailAddress,
		&mailbox.IMAPServer,
		&mailbox.IMAPPort,
		&imapMode,
		&mailbox.SMTPServer,
		&mailbox.SMTPPort,
		&smtpMode,
		&mailbox.SealedPassword,
		&mailbox.AddedAt,
		&mailbox.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBoundMailboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bound mailbox: %w", err)
	}

	mailbox.IMAPTLSMode = models.TLSMode(imapMode)
	mailbox.SMTPTLSMode = models.TLSMode(smtpMode)
	return &mailbox, nil
}

// DeleteBoundMailbox removes the account's binding. Messages fetched through it stay,
// detached but still carrying their source address.
func DeleteBoundMailbox(ctx context.Context, pool *pgxpool.Pool, accountID string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM bound_mailboxes WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete bound mailbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBoundMailboxNotFound
	}
	return nil
}
