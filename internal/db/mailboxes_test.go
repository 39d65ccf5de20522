package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/testutil"
)

func TestBoundMailboxes(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	account, err := CreateAccount(ctx, pool, "carol", "carol@example.com", "hash")
	require.NoError(t, err)

	_, err = GetBoundMailbox(ctx, pool, account.ID)
	assert.ErrorIs(t, err, ErrBoundMailboxNotFound)

	mailbox := &models.BoundMailbox{
		AccountID:      account.ID,
		EmailAddress:   "carol@remote.com",
		IMAPServer:     "imap.remote.com",
		IMAPPort:       993,
		IMAPTLSMode:    models.TLSModeImplicit,
		SMTPServer:     "smtp.remote.com",
		SMTPPort:       587,
		SMTPTLSMode:    models.TLSModeStartTLS,
		SealedPassword: []byte("sealed-1"),
	}
	require.NoError(t, UpsertBoundMailbox(ctx, pool, mailbox))
	firstID := mailbox.ID

	got, err := GetBoundMailbox(ctx, pool, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol@remote.com", got.EmailAddress)
	assert.Equal(t, models.TLSModeStartTLS, got.SMTPTLSMode)
	assert.Equal(t, []byte("sealed-1"), got.SealedPassword)

	t.Run("upsert replaces in place", func(t *testing.T) {
		mailbox.IMAPPort = 143
		mailbox.IMAPTLSMode = models.TLSModeStartTLS
		mailbox.SealedPassword = []byte("sealed-2")
		require.NoError(t, UpsertBoundMailbox(ctx, pool, mailbox))
		assert.Equal(t, firstID, mailbox.ID)

		got, err := GetBoundMailbox(ctx, pool, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 143, got.IMAPPort)
		assert.Equal(t, []byte("sealed-2"), got.SealedPassword)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, DeleteBoundMailbox(ctx, pool, account.ID))
		assert.ErrorIs(t, DeleteBoundMailbox(ctx, pool, account.ID), ErrBoundMailboxNotFound)
	})
}

func TestReattachMessagesAfterRebind(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	dave, err := CreateAccount(ctx, pool, "dave", "dave@example.com", "hash")
	require.NoError(t, err)
	erin, err := CreateAccount(ctx, pool, "erin", "erin@example.com", "hash")
	require.NoError(t, err)

	bind := func(account *models.Account) *models.BoundMailbox {
		mailbox := &models.BoundMailbox{
			AccountID:      account.ID,
			EmailAddress:   "shared@remote.com",
			IMAPServer:     "imap.remote.com",
			IMAPPort:       993,
			IMAPTLSMode:    models.TLSModeImplicit,
			SMTPServer:     "smtp.remote.com",
			SMTPPort:       465,
			SMTPTLSMode:    models.TLSModeImplicit,
			SealedPassword: []byte("sealed"),
		}
		require.NoError(t, UpsertBoundMailbox(ctx, pool, mailbox))
		return mailbox
	}
	fetched := func(account *models.Account, mailbox *models.BoundMailbox, uid string) {
		_, err := CreateMessage(ctx, pool, &models.MailMessage{
			FromAddress:    "news@remote.com",
			Subject:        uid,
			ExternalUID:    &uid,
			BoundMailboxID: &mailbox.ID,
			SourceAddress:  mailbox.EmailAddress,
			RecipientIDs:   []string{account.ID},
		})
		require.NoError(t, err)
	}

	daveBox := bind(dave)
	fetched(dave, daveBox, "7:1")
	fetched(dave, daveBox, "7:2")
	erinBox := bind(erin)
	fetched(erin, erinBox, "7:1")

	require.NoError(t, DeleteBoundMailbox(ctx, pool, dave.ID))
	require.NoError(t, DeleteBoundMailbox(ctx, pool, erin.ID))

	rebound := bind(dave)
	assert.NotEqual(t, daveBox.ID, rebound.ID)

	known, err := GetExternalUIDs(ctx, pool, rebound.ID)
	require.NoError(t, err)
	assert.Len(t, known, 2)

	var orphans int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE bound_mailbox_id IS NULL`).Scan(&orphans))
	assert.Equal(t, 1, orphans, "another account's messages stay detached")
}
