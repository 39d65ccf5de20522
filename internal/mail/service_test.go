package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/blob"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/testutil"
)

type mailFixture struct {
	service *Service
	blobs   *blob.FilesystemStore
	alice   *models.Account
	bob     *models.Account
	mallory *models.Account
	message *models.MailMessage
}

func newMailFixture(t *testing.T) *mailFixture {
	t.Helper()
	ctx := context.Background()
	pool := testutil.NewTestDB(t)

	alice, err := db.CreateAccount(ctx, pool, "alice", "alice@x.com", "hash")
	require.NoError(t, err)
	bob, err := db.CreateAccount(ctx, pool, "bob", "bob@x.com", "hash")
	require.NoError(t, err)
	mallory, err := db.CreateAccount(ctx, pool, "mallory", "mallory@x.com", "hash")
	require.NoError(t, err)

	msg := &models.MailMessage{
		SenderID:     &alice.ID,
		FromAddress:  alice.Email,
		Subject:      "Quarterly report",
		Body:         "Numbers inside",
		IsInternal:   true,
		RecipientIDs: []string{bob.ID},
	}
	_, err = db.CreateMessage(ctx, pool, msg)
	require.NoError(t, err)

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	return &mailFixture{
		service: NewService(pool, blobs, 1024),
		blobs:   blobs,
		alice:   alice,
		bob:     bob,
		mallory: mallory,
		message: msg,
	}
}

func TestListings(t *testing.T) {
	f := newMailFixture(t)
	ctx := context.Background()

	inbox, err := f.service.ListInbox(ctx, f.bob.ID, models.MessageFilter{Subject: "quarterly"})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, []string{"bob@x.com"}, inbox[0].Recipients)

	inbox, err = f.service.ListInbox(ctx, f.bob.ID, models.MessageFilter{Sender: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, inbox)

	sent, err := f.service.ListSent(ctx, f.alice.ID, models.MessageFilter{Recipient: "BOB"})
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestGetMessage(t *testing.T) {
	f := newMailFixture(t)
	ctx := context.Background()

	for _, account := range []*models.Account{f.alice, f.bob} {
		msg, err := f.service.GetMessage(ctx, account.ID, f.message.ID)
		require.NoError(t, err)
		assert.Equal(t, "Quarterly report", msg.Subject)
	}

	_, err := f.service.GetMessage(ctx, f.mallory.ID, f.message.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = f.service.GetMessage(ctx, f.alice.ID, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.service.GetMessage(ctx, f.alice.ID, "not-a-uuid")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkRead(t *testing.T) {
	f := newMailFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.service.MarkRead(ctx, f.mallory.ID, f.message.ID), apperr.ErrPermission)

	require.NoError(t, f.service.MarkRead(ctx, f.bob.ID, f.message.ID))
	msg, err := f.service.GetMessage(ctx, f.bob.ID, f.message.ID)
	require.NoError(t, err)
	assert.True(t, msg.IsRead)
}

func TestUploadAndDownload(t *testing.T) {
	f := newMailFixture(t)
	ctx := context.Background()

	t.Run("only the sender uploads", func(t *testing.T) {
		_, err := f.service.Upload(ctx, f.bob.ID, f.message.ID, "x.txt", "text/plain", []byte("x"))
		assert.ErrorIs(t, err, apperr.ErrPermission)
	})

	t.Run("size limit", func(t *testing.T) {
		_, err := f.service.Upload(ctx, f.alice.ID, f.message.ID, "big.bin", "", make([]byte, 2048))
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	attachment, err := f.service.Upload(ctx, f.alice.ID, f.message.ID, "../report.csv", "text/csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "report.csv", attachment.Filename)
	assert.Equal(t, int64(8), attachment.SizeBytes)

	t.Run("participants download", func(t *testing.T) {
		for _, account := range []*models.Account{f.alice, f.bob} {
			got, content, err := f.service.Download(ctx, account.ID, attachment.ID)
			require.NoError(t, err)
			assert.Equal(t, "report.csv", got.Filename)
			assert.Equal(t, "a,b\n1,2\n", string(content))
		}
	})

	t.Run("outsiders are refused whether or not the id exists", func(t *testing.T) {
		_, _, err := f.service.Download(ctx, f.mallory.ID, attachment.ID)
		assert.ErrorIs(t, err, apperr.ErrPermission)

		_, _, err = f.service.Download(ctx, f.mallory.ID, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, apperr.ErrPermission)
	})

	t.Run("missing content", func(t *testing.T) {
		require.NoError(t, f.blobs.Delete(ctx, attachment.BlobKey))
		_, _, err := f.service.Download(ctx, f.alice.ID, attachment.ID)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestDeleteMessage(t *testing.T) {
	f := newMailFixture(t)
	ctx := context.Background()

	attachment, err := f.service.Upload(ctx, f.alice.ID, f.message.ID, "notes.txt", "text/plain", []byte("hi"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.DeleteMessage(ctx, f.bob.ID, f.message.ID), apperr.ErrPermission)
	assert.ErrorIs(t, f.service.DeleteMessage(ctx, f.mallory.ID, f.message.ID), apperr.ErrPermission)

	require.NoError(t, f.service.DeleteMessage(ctx, f.alice.ID, f.message.ID))

	_, err = f.service.GetMessage(ctx, f.alice.ID, f.message.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.blobs.Get(ctx, attachment.BlobKey)
	assert.ErrorIs(t, err, blob.ErrObjectNotFound)
}
