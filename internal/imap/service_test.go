package imap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/blob"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/testutil"
)

const testMailboxAddress = "dave@remote.test"

type staticResolver struct {
	mailbox  *models.BoundMailbox
	password string
	err      error
}

func (r *staticResolver) GetBoundMailbox(context.Context, string) (*models.BoundMailbox, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.mailbox, nil
}

func (r *staticResolver) ResolveSecret(context.Context, *models.BoundMailbox) (string, error) {
	return r.password, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *recordingNotifier) NotifyNewMail(_, subject, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
}

func (n *recordingNotifier) Subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.subjects...)
}

type syncFixture struct {
	pool      *pgxpool.Pool
	server    *testutil.TestIMAPServer
	blobs     *blob.FilesystemStore
	notifier  *recordingNotifier
	resolver  *staticResolver
	service   *Service
	accountID string
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	ctx := context.Background()

	pool := testutil.NewTestDB(t)
	server := testutil.NewTestIMAPServerWithLogin(t, testMailboxAddress, "secret")

	account, err := db.CreateAccount(ctx, pool, "dave", "dave@yesmail.local", "hash")
	require.NoError(t, err)

	mailbox := &models.BoundMailbox{
		AccountID:      account.ID,
		EmailAddress:   testMailboxAddress,
		IMAPServer:     server.Host(),
		IMAPPort:       server.Port(),
		IMAPTLSMode:    models.TLSModeNone,
		SMTPServer:     "127.0.0.1",
		SMTPPort:       25,
		SMTPTLSMode:    models.TLSModeNone,
		SealedPassword: []byte("sealed"),
	}
	require.NoError(t, db.UpsertBoundMailbox(ctx, pool, mailbox))

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	resolver := &staticResolver{mailbox: mailbox, password: "secret"}
	notifier := &recordingNotifier{}

	return &syncFixture{
		pool:      pool,
		server:    server,
		blobs:     blobs,
		notifier:  notifier,
		resolver:  resolver,
		service:   NewService(pool, resolver, blobs, notifier, NewDialer(5*time.Second, 10*time.Second)),
		accountID: account.ID,
	}
}

func TestSyncInboxStoresEachMessageOnce(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	f.server.AppendText(t, "alice@remote.test", "First", "one", base)
	f.server.AppendText(t, "bob@remote.test", "Second", "two", base.Add(time.Hour), `\Seen`)

	persisted, err := f.service.SyncInbox(ctx, f.accountID)
	require.NoError(t, err)
	require.Len(t, persisted, 2)

	bySubject := map[string]*models.MailMessage{}
	for _, m := range persisted {
		bySubject[m.Subject] = m
	}
	require.Contains(t, bySubject, "First")
	require.Contains(t, bySubject, "Second")
	assert.Equal(t, "alice@remote.test", bySubject["First"].FromAddress)
	assert.False(t, bySubject["First"].IsRead)
	assert.True(t, bySubject["Second"].IsRead)
	assert.False(t, bySubject["First"].IsInternal)
	assert.Nil(t, bySubject["First"].SenderID)
	require.NotNil(t, bySubject["First"].ExternalUID)

	t.Run("only new messages on the next run", func(t *testing.T) {
		f.server.AppendText(t, "carol@remote.test", "Third", "three", base.Add(2*time.Hour))

		persisted, err := f.service.SyncInbox(ctx, f.accountID)
		require.NoError(t, err)
		require.Len(t, persisted, 1)
		assert.Equal(t, "Third", persisted[0].Subject)
	})

	t.Run("re-sync without changes stores nothing", func(t *testing.T) {
		persisted, err := f.service.SyncInbox(ctx, f.accountID)
		require.NoError(t, err)
		assert.Empty(t, persisted)

		all, err := db.ListExternalMessages(ctx, f.pool, f.accountID, 100, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	assert.ElementsMatch(t, []string{"First", "Second", "Third"}, f.notifier.Subjects())
}

func TestSyncInboxStoresAttachments(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	raw := "From: alice@remote.test\r\n" +
		"To: " + testMailboxAddress + "\r\n" +
		"Subject: Files\r\n" +
		"Date: Mon, 03 Mar 2025 10:00:00 +0000\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"See attached.\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
		"\r\n" +
		"some notes\r\n" +
		"--b1\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"data.bin\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"AAECAw==\r\n" +
		"--b1--\r\n"
	f.server.AppendRaw(t, []byte(raw))

	persisted, err := f.service.SyncInbox(ctx, f.accountID)
	require.NoError(t, err)
	require.Len(t, persisted, 1)

	stored, err := db.GetMessage(ctx, f.pool, persisted[0].ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Body, "See attached.")
	require.Len(t, stored.Attachments, 2)

	byName := map[string]models.Attachment{}
	for _, a := range stored.Attachments {
		byName[a.Filename] = a
	}
	require.Contains(t, byName, "data.bin")
	content, err := f.blobs.Get(ctx, byName["data.bin"].BlobKey)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, content)
	assert.Equal(t, int64(4), byName["data.bin"].SizeBytes)
}

func TestSyncInboxRejectedLogin(t *testing.T) {
	f := newSyncFixture(t)
	f.resolver.password = "wrong"

	_, err := f.service.SyncInbox(context.Background(), f.accountID)
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}

func TestSyncInboxUnreachableServer(t *testing.T) {
	f := newSyncFixture(t)
	unreachable := *f.resolver.mailbox
	unreachable.IMAPPort = 1
	f.resolver.mailbox = &unreachable

	_, err := f.service.SyncInbox(context.Background(), f.accountID)
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}

func TestSyncInboxWithoutBinding(t *testing.T) {
	f := newSyncFixture(t)
	f.resolver.err = apperr.Wrap(apperr.ErrConfiguration, "no mailbox bound")

	_, err := f.service.SyncInbox(context.Background(), f.accountID)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestSyncInboxCanceled(t *testing.T) {
	f := newSyncFixture(t)
	f.server.AppendText(t, "alice@remote.test", "Never", "x", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.SyncInbox(ctx, f.accountID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, apperr.ErrAuthentication))
}

func TestSyncInboxStopsAtMalformedMessage(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// Oldest first, so the newest-first run stores the valid one before hitting it.
	f.server.AppendRaw(t, []byte("From: mallory@remote.test\r\n"+
		"Subject: Broken\r\n"+
		"Date: sometime last week\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		"body\r\n"))
	f.server.AppendText(t, "alice@remote.test", "Fine", "ok", time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))

	persisted, err := f.service.SyncInbox(ctx, f.accountID)
	require.ErrorIs(t, err, apperr.ErrMalformedMessage)
	require.Len(t, persisted, 1)
	assert.Equal(t, "Fine", persisted[0].Subject)

	stored, err := db.ListExternalMessages(ctx, f.pool, f.accountID, 10, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Fine", stored[0].Subject)
}

func TestSyncInboxAfterRebindingSameAddress(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	f.server.AppendText(t, "alice@remote.test", "First", "one", base)
	f.server.AppendText(t, "bob@remote.test", "Second", "two", base.Add(time.Hour))

	persisted, err := f.service.SyncInbox(ctx, f.accountID)
	require.NoError(t, err)
	require.Len(t, persisted, 2)

	oldID := f.resolver.mailbox.ID
	require.NoError(t, db.DeleteBoundMailbox(ctx, f.pool, f.accountID))

	rebound := *f.resolver.mailbox
	rebound.ID = ""
	require.NoError(t, db.UpsertBoundMailbox(ctx, f.pool, &rebound))
	require.NotEqual(t, oldID, rebound.ID)
	f.resolver.mailbox = &rebound

	known, err := db.GetExternalUIDs(ctx, f.pool, rebound.ID)
	require.NoError(t, err)
	assert.Len(t, known, 2)

	persisted, err = f.service.SyncInbox(ctx, f.accountID)
	require.NoError(t, err)
	assert.Empty(t, persisted)

	var count int
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestSyncAndListPages(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		f.server.AppendText(t, "alice@remote.test", fmt.Sprintf("Message %d", i), "body", base.Add(time.Duration(i)*time.Hour))
	}

	page, err := f.service.SyncAndList(ctx, f.accountID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Message 2", page[0].Subject)
	assert.Equal(t, "Message 1", page[1].Subject)

	page, err = f.service.SyncAndList(ctx, f.accountID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Message 0", page[0].Subject)
}

func TestListUIDsNewestFirst(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	for i := 0; i < 3; i++ {
		server.AppendText(t, "alice@remote.test", fmt.Sprintf("n%d", i), "body", time.Now())
	}

	c, cleanup := server.Connect(t)
	defer cleanup()
	_, err := c.Select("INBOX", true)
	require.NoError(t, err)

	uids, err := ListUIDsNewestFirst(c)
	require.NoError(t, err)
	require.Len(t, uids, 3)
	assert.Greater(t, uids[0], uids[1])
	assert.Greater(t, uids[1], uids[2])

	fetched, err := FetchRaw(c, uids[0])
	require.NoError(t, err)
	assert.Contains(t, string(fetched.Raw), "Subject: n2")
	assert.False(t, fetched.Seen)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{"defaults", 0, 0, defaultLimit, 0},
		{"negative", -5, -1, defaultLimit, 0},
		{"capped", 1000, 20, maxPageLimit, 20},
		{"kept", 25, 5, 25, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := normalizePage(tt.limit, tt.offset)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

type fixedSessions int

func (n fixedSessions) ActiveConnections(string) int { return int(n) }

func TestWatchInboxStopsWithoutSessions(t *testing.T) {
	f := newSyncFixture(t)

	done := make(chan struct{})
	go func() {
		f.service.WatchInbox(context.Background(), f.accountID, fixedSessions(0))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchInbox did not return for an account without sessions")
	}
}

func TestWatchInboxStopsOnCancel(t *testing.T) {
	f := newSyncFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.service.WatchInbox(ctx, f.accountID, fixedSessions(1))
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("WatchInbox did not return after cancel")
	}
}

func TestWatchInboxStopsWithoutBinding(t *testing.T) {
	f := newSyncFixture(t)
	f.resolver.err = apperr.Wrap(apperr.ErrConfiguration, "no mailbox bound")

	done := make(chan struct{})
	go func() {
		f.service.WatchInbox(context.Background(), f.accountID, fixedSessions(1))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchInbox kept retrying without a bound mailbox")
	}
}
