package imap

import (
	"context"
	"errors"
	"log"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/vdavid/yesmail/internal/apperr"
)

// idleRetryDelay is the backoff after a failed or ended IDLE session.
const idleRetryDelay = 10 * time.Second

// SessionCounter reports how many live sessions an account has.
type SessionCounter interface {
	ActiveConnections(accountID string) int
}

// WatchInbox holds an IDLE connection on the account's INBOX and runs SyncInbox
// whenever the server reports a change. It returns when ctx is cancelled, the
// account has no live sessions left, or it has no bound mailbox.
func (s *Service) WatchInbox(ctx context.Context, accountID string, sessions SessionCounter) {
	for {
		if ctx.Err() != nil || sessions.ActiveConnections(accountID) == 0 {
			return
		}

		if err := s.watchOnce(ctx, accountID); err != nil {
			if errors.Is(err, apperr.ErrConfiguration) {
				return
			}
			log.Printf("IMAP IDLE: account %s: %v", accountID, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idleRetryDelay):
		}
	}
}

func (s *Service) watchOnce(ctx context.Context, accountID string) error {
	mailbox, err := s.resolver.GetBoundMailbox(ctx, accountID)
	if err != nil {
		return err
	}
	password, err := s.resolver.ResolveSecret(ctx, mailbox)
	if err != nil {
		return err
	}

	c, err := s.dialer.Connect(ctx, EndpointFor(mailbox), mailbox.EmailAddress, password)
	if err != nil {
		return err
	}
	defer disconnect(c)

	updates := make(chan imapclient.Update, 16)
	c.Updates = updates

	if _, err := c.Select(inboxName, true); err != nil {
		return err
	}

	// IDLE connections sit silent for long stretches.
	c.Timeout = 0

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c).IdleWithFallback(stop, 5*time.Second)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return nil
		case err := <-done:
			return err
		case update := <-updates:
			mboxUpdate, ok := update.(*imapclient.MailboxUpdate)
			if !ok || mboxUpdate.Mailbox == nil || mboxUpdate.Mailbox.Name != inboxName {
				continue
			}
			if _, err := s.SyncInbox(ctx, accountID); err != nil {
				log.Printf("IMAP IDLE: account %s: sync after update failed: %v", accountID, err)
			}
		}
	}
}
