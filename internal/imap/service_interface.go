package imap

import (
	"context"

	"github.com/vdavid/yesmail/internal/models"
)

// SyncService is the part of Service the HTTP layer uses.
//
//goland:noinspection GoNameStartsWithPackageName
type SyncService interface {
	SyncInbox(ctx context.Context, accountID string) ([]*models.MailMessage, error)
	SyncAndList(ctx context.Context, accountID string, limit, offset int) ([]*models.MailMessage, error)
	WatchInbox(ctx context.Context, accountID string, sessions SessionCounter)
}

var _ SyncService = (*Service)(nil)
