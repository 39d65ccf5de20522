package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/yesmail/internal/imap"
	"github.com/vdavid/yesmail/internal/models"
)

// SyncService is a testify mock of imap.SyncService.
type SyncService struct {
	mock.Mock
}

// NewSyncService creates the mock and asserts its expectations when the test ends.
func NewSyncService(t interface {
	mock.TestingT
	Cleanup(func())
}) *SyncService {
	m := &SyncService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *SyncService) SyncInbox(ctx context.Context, accountID string) ([]*models.MailMessage, error) {
	args := m.Called(ctx, accountID)
	messages, _ := args.Get(0).([]*models.MailMessage)
	return messages, args.Error(1)
}

func (m *SyncService) SyncAndList(ctx context.Context, accountID string, limit, offset int) ([]*models.MailMessage, error) {
	args := m.Called(ctx, accountID, limit, offset)
	messages, _ := args.Get(0).([]*models.MailMessage)
	return messages, args.Error(1)
}

func (m *SyncService) WatchInbox(ctx context.Context, accountID string, sessions imap.SessionCounter) {
	m.Called(ctx, accountID, sessions)
}

var _ imap.SyncService = (*SyncService)(nil)
