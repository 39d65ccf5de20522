package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/yesmail/internal/models"
)

// MailboxBinder is a testify mock of the credential vault's bind operations.
type MailboxBinder struct {
	mock.Mock
}

// NewMailboxBinder creates the mock and asserts its expectations when the test ends.
func NewMailboxBinder(t interface {
	mock.TestingT
	Cleanup(func())
}) *MailboxBinder {
	m := &MailboxBinder{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MailboxBinder) Bind(ctx context.Context, accountID string, cfg models.MailServerConfig, secret string) (*models.BoundMailbox, error) {
	args := m.Called(ctx, accountID, cfg, secret)
	mailbox, _ := args.Get(0).(*models.BoundMailbox)
	return mailbox, args.Error(1)
}

func (m *MailboxBinder) Unbind(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}
