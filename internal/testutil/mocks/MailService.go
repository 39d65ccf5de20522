package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/yesmail/internal/models"
)

// MailService is a testify mock of the local mail store service.
type MailService struct {
	mock.Mock
}

// NewMailService creates the mock and asserts its expectations when the test ends.
func NewMailService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MailService {
	m := &MailService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MailService) ListInbox(ctx context.Context, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error) {
	args := m.Called(ctx, accountID, filter)
	messages, _ := args.Get(0).([]*models.MailMessage)
	return messages, args.Error(1)
}

func (m *MailService) ListSent(ctx context.Context, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error) {
	args := m.Called(ctx, accountID, filter)
	messages, _ := args.Get(0).([]*models.MailMessage)
	return messages, args.Error(1)
}

func (m *MailService) GetMessage(ctx context.Context, accountID, id string) (*models.MailMessage, error) {
	args := m.Called(ctx, accountID, id)
	msg, _ := args.Get(0).(*models.MailMessage)
	return msg, args.Error(1)
}

func (m *MailService) MarkRead(ctx context.Context, accountID, id string) error {
	return m.Called(ctx, accountID, id).Error(0)
}

func (m *MailService) DeleteMessage(ctx context.Context, accountID, id string) error {
	return m.Called(ctx, accountID, id).Error(0)
}

func (m *MailService) Upload(ctx context.Context, accountID, messageID, filename, contentType string, content []byte) (*models.Attachment, error) {
	args := m.Called(ctx, accountID, messageID, filename, contentType, content)
	attachment, _ := args.Get(0).(*models.Attachment)
	return attachment, args.Error(1)
}

func (m *MailService) Download(ctx context.Context, accountID, attachmentID string) (*models.Attachment, []byte, error) {
	args := m.Called(ctx, accountID, attachmentID)
	attachment, _ := args.Get(0).(*models.Attachment)
	content, _ := args.Get(1).([]byte)
	return attachment, content, args.Error(2)
}
