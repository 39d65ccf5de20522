package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vdavid/yesmail/internal/models"
)

// Dispatcher is a testify mock of the outbound mail router.
type Dispatcher struct {
	mock.Mock
}

// NewDispatcher creates the mock and asserts its expectations when the test ends.
func NewDispatcher(t interface {
	mock.TestingT
	Cleanup(func())
}) *Dispatcher {
	m := &Dispatcher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Dispatcher) Send(ctx context.Context, senderID string, req models.SendRequest) (*models.DeliveryReport, error) {
	args := m.Called(ctx, senderID, req)
	report, _ := args.Get(0).(*models.DeliveryReport)
	return report, args.Error(1)
}

func (m *Dispatcher) SendViaBoundMailbox(ctx context.Context, senderID string, req models.SendRequest) (*models.MailMessage, []string, error) {
	args := m.Called(ctx, senderID, req)
	msg, _ := args.Get(0).(*models.MailMessage)
	warnings, _ := args.Get(1).([]string)
	return msg, warnings, args.Error(2)
}
