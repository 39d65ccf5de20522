package websocket

// Notifier is what the mail core needs from the hub. Implementations must not block
// on slow sessions for long and must not fail the caller.
type Notifier interface {
	NotifyNewMail(accountID, subject, from string)
}

var _ Notifier = (*Hub)(nil)

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) NotifyNewMail(string, string, string) {}
