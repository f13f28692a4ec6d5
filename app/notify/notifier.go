package notify

import "context"

// Notifier delivers a run report to a human.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Noop discards every message. Used when no channel is configured.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) Send(ctx context.Context, message string) error {
	return nil
}

// New returns a Telegram notifier when both token and chat are set, Noop otherwise.
func New(botToken, chatID string) Notifier {
	if botToken == "" || chatID == "" {
		return Noop{}
	}
	return NewTelegram(botToken, chatID)
}
