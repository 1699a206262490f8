package notifications

import "context"

type SendInput struct {
	To      string
	Subject string
	Body    string
}

type Notifier interface {
	Send(ctx context.Context, input SendInput) error
}
