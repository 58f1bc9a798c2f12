package email

import "context"

// Message is a plain notification email.
type Message struct {
	To          string
	Subject     string
	TextContent string
	HTMLContent string
}

// Sender delivers email messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
