package mailqueue

import "context"

// Mailer delivers one already-composed message.
type Mailer interface {
	// SendRaw sends body to the recipient with the given subject and header block.
	// A non-nil error marks the item as failed.
	SendRaw(ctx context.Context, to, subject string, body []byte, headers Header) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, to, subject string, body []byte, headers Header) error

// SendRaw implements Mailer.
func (fn MailerFunc) SendRaw(ctx context.Context, to, subject string, body []byte, headers Header) error {
	return fn(ctx, to, subject, body, headers)
}

// Composer is a composed message ready to be queued.
type Composer interface {
	// Content returns the raw message body (everything after the header block).
	Content() []byte
	// Headers returns the message header block, without To and Subject.
	Headers() Header
}
