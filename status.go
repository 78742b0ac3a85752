package mailqueue

// Status represents the delivery state of a queued message.
type Status int8

const (
	// StatusToSend indicates the message waits for a batch.
	StatusToSend Status = -1
	// StatusSent indicates the mailer accepted the message.
	StatusSent Status = 0
	// StatusError indicates the mailer rejected the message or a bounce was reported.
	StatusError Status = 1
)

// String returns a lowercase label for the status.
func (s Status) String() string {
	switch s {
	case StatusToSend:
		return "tosend"
	case StatusSent:
		return "sent"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
