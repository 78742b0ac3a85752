// Package imaparchive stores a copy of every delivered message in an IMAP mailbox.
package imaparchive

import (
	"context"
	"time"

	"github.com/net-tools/mailqueue"
)

const defaultMailbox = "Sent"

// Appender stores a raw message in a mailbox.
type Appender interface {
	Append(ctx context.Context, mailbox string, msg []byte, at time.Time) error
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithMailbox sets the target mailbox. The default is "Sent".
func WithMailbox(mailbox string) Option {
	return func(m *Mailer) {
		m.mailbox = mailbox
	}
}

// WithStrict makes archive failures fail the send. By default they are only logged,
// since the message was already delivered.
func WithStrict() Option {
	return func(m *Mailer) {
		m.strict = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger mailqueue.Logger) Option {
	return func(m *Mailer) {
		m.logger = logger
	}
}

// WithClock sets the clock stamping archived copies.
func WithClock(clock mailqueue.Clock) Option {
	return func(m *Mailer) {
		m.clock = clock
	}
}

// Mailer decorates a mailqueue.Mailer and archives each successful delivery.
type Mailer struct {
	next     mailqueue.Mailer
	appender Appender
	mailbox  string
	strict   bool
	logger   mailqueue.Logger
	clock    mailqueue.Clock
}

var _ mailqueue.Mailer = (*Mailer)(nil)

// New wraps next.
func New(next mailqueue.Mailer, appender Appender, opts ...Option) *Mailer {
	if next == nil {
		panic("imaparchive: nil Mailer")
	}
	if appender == nil {
		panic("imaparchive: nil Appender")
	}
	m := &Mailer{
		next:     next,
		appender: appender,
		mailbox:  defaultMailbox,
		logger:   mailqueue.NopLogger{},
		clock:    mailqueue.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SendRaw implements mailqueue.Mailer.
func (m *Mailer) SendRaw(ctx context.Context, to, subject string, body []byte, headers mailqueue.Header) error {
	if err := m.next.SendRaw(ctx, to, subject, body, headers); err != nil {
		return err
	}

	copyHeaders := headers.Clone()
	copyHeaders.Del("Bcc")
	msg := mailqueue.BuildMessage(to, subject, body, copyHeaders)
	if err := m.appender.Append(ctx, m.mailbox, msg, m.clock.Now()); err != nil {
		if m.strict {
			return err
		}
		m.logger.Warn("imaparchive append failed", "mailbox", m.mailbox, "to", to, "err", err)
	}

	return nil
}
