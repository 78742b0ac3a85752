// Package compose builds MIME messages that can be pushed to a queue.
package compose

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/net-tools/mailqueue"
)

// placeholderRecipient satisfies the builder; the To field is dropped after
// rendering because every queue item carries its own recipient.
const placeholderRecipient = "undisclosed-recipients@invalid"

const defaultSubject = "(no subject)"

// ErrNoBody is returned when neither a text nor an HTML part is given.
var ErrNoBody = errors.New("compose: message has no text or HTML part")

// Attachment is a file attached to the message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message describes the content shared by every recipient of a mailing.
type Message struct {
	// From is an RFC 5322 address, e.g. "News <news@example.com>".
	From    string
	ReplyTo string
	// Subject is only used to render the parts; queue items keep their own.
	Subject     string
	Text        string
	HTML        string
	Date        time.Time
	Headers     map[string]string
	Attachments []Attachment
}

// Mail is a rendered message. It implements mailqueue.Composer.
type Mail struct {
	content []byte
	headers mailqueue.Header
	domain  string
}

var _ mailqueue.Composer = (*Mail)(nil)

// Build renders m.
func (m Message) Build() (*Mail, error) {
	if m.Text == "" && m.HTML == "" {
		return nil, ErrNoBody
	}
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return nil, fmt.Errorf("compose: from %q: %w", m.From, err)
	}

	subject := m.Subject
	if subject == "" {
		subject = defaultSubject
	}
	b := enmime.Builder().
		From(from.Name, from.Address).
		To("", placeholderRecipient).
		Subject(subject)
	if !m.Date.IsZero() {
		b = b.Date(m.Date)
	}
	if m.ReplyTo != "" {
		replyTo, err := mail.ParseAddress(m.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("compose: reply-to %q: %w", m.ReplyTo, err)
		}
		b = b.ReplyTo(replyTo.Name, replyTo.Address)
	}
	if m.Text != "" {
		b = b.Text([]byte(m.Text))
	}
	if m.HTML != "" {
		b = b.HTML([]byte(m.HTML))
	}
	for name, value := range m.Headers {
		b = b.Header(name, value)
	}
	for _, a := range m.Attachments {
		b = b.AddAttachment(a.Data, a.ContentType, a.Name)
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("compose: build: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("compose: encode: %w", err)
	}

	return split(buf.Bytes(), domainOf(from.Address))
}

func split(raw []byte, domain string) (*Mail, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("compose: header: %w", err)
	}
	content, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("compose: body: %w", err)
	}
	h.Del("To")
	h.Del("Subject")
	h.Del("Message-Id")

	return &Mail{content: content, headers: mailqueue.Header{Header: h}, domain: domain}, nil
}

// Content implements mailqueue.Composer.
func (m *Mail) Content() []byte {
	return m.content
}

// Headers implements mailqueue.Composer. Every call carries a fresh Message-ID.
func (m *Mail) Headers() mailqueue.Header {
	h := m.headers.Clone()
	h.Set("Message-Id", "<"+uuid.NewString()+"@"+m.domain+">")

	return h
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return address[i+1:]
	}

	return "localhost"
}
