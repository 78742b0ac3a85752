package mailqueue

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

const mboxUnknownSender = "MAILER-DAEMON"

// PushMessage queues a complete RFC 5322 message. To and Subject are taken from
// the header block and removed from it; the remaining fields are kept verbatim.
func (q *Queue) PushMessage(raw []byte) error {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return fmt.Errorf("%w: message header: %v", ErrMalformedData, err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return fmt.Errorf("%w: message body: %v", ErrMalformedData, err)
	}

	to := h.Get("To")
	if to == "" {
		return fmt.Errorf("%w: message has no To header", ErrMalformedData)
	}
	subject := h.Get("Subject")
	h.Del("To")
	h.Del("Subject")

	return q.push(body, to, subject, Header{Header: h})
}

// PushMbox queues every message of an mbox stream and returns how many were
// pushed. It stops at the first message that cannot be queued.
func (q *Queue) PushMbox(r io.Reader) (int, error) {
	reader := mbox.NewReader(r)

	pushed := 0
	for {
		msg, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return pushed, nil
			}

			return pushed, fmt.Errorf("%w: mbox message %d: %v", ErrMalformedData, pushed, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return pushed, fmt.Errorf("%w: mbox message %d: %v", ErrMalformedData, pushed, err)
		}
		if err := q.PushMessage(raw); err != nil {
			return pushed, fmt.Errorf("mbox message %d: %w", pushed, err)
		}
		pushed++
	}
}

// ExportMbox writes every readable item of q to w in mbox format and returns how
// many were written. Missing items are skipped.
func (q *Queue) ExportMbox(w io.Writer) (int, error) {
	writer := mbox.NewWriter(w)

	written := 0
	for i := 0; i < q.count; i++ {
		env, err := ReadEnvelope(q, i, false)
		if err != nil {
			return written, err
		}
		body, err := ReadBody(q, i, false)
		if err != nil {
			return written, err
		}
		if env == nil || body == nil {
			continue
		}
		headers, err := ParseHeader(env.Headers)
		if err != nil {
			return written, err
		}

		mh := mail.Header{Header: message.Header{Header: headers.Header}}
		from := mboxUnknownSender
		if addrs, err := mh.AddressList("From"); err == nil && len(addrs) > 0 {
			from = addrs[0].Address
		}
		date, err := mh.Date()
		if err != nil || date.IsZero() {
			date = q.date
		}

		mw, err := writer.CreateMessage(from, date)
		if err != nil {
			return written, fmt.Errorf("%w: mbox export: %v", ErrStorage, err)
		}
		if _, err := mw.Write(BuildMessage(env.To, env.Subject, body.Content, headers)); err != nil {
			return written, fmt.Errorf("%w: mbox export: %v", ErrStorage, err)
		}
		written++
	}

	if err := writer.Close(); err != nil {
		return written, fmt.Errorf("%w: mbox export: %v", ErrStorage, err)
	}

	return written, nil
}
