package mailqueue

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// QueueHeader names the header injected into every stored message.
// Its value is the id of the queue the message was pushed to.
const QueueHeader = "X-Mailqueue-Id"

// Header is an ordered message header set. Fields added with Add or Set are
// inserted at the top of the block.
type Header struct {
	textproto.Header
}

// ParseHeader parses a raw header block. Lines may end with CRLF or LF; an empty
// block yields an empty header. Leading and trailing line breaks are ignored,
// but a blank line inside the block is rejected.
func ParseHeader(raw string) (Header, error) {
	raw = strings.Trim(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if raw == "" {
		return Header{}, nil
	}

	r := bufio.NewReader(strings.NewReader(strings.ReplaceAll(raw, "\n", "\r\n") + "\r\n\r\n"))
	h, err := textproto.ReadHeader(r)
	if err != nil {
		return Header{}, fmt.Errorf("%w: header block: %v", ErrMalformedData, err)
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return Header{}, fmt.Errorf("%w: header block: %v", ErrMalformedData, err)
	}
	if strings.TrimSpace(string(rest)) != "" {
		return Header{}, fmt.Errorf("%w: header block: text after blank line", ErrMalformedData)
	}

	return Header{Header: h}, nil
}

// Clone returns an independent copy of the header.
func (h Header) Clone() Header {
	return Header{Header: h.Header.Copy()}
}

// Merge adds every field of other to h. Existing fields are kept.
func (h *Header) Merge(other Header) {
	type field struct{ key, value string }

	var fields []field
	it := other.Fields()
	for it.Next() {
		fields = append(fields, field{key: it.Key(), value: it.Value()})
	}
	for i := len(fields) - 1; i >= 0; i-- {
		h.Add(fields[i].key, fields[i].value)
	}
}

// String renders the header block with CRLF separators and no trailing blank line.
func (h Header) String() string {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h.Header); err != nil {
		return ""
	}

	return strings.TrimRight(buf.String(), "\r\n")
}

// BuildMessage renders a standalone message: the stored header block, then the
// To and Subject lines, a blank line and the body.
func BuildMessage(to, subject string, body []byte, headers Header) []byte {
	var buf bytes.Buffer
	if block := headers.String(); block != "" {
		buf.WriteString(block)
		buf.WriteString("\r\n")
	}
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: " + subject + "\r\n\r\n")
	buf.Write(body)

	return buf.Bytes()
}
