package mailqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	envelopeExt = ".data"
	bodyExt     = ".mail"
	filePerm    = 0o600
	dirPerm     = 0o755
)

// Envelope is the routing metadata and delivery status of one queued message.
type Envelope struct {
	To      string
	Headers string
	Subject string
	Status  Status

	queue *Queue
	index int
}

type envelopeFile struct {
	To      string `json:"to"`
	Headers string `json:"headers"`
	Subject string `json:"subject"`
	Status  Status `json:"status"`
}

// NewEnvelope binds an empty envelope to the slot index of q.
func NewEnvelope(q *Queue, index int) *Envelope {
	return &Envelope{queue: q, index: index}
}

// Index returns the slot of the envelope in its queue.
func (e *Envelope) Index() int {
	return e.index
}

// ReadEnvelope loads the envelope stored at index. A missing file yields
// (nil, nil), or ErrNotFound when mustExist is set.
func ReadEnvelope(q *Queue, index int, mustExist bool) (*Envelope, error) {
	data, err := os.ReadFile(itemPath(q, index, envelopeExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return nil, fmt.Errorf("%w: no data at index %d of queue '%s'", ErrNotFound, index, q.title)
			}

			return nil, nil
		}

		return nil, fmt.Errorf("read data at index %d of queue '%s': %w", index, q.title, err)
	}

	var file envelopeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: data at index %d of queue '%s': %v", ErrMalformedData, index, q.title, err)
	}

	return &Envelope{
		To:      file.To,
		Headers: file.Headers,
		Subject: file.Subject,
		Status:  file.Status,
		queue:   q,
		index:   index,
	}, nil
}

// Write overwrites the envelope file.
func (e *Envelope) Write() error {
	data, err := json.Marshal(envelopeFile{
		To:      e.To,
		Headers: e.Headers,
		Subject: e.Subject,
		Status:  e.Status,
	})
	if err != nil {
		return fmt.Errorf("encode data at index %d: %w", e.index, err)
	}
	if err := os.WriteFile(itemPath(e.queue, e.index, envelopeExt), data, filePerm); err != nil {
		return fmt.Errorf("%w: write data at index %d: %v", ErrStorage, e.index, err)
	}

	return nil
}

// Body is the raw content of one queued message.
type Body struct {
	Content []byte

	queue *Queue
	index int
}

// NewBody binds content to the slot index of q.
func NewBody(q *Queue, index int, content []byte) *Body {
	return &Body{Content: content, queue: q, index: index}
}

// ReadBody loads the body stored at index. A missing file yields (nil, nil),
// or ErrNotFound when mustExist is set.
func ReadBody(q *Queue, index int, mustExist bool) (*Body, error) {
	content, err := os.ReadFile(itemPath(q, index, bodyExt))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return nil, fmt.Errorf("%w: no email content at index %d of queue '%s'", ErrNotFound, index, q.title)
			}

			return nil, nil
		}

		return nil, fmt.Errorf("read email content at index %d of queue '%s': %w", index, q.title, err)
	}

	return &Body{Content: content, queue: q, index: index}, nil
}

// Write overwrites the body file.
func (b *Body) Write() error {
	if err := os.WriteFile(itemPath(b.queue, b.index, bodyExt), b.Content, filePerm); err != nil {
		return fmt.Errorf("%w: write email content at index %d: %v", ErrStorage, b.index, err)
	}

	return nil
}

func queueDir(q *Queue) string {
	return filepath.Join(q.root, q.id)
}

func itemPath(q *Queue, index int, ext string) string {
	return filepath.Join(queueDir(q), q.id+"."+strconv.Itoa(index)+ext)
}
