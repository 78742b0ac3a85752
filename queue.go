package mailqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBatchCount is the number of items a Send call processes when the
// queue was created without an explicit batch size.
const DefaultBatchCount = 50

// Registry is the catalog a queue reports to. *Store implements it.
type Registry interface {
	// CreateQueue creates and registers a sibling queue.
	CreateQueue(title string, batchCount int) (*Queue, error)
	// Commit persists the catalog.
	Commit() error
	// RemoveQueue unregisters q and persists the catalog.
	RemoveQueue(q *Queue) error
}

// Params is the runtime environment of a queue. It is never persisted and must be
// supplied again with Setup after a queue is restored.
type Params struct {
	Root      string
	Registry  Registry
	Generator IDGenerator
	Clock     Clock
	Logger    Logger
	Metrics   Metrics
}

// QueueState is the persisted part of a queue.
type QueueState struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Count         int        `json:"count"`
	SendOffset    int        `json:"sendOffset"`
	BatchCount    int        `json:"batchCount"`
	Date          time.Time  `json:"date"`
	LastBatchDate *time.Time `json:"lastBatchDate"`
	SendLog       []string   `json:"sendLog"`
	Locked        bool       `json:"locked"`
	Volume        int64      `json:"volume"`
}

// Queue is an append-only sequence of (Envelope, Body) pairs drained in batches.
type Queue struct {
	id            string
	title         string
	count         int
	sendOffset    int
	batchCount    int
	date          time.Time
	lastBatchDate *time.Time
	sendLog       []string
	locked        bool
	volume        int64

	root     string
	registry Registry
	clock    Clock
	logger   Logger
	metrics  Metrics
}

// Recipient is one line of the Recipients listing.
type Recipient struct {
	To     string `json:"to"`
	Index  int    `json:"index"`
	Status Status `json:"status"`
}

// CreateQueue creates an empty queue and its storage folder under params.Root.
// A non-positive batchCount selects DefaultBatchCount. The queue is not
// registered anywhere; Store.CreateQueue does that.
func CreateQueue(title string, params Params, batchCount int) (*Queue, error) {
	if batchCount <= 0 {
		batchCount = DefaultBatchCount
	}
	gen := params.Generator
	if gen == nil {
		gen = NewUUIDv7Generator()
	}
	id, err := gen.New()
	if err != nil {
		return nil, fmt.Errorf("mailqueue: generate id failed: %w", err)
	}

	q := &Queue{
		id:         id.String(),
		title:      title,
		batchCount: batchCount,
		sendLog:    []string{},
	}
	q.Setup(params)
	q.date = q.clock.Now()

	if err := os.MkdirAll(queueDir(q), dirPerm); err != nil {
		return nil, fmt.Errorf("%w: can't create folder for queue '%s': %v", ErrStorage, title, err)
	}

	return q, nil
}

// QueueFromState restores a detached queue. Call Setup before using it.
func QueueFromState(state QueueState) *Queue {
	q := &Queue{}
	q.restore(state)

	return q
}

// Setup attaches the queue to a storage root and a registry.
func (q *Queue) Setup(params Params) {
	q.root = strings.TrimRight(params.Root, `/\`)
	q.registry = params.Registry
	q.clock = params.Clock
	q.logger = params.Logger
	q.metrics = params.Metrics
	if q.clock == nil {
		q.clock = SystemClock{}
	}
	if q.logger == nil {
		q.logger = NopLogger{}
	}
	if q.metrics == nil {
		q.metrics = NopMetrics{}
	}
}

// State returns a snapshot of the persisted fields.
func (q *Queue) State() QueueState {
	state := QueueState{
		ID:         q.id,
		Title:      q.title,
		Count:      q.count,
		SendOffset: q.sendOffset,
		BatchCount: q.batchCount,
		Date:       q.date,
		SendLog:    append([]string{}, q.sendLog...),
		Locked:     q.locked,
		Volume:     q.volume,
	}
	if q.lastBatchDate != nil {
		last := *q.lastBatchDate
		state.LastBatchDate = &last
	}

	return state
}

func (q *Queue) restore(state QueueState) {
	q.id = state.ID
	q.title = state.Title
	q.count = state.Count
	q.sendOffset = state.SendOffset
	q.batchCount = state.BatchCount
	q.date = state.Date
	q.lastBatchDate = state.LastBatchDate
	q.sendLog = append([]string{}, state.SendLog...)
	q.locked = state.Locked
	q.volume = state.Volume
}

// MarshalJSON encodes the persisted fields only.
func (q *Queue) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.State())
}

// UnmarshalJSON restores the persisted fields; root and registry stay unset.
func (q *Queue) UnmarshalJSON(data []byte) error {
	var state QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: queue: %v", ErrMalformedData, err)
	}
	q.restore(state)

	return nil
}

// ID returns the queue identifier.
func (q *Queue) ID() string { return q.id }

// Title returns the queue name.
func (q *Queue) Title() string { return q.title }

// Count returns the number of pushed items.
func (q *Queue) Count() int { return q.count }

// SendOffset returns the number of items already processed by Send.
func (q *Queue) SendOffset() int { return q.sendOffset }

// Pending returns the number of items Send has not processed yet.
func (q *Queue) Pending() int { return q.count - q.sendOffset }

// BatchCount returns the maximum number of items per Send call.
func (q *Queue) BatchCount() int { return q.batchCount }

// Date returns the creation time.
func (q *Queue) Date() time.Time { return q.date }

// LastBatchDate returns the time of the last Send call, if any.
func (q *Queue) LastBatchDate() (time.Time, bool) {
	if q.lastBatchDate == nil {
		return time.Time{}, false
	}

	return *q.lastBatchDate, true
}

// SendLog returns a copy of the accumulated error lines.
func (q *Queue) SendLog() []string { return append([]string{}, q.sendLog...) }

// Locked reports whether every pushed item has been processed.
func (q *Queue) Locked() bool { return q.locked }

// Volume returns the cumulative size in bytes of pushed bodies.
func (q *Queue) Volume() int64 { return q.volume }

// Root returns the storage root the queue is attached to.
func (q *Queue) Root() string { return q.root }

// Push stores a composed message. The From header is set to from and the queue
// marker header is injected.
func (q *Queue) Push(mail Composer, from, to, subject string) error {
	headers := mail.Headers().Clone()
	headers.Set("From", from)

	return q.push(mail.Content(), to, subject, headers)
}

// PushRaw stores a message given as raw body and raw header block. The header
// block should already carry a From field.
func (q *Queue) PushRaw(body []byte, rawHeaders, to, subject string) error {
	headers, err := ParseHeader(rawHeaders)
	if err != nil {
		return err
	}

	return q.push(body, to, subject, headers)
}

func (q *Queue) push(content []byte, to, subject string, headers Header) error {
	if q.root == "" {
		return ErrDetached
	}

	index := q.count
	headers.Set(QueueHeader, q.id)

	if err := NewBody(q, index, content).Write(); err != nil {
		return fmt.Errorf("push to queue '%s': %w", q.title, err)
	}
	env := &Envelope{
		To:      to,
		Headers: headers.String(),
		Subject: subject,
		Status:  StatusToSend,
		queue:   q,
		index:   index,
	}
	if err := env.Write(); err != nil {
		return fmt.Errorf("push to queue '%s': %w", q.title, err)
	}

	q.count++
	q.volume += int64(len(content))
	q.locked = false
	q.metrics.AddPushed(1)

	return nil
}

// Rename changes the queue title and commits.
func (q *Queue) Rename(title string) error {
	q.title = title

	return q.Commit()
}

// Unlock clears the locked flag and commits.
func (q *Queue) Unlock() error {
	q.locked = false

	return q.Commit()
}

// ClearLog empties the send log and commits.
func (q *Queue) ClearLog() error {
	q.sendLog = []string{}

	return q.Commit()
}

// Commit persists the catalog the queue belongs to.
func (q *Queue) Commit() error {
	if q.registry == nil {
		return ErrDetached
	}

	return q.registry.Commit()
}

// Delete removes every item file and the queue folder, then unregisters the queue.
func (q *Queue) Delete() error {
	if q.registry == nil {
		return ErrDetached
	}

	dir := queueDir(q)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: list queue '%s': %v", ErrStorage, q.title, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), q.id+".") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("%w: delete queue '%s': %v", ErrStorage, q.title, err)
		}
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete queue '%s': %v", ErrStorage, q.title, err)
	}

	return q.registry.RemoveQueue(q)
}

// Search returns the index of the first item addressed to recipient.
// Missing or unreadable envelopes are skipped.
func (q *Queue) Search(recipient string) (int, error) {
	for i := 0; i < q.count; i++ {
		env := q.peekEnvelope(i)
		if env != nil && env.To == recipient {
			return i, nil
		}
	}

	return -1, fmt.Errorf("%w: recipient '%s' in queue '%s'", ErrNotFound, recipient, q.title)
}

// Recipients lists recipient, index and status of every readable item.
func (q *Queue) Recipients() []Recipient {
	out := make([]Recipient, 0, q.count)
	for i := 0; i < q.count; i++ {
		if env := q.peekEnvelope(i); env != nil {
			out = append(out, Recipient{To: env.To, Index: i, Status: env.Status})
		}
	}

	return out
}

func (q *Queue) peekEnvelope(index int) *Envelope {
	env, err := ReadEnvelope(q, index, false)
	if err != nil {
		q.logger.Warn("mailqueue skipping unreadable envelope", "queue", q.id, "index", index, "err", err)
		return nil
	}

	return env
}

// RecipientError flags an already sent item as failed, e.g. after a bounce
// report, appends a log line and commits.
func (q *Queue) RecipientError(index int) error {
	env, err := ReadEnvelope(q, index, true)
	if err != nil {
		return err
	}
	env.Status = StatusError
	if err := env.Write(); err != nil {
		return err
	}
	q.sendLog = append(q.sendLog, fmt.Sprintf("Error for '%s' (%s) : set to Error by user", env.To, q.title))

	return q.Commit()
}

// NewQueueFromErrors creates a sibling queue holding a copy of every failed item,
// reset to StatusToSend. Items of q are left untouched. If copying fails the
// new queue is deleted again.
func (q *Queue) NewQueueFromErrors(title string) (*Queue, error) {
	if q.registry == nil {
		return nil, ErrDetached
	}
	target, err := q.registry.CreateQueue(title, q.batchCount)
	if err != nil {
		return nil, err
	}

	if err := q.copyFailed(target); err != nil {
		return nil, errors.Join(err, target.Delete())
	}
	if err := target.Commit(); err != nil {
		return nil, errors.Join(err, target.Delete())
	}

	return target, nil
}

func (q *Queue) copyFailed(target *Queue) error {
	for i := 0; i < q.count; i++ {
		env, err := ReadEnvelope(q, i, true)
		if err != nil {
			return err
		}
		if env.Status != StatusError {
			continue
		}
		body, err := ReadBody(q, i, true)
		if err != nil {
			return err
		}
		headers, err := ParseHeader(env.Headers)
		if err != nil {
			return err
		}
		if err := target.push(body.Content, env.To, env.Subject, headers); err != nil {
			return err
		}
	}

	return nil
}

// EMLAt renders the item at index as a standalone message.
func (q *Queue) EMLAt(index int) (string, error) {
	env, body, err := q.item(index)
	if err != nil {
		return "", err
	}
	headers, err := ParseHeader(env.Headers)
	if err != nil {
		return "", err
	}

	return string(BuildMessage(env.To, env.Subject, body.Content, headers)), nil
}

func (q *Queue) item(index int) (*Envelope, *Body, error) {
	env, err := ReadEnvelope(q, index, true)
	if err != nil {
		return nil, nil, err
	}
	body, err := ReadBody(q, index, true)
	if err != nil {
		return env, nil, err
	}

	return env, body, nil
}
