package mailqueue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates a missing item, queue or recipient.
	ErrNotFound = errors.New("mailqueue: not found")
	// ErrMalformedData indicates an envelope or catalog file that cannot be decoded.
	ErrMalformedData = errors.New("mailqueue: malformed data")
	// ErrStorage indicates a folder or file could not be created or written.
	ErrStorage = errors.New("mailqueue: storage failure")
	// ErrEmptyQueue is returned by Send when no item is pending.
	ErrEmptyQueue = errors.New("mailqueue: queue is empty")
	// ErrMissingStore is returned when the catalog does not exist and may not be created.
	ErrMissingStore = errors.New("mailqueue: store does not exist")
	// ErrBatchFailed is matched by SendError when at least one item of a batch failed.
	ErrBatchFailed = errors.New("mailqueue: errors occurred during queue processing")
	// ErrDetached indicates a queue without a registry, i.e. Setup was not called.
	ErrDetached = errors.New("mailqueue: queue is not attached to a store")
	// ErrInvalidSortKey is returned by List for an unknown sort key or order.
	ErrInvalidSortKey = errors.New("mailqueue: invalid sort key")
	// ErrInvalidID is returned when parsing a queue id fails.
	ErrInvalidID = errors.New("mailqueue: queue id is invalid")
	// ErrWorkerPanic indicates a drainer panic.
	ErrWorkerPanic = errors.New("mailqueue: drainer panic")
)

// SendError aggregates the per-item failures of one Send call.
// It is returned after the queue state has been committed.
type SendError struct {
	QueueID  string
	Title    string
	Failures []string
}

// Error implements error.
func (e *SendError) Error() string {
	return fmt.Sprintf("mailqueue: errors occurred during queue processing '%s' (%s): %s",
		e.Title, e.QueueID, strings.Join(e.Failures, "; "))
}

// Unwrap allows errors.Is(err, ErrBatchFailed).
func (e *SendError) Unwrap() error {
	return ErrBatchFailed
}
