package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Drainer sends pending items of every open queue of a Store, one batch per queue
// per round. Failed items are never retried.
type Drainer struct {
	store  *Store
	mailer Mailer
	cfg    DrainConfig
}

// NewDrainer constructs a Drainer with defaults and optional settings.
func NewDrainer(store *Store, mailer Mailer, opts ...DrainOption) *Drainer {
	if store == nil {
		panic("mailqueue: nil Store")
	}
	if mailer == nil {
		panic("mailqueue: nil Mailer")
	}

	var cfg DrainConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Drainer{
		store:  store,
		mailer: mailer,
		cfg:    cfg.withDefaults(),
	}
}

// Run polls the store until ctx is cancelled. A cancelled context is not an error.
func (d *Drainer) Run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.cfg.Logger.Error("mailqueue drainer panic", "panic", rec)
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sent, err := d.ProcessOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			d.cfg.Logger.Error("mailqueue drainer error", "err", err)

			return err
		}
		if sent {
			continue
		}
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

// ProcessOnce sends one batch for every open queue, oldest queue first. It
// reports whether any batch was sent. Only storage failures are returned; failed
// items are reported to the error handler.
func (d *Drainer) ProcessOnce(ctx context.Context) (bool, error) {
	d.cfg.Locker.Lock()
	defer d.cfg.Locker.Unlock()

	queues, err := d.store.List(SortByDate, Ascending)
	if err != nil {
		return false, err
	}

	sent := false
	pending := 0
	for _, q := range queues {
		if q.Pending() > 0 {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			if err := d.sendBatch(ctx, q); err != nil {
				return sent, err
			}
			sent = true
		}
		pending += q.Pending()
	}
	d.cfg.Metrics.SetPending(pending)

	return sent, nil
}

// DrainQueue sends batches of q until it is locked or ctx is cancelled. The
// failures of every batch are joined in the returned error.
func (d *Drainer) DrainQueue(ctx context.Context, q *Queue) error {
	var failures error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(failures, err)
		}

		d.cfg.Locker.Lock()
		if q.Pending() <= 0 {
			d.cfg.Locker.Unlock()

			return failures
		}
		err := q.Send(ctx, d.mailer, d.cfg.Headers)
		d.cfg.Locker.Unlock()

		var sendErr *SendError
		switch {
		case err == nil:
		case errors.As(err, &sendErr):
			d.reportFailure(ctx, q, err)
			failures = errors.Join(failures, err)
		default:
			return errors.Join(failures, err)
		}
	}
}

func (d *Drainer) sendBatch(ctx context.Context, q *Queue) error {
	err := q.Send(ctx, d.mailer, d.cfg.Headers)
	if err == nil || errors.Is(err, ErrEmptyQueue) {
		return nil
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		d.reportFailure(ctx, q, err)

		return nil
	}

	return fmt.Errorf("mailqueue: send queue '%s': %w", q.Title(), err)
}

func (d *Drainer) reportFailure(ctx context.Context, q *Queue, err error) {
	d.cfg.Logger.Warn("mailqueue batch had failures", "queue", q.ID(), "title", q.Title(), "err", err)
	if d.cfg.ErrorHandler != nil {
		d.cfg.ErrorHandler(ctx, q, err)
	}
}

func (d *Drainer) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
