package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ResendOptions overrides routing when an item is sent again.
type ResendOptions struct {
	// Bcc adds a blind copy recipient.
	Bcc string
	// To replaces the stored recipient.
	To string
}

// Send processes the next batch of pending items. Each item is handed to mailer
// with the supplemental headers appended, and its status is set to StatusSent or
// StatusError. The send offset advances past every attempted item whatever the
// outcome, the catalog is committed, and then a *SendError is returned if any
// item failed. ctx is passed to the mailer; a cancelled context does not stop
// the batch early.
func (q *Queue) Send(ctx context.Context, mailer Mailer, supplemental Header) error {
	if q.sendOffset >= q.count {
		return fmt.Errorf("%w: '%s'", ErrEmptyQueue, q.title)
	}

	start := time.Now()
	end := min(q.sendOffset+q.batchCount, q.count)
	failures := make([]string, 0)
	sent := 0

	for i := q.sendOffset; i < end; i++ {
		if err := q.sendItem(ctx, mailer, i, ResendOptions{}, supplemental); err != nil {
			q.logger.Warn("mailqueue send failed", "queue", q.id, "index", i, "err", err)
			failures = append(failures, err.Error())

			continue
		}
		sent++
	}

	now := q.clock.Now()
	q.sendOffset = end
	q.lastBatchDate = &now
	q.locked = q.sendOffset >= q.count
	q.sendLog = append(q.sendLog, failures...)

	q.metrics.ObserveBatchDuration(time.Since(start))
	q.metrics.AddSent(sent)
	q.metrics.AddFailed(len(failures))

	if err := q.Commit(); err != nil {
		return err
	}
	q.logger.Info("mailqueue batch sent", "queue", q.id, "sent", sent, "failed", len(failures), "pending", q.Pending())

	if len(failures) > 0 {
		return &SendError{QueueID: q.id, Title: q.title, Failures: failures}
	}

	return nil
}

// Resend sends the item at index again, whatever its status, and records the
// new status. The catalog is not committed.
func (q *Queue) Resend(ctx context.Context, mailer Mailer, index int, opts ResendOptions) error {
	if err := q.sendItem(ctx, mailer, index, opts, Header{}); err != nil {
		return fmt.Errorf("resend in queue '%s': %w", q.title, err)
	}

	return nil
}

func (q *Queue) sendItem(ctx context.Context, mailer Mailer, index int, opts ResendOptions, supplemental Header) error {
	env, err := ReadEnvelope(q, index, true)
	if err != nil {
		return err
	}
	body, err := ReadBody(q, index, true)
	if err != nil {
		return markFailed(env, err)
	}
	headers, err := ParseHeader(env.Headers)
	if err != nil {
		return markFailed(env, err)
	}

	if opts.Bcc != "" {
		headers.Set("Bcc", opts.Bcc)
	}
	headers.Merge(supplemental)
	to := env.To
	if opts.To != "" {
		to = opts.To
	}

	if sendErr := mailer.SendRaw(ctx, to, env.Subject, body.Content, headers); sendErr != nil {
		return markFailed(env, fmt.Errorf("Can't send email to '%s' (%s) : %w", to, q.title, sendErr))
	}

	env.Status = StatusSent
	if err := env.Write(); err != nil {
		return fmt.Errorf("'%s' (%s) was sent but its status could not be saved: %w", to, q.title, err)
	}

	return nil
}

func markFailed(env *Envelope, cause error) error {
	env.Status = StatusError
	if err := env.Write(); err != nil {
		return errors.Join(cause, err)
	}

	return cause
}
