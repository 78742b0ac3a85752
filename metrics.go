package mailqueue

import "time"

// Metrics captures queue-level telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to send a batch.
	ObserveBatchDuration(duration time.Duration)
	// AddPushed increments the count of enqueued messages.
	AddPushed(count int)
	// AddSent increments the count of messages accepted by the mailer.
	AddSent(count int)
	// AddFailed increments the count of messages rejected by the mailer.
	AddFailed(count int)
	// SetPending updates the number of messages waiting in open queues.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddPushed implements Metrics.
func (NopMetrics) AddPushed(int) {}

// AddSent implements Metrics.
func (NopMetrics) AddSent(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
