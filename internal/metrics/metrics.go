// Package metrics publishes queue counters through expvar.
package metrics

import (
	"expvar"
	"time"

	"github.com/net-tools/mailqueue"
)

var (
	MessagesPushed = expvar.NewInt("mailqueue_messages_pushed_total")
	MessagesSent   = expvar.NewInt("mailqueue_messages_sent_total")
	SendFailures   = expvar.NewInt("mailqueue_send_failures_total")
	Batches        = expvar.NewInt("mailqueue_batches_total")
	batchSeconds   = expvar.NewFloat("mailqueue_last_batch_seconds")
	pending        = expvar.NewInt("mailqueue_pending")
)

// Recorder implements mailqueue.Metrics on the package counters.
type Recorder struct{}

var _ mailqueue.Metrics = Recorder{}

// ObserveBatchDuration implements mailqueue.Metrics.
func (Recorder) ObserveBatchDuration(d time.Duration) {
	Batches.Add(1)
	batchSeconds.Set(d.Seconds())
}

// AddPushed implements mailqueue.Metrics.
func (Recorder) AddPushed(n int) {
	MessagesPushed.Add(int64(n))
}

// AddSent implements mailqueue.Metrics.
func (Recorder) AddSent(n int) {
	MessagesSent.Add(int64(n))
}

// AddFailed implements mailqueue.Metrics.
func (Recorder) AddFailed(n int) {
	SendFailures.Add(int64(n))
}

// SetPending implements mailqueue.Metrics.
func (Recorder) SetPending(n int) {
	pending.Set(int64(n))
}

// Pending returns the last pending sample.
func Pending() int64 {
	return pending.Value()
}

// ResetForTests clears counters; intended for use in tests only.
func ResetForTests() {
	MessagesPushed.Set(0)
	MessagesSent.Set(0)
	SendFailures.Set(0)
	Batches.Set(0)
	batchSeconds.Set(0)
	pending.Set(0)
}
