package metrics

import (
	"testing"
	"time"
)

func TestRecorderCounters(t *testing.T) {
	ResetForTests()
	var r Recorder

	r.AddPushed(3)
	r.AddSent(2)
	r.AddFailed(1)
	r.SetPending(4)
	r.ObserveBatchDuration(1500 * time.Millisecond)

	if MessagesPushed.Value() != 3 {
		t.Fatalf("expected MessagesPushed=3, got %d", MessagesPushed.Value())
	}
	if MessagesSent.Value() != 2 || SendFailures.Value() != 1 {
		t.Fatalf("unexpected sent/failed %d/%d", MessagesSent.Value(), SendFailures.Value())
	}
	if Pending() != 4 {
		t.Fatalf("expected pending=4, got %d", Pending())
	}
	if Batches.Value() != 1 || batchSeconds.Value() != 1.5 {
		t.Fatalf("unexpected batch stats %d/%v", Batches.Value(), batchSeconds.Value())
	}

	ResetForTests()
	if Pending() != 0 || MessagesPushed.Value() != 0 {
		t.Fatalf("expected counters reset")
	}
}
