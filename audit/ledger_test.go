package audit

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/intent"
)

func testIntent() intent.OrderIntent {
	return intent.OrderIntent{
		IntentID:   "intent-1",
		Instrument: "rb2501",
		Side:       intent.SideBuy,
		Offset:     intent.OffsetOpen,
		Algo:       intent.AlgoTWAP,
	}
}

func TestLedgerAssignsMonotonicSequence(t *testing.T) {
	sink := NewMemorySink()
	l := NewLedger(clock.NewSimulated(time.Unix(0, 0)), "run-1", "exec-1", sink)
	b := NewBuilder(testIntent())

	if err := l.Record(b.IntentCreatedEvent(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Record(b.PlanCreatedEvent(5, 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := sink.Snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("expected sequential seq numbers, got %d then %d", events[0].Seq, events[1].Seq)
	}
	if events[0].RunID != "run-1" || events[0].ExecID != "exec-1" {
		t.Fatalf("expected run/exec enrichment, got %+v", events[0])
	}
}

func TestLedgerStampsClockTime(t *testing.T) {
	sink := NewMemorySink()
	c := clock.NewSimulated(time.UnixMilli(5000))
	l := NewLedger(c, "", "", sink)
	b := NewBuilder(testIntent())

	l.Record(b.IntentCreatedEvent(1))
	events := sink.Snapshot()
	if events[0].TS != 5000 {
		t.Fatalf("expected ts 5000, got %d", events[0].TS)
	}
}

func TestLedgerRejectsIllegalTransition(t *testing.T) {
	sink := NewMemorySink()
	l := NewLedger(clock.NewSimulated(time.Unix(0, 0)), "run", "exec", sink)
	b := NewBuilder(testIntent())

	if err := l.Record(b.IntentCreatedEvent(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// SliceFilled cannot legally follow IntentCreated.
	err := l.Record(b.SliceFilledEvent(0, "intent-1#0#0", 1, 100))
	var violation *ChainViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected ChainViolation, got %v", err)
	}
	if violation.From != IntentCreated || violation.To != SliceFilled {
		t.Fatalf("unexpected violation: %+v", violation)
	}
}

func TestLedgerAcceptsFullLifecycle(t *testing.T) {
	sink := NewMemorySink()
	l := NewLedger(clock.NewSimulated(time.Unix(0, 0)), "run", "exec", sink)
	b := NewBuilder(testIntent())

	steps := []Event{
		b.IntentCreatedEvent(100),
		b.PlanCreatedEvent(1, 100),
		b.SliceScheduledEvent(0, 100, 0),
		b.SliceSentEvent(0, "intent-1#0#0", 100, 4000, "schedule"),
		b.SliceAckEvent(0, "intent-1#0#0"),
		b.SlicePartialFillEvent(0, "intent-1#0#0", 40, 4000, 60),
		b.SliceFilledEvent(0, "intent-1#0#0", 100, 4000),
		b.IntentCompletedEvent(100, 4000),
	}
	for i, ev := range steps {
		if err := l.Record(ev); err != nil {
			t.Fatalf("step %d (%s): unexpected error: %v", i, ev.EventType, err)
		}
	}

	if len(sink.Snapshot()) != len(steps) {
		t.Fatalf("expected %d events recorded, got %d", len(steps), len(sink.Snapshot()))
	}
}

func TestLedgerIndependentIntentsDoNotInterfere(t *testing.T) {
	sink := NewMemorySink()
	l := NewLedger(clock.NewSimulated(time.Unix(0, 0)), "run", "exec", sink)

	oiA := testIntent()
	oiB := testIntent()
	oiB.IntentID = "intent-2"

	bA := NewBuilder(oiA)
	bB := NewBuilder(oiB)

	if err := l.Record(bA.IntentCreatedEvent(1)); err != nil {
		t.Fatalf("unexpected error on A: %v", err)
	}
	if err := l.Record(bB.IntentCreatedEvent(1)); err != nil {
		t.Fatalf("unexpected error on B: %v", err)
	}
	if err := l.Record(bA.PlanCreatedEvent(1, 1)); err != nil {
		t.Fatalf("unexpected error continuing A: %v", err)
	}
}

func TestFileSinkFlushesBufferedEventsOnClose(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, 1024*1024, time.Hour)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	l := NewLedger(clock.NewSimulated(time.Unix(0, 0)), "run-1", "exec-1", sink)
	b := NewBuilder(testIntent())
	if err := l.Record(b.IntentCreatedEvent(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The ticker is parked for an hour and the buffer (100 events) is far
	// from full, so only Close's final flush should persist this event.
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := dir + "/audit.log"
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	if !strings.Contains(string(data), "intent-1") {
		t.Fatalf("expected flushed audit log to contain the recorded event, got %q", data)
	}
}
