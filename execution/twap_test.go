package execution

import (
	"testing"
	"time"

	"github.com/epic1st/execalgo/audit"
	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/intent"
)

func twapIntent(id string, targetQty int64) intent.OrderIntent {
	price := 4000.0
	return intent.OrderIntent{
		IntentID:   id,
		Instrument: "rb2501",
		Side:       intent.SideBuy,
		Offset:     intent.OffsetOpen,
		TargetQty:  targetQty,
		Algo:       intent.AlgoTWAP,
		LimitPrice: &price,
	}
}

// T1 — TWAP even split.
func TestTWAPEvenSplit(t *testing.T) {
	start := time.Unix(0, 0)
	c := clock.NewSimulated(start)
	sink := audit.NewMemorySink()
	ledger := audit.NewLedger(c, "run", "exec", sink)
	e := NewTWAPExecutor(c, ledger, TWAPConfig{SliceCount: 5, DurationSeconds: 100, TimeoutSeconds: 30, RetryCount: 3})

	planID, err := e.MakePlan(twapIntent("t1", 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantSchedule := []int{0, 20, 40, 60, 80}
	for i, wantOffset := range wantSchedule {
		c.Set(start.Add(time.Duration(wantOffset) * time.Second))
		action, ok := e.NextAction(planID, c.Now())
		if !ok {
			t.Fatalf("slice %d: plan not found", i)
		}
		if action.Kind != ActionPlaceOrder {
			t.Fatalf("slice %d: expected PLACE_ORDER, got %v (reason %s)", i, action.Kind, action.Reason)
		}
		if action.Qty != 20 {
			t.Fatalf("slice %d: expected qty 20, got %d", i, action.Qty)
		}
		e.OnEvent(planID, OrderEvent{ClientOrderID: action.ClientOrderID, Kind: EventAck})
		e.OnEvent(planID, OrderEvent{ClientOrderID: action.ClientOrderID, Kind: EventFill, FilledQty: 20, FilledPrice: 4000})
	}

	c.Set(start.Add(100 * time.Second))
	action, ok := e.NextAction(planID, c.Now())
	if !ok || action.Kind != ActionComplete {
		t.Fatalf("expected COMPLETE, got %+v ok=%v", action, ok)
	}

	status, _ := e.GetStatus(planID)
	if status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", status)
	}
	progress, _ := e.GetProgress(planID)
	if progress.FilledQty != 100 {
		t.Fatalf("expected filled_qty 100, got %d", progress.FilledQty)
	}
	if progress.AvgPrice != 4000 {
		t.Fatalf("expected avg_price 4000, got %v", progress.AvgPrice)
	}
}

// T2 — TWAP uneven split.
func TestTWAPUnevenSplit(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	e := NewTWAPExecutor(c, nil, TWAPConfig{SliceCount: 3, DurationSeconds: 30})

	planID, err := e.MakePlan(twapIntent("t2", 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan, _ := e.registry.Get(planID)
	want := []int64{4, 3, 3}
	if len(plan.Slices) != 3 {
		t.Fatalf("expected 3 slices, got %d", len(plan.Slices))
	}
	var sum int64
	for i, s := range plan.Slices {
		if s.Qty != want[i] {
			t.Errorf("slice %d: expected qty %d, got %d", i, want[i], s.Qty)
		}
		sum += s.Qty
	}
	if sum != 10 {
		t.Fatalf("expected sum 10, got %d", sum)
	}
}

// T3 — TWAP reject and retry.
func TestTWAPRejectAndRetry(t *testing.T) {
	start := time.Unix(0, 0)
	c := clock.NewSimulated(start)
	e := NewTWAPExecutor(c, nil, TWAPConfig{SliceCount: 1, DurationSeconds: 10, RetryCount: 3, TimeoutSeconds: 30})

	planID, _ := e.MakePlan(twapIntent("t3", 100))

	action, ok := e.NextAction(planID, c.Now())
	if !ok || action.Kind != ActionPlaceOrder {
		t.Fatalf("expected first PLACE_ORDER, got %+v", action)
	}
	firstID := action.ClientOrderID
	if firstID != "t3#0#0" {
		t.Fatalf("expected t3#0#0, got %s", firstID)
	}

	e.OnEvent(planID, OrderEvent{ClientOrderID: firstID, Kind: EventReject, ErrorCode: "RETRYABLE", ErrorMsg: "liquidity"})

	action2, ok := e.NextAction(planID, c.Now())
	if !ok || action2.Kind != ActionPlaceOrder {
		t.Fatalf("expected retry PLACE_ORDER, got %+v", action2)
	}
	if action2.ClientOrderID != "t3#0#1" {
		t.Fatalf("expected t3#0#1, got %s", action2.ClientOrderID)
	}
	if action2.ClientOrderID == firstID {
		t.Fatalf("expected distinct client_order_id on retry")
	}

	e.OnEvent(planID, OrderEvent{ClientOrderID: action2.ClientOrderID, Kind: EventFill, FilledQty: 100, FilledPrice: 4000})

	action3, ok := e.NextAction(planID, c.Now())
	if !ok || action3.Kind != ActionComplete {
		t.Fatalf("expected COMPLETE after retry fill, got %+v", action3)
	}
}

func TestTWAPIdempotentMakePlan(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	e := NewTWAPExecutor(c, nil, TWAPConfig{SliceCount: 2, DurationSeconds: 20})

	oi := twapIntent("t-idem", 10)
	id1, err1 := e.MakePlan(oi)
	id2, err2 := e.MakePlan(oi)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if id1 != id2 {
		t.Fatalf("expected same plan id, got %s vs %s", id1, id2)
	}
}

func TestTWAPRejectsInvalidIntent(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	e := NewTWAPExecutor(c, nil, TWAPConfig{SliceCount: 2, DurationSeconds: 20})

	oi := twapIntent("t-invalid", 0)
	_, err := e.MakePlan(oi)
	if err == nil {
		t.Fatal("expected validation error for non-positive target_qty")
	}
}

func TestTWAPTimeoutEmitsSingleCancel(t *testing.T) {
	start := time.Unix(0, 0)
	c := clock.NewSimulated(start)
	e := NewTWAPExecutor(c, nil, TWAPConfig{SliceCount: 1, DurationSeconds: 10, TimeoutSeconds: 5, RetryCount: 3})

	planID, _ := e.MakePlan(twapIntent("t-timeout", 10))
	action, _ := e.NextAction(planID, c.Now())
	if action.Kind != ActionPlaceOrder {
		t.Fatalf("expected PLACE_ORDER, got %+v", action)
	}

	c.Advance(6 * time.Second)
	cancel1, _ := e.NextAction(planID, c.Now())
	if cancel1.Kind != ActionCancelOrder {
		t.Fatalf("expected CANCEL_ORDER, got %+v", cancel1)
	}
	// Property 8: at most one CANCEL_ORDER is emitted per timed-out pending
	// order until its terminal event arrives — a second call must not repeat it.
	again, _ := e.NextAction(planID, c.Now())
	if again.Kind == ActionCancelOrder {
		t.Fatalf("expected no repeated CANCEL_ORDER while awaiting terminal event, got %+v", again)
	}
}
