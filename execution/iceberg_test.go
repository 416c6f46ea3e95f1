package execution

import (
	"testing"
	"time"

	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/intent"
)

func icebergIntent(id string, targetQty int64) intent.OrderIntent {
	price := 4000.0
	return intent.OrderIntent{
		IntentID:   id,
		Instrument: "rb2501",
		Side:       intent.SideBuy,
		Offset:     intent.OffsetOpen,
		TargetQty:  targetQty,
		Algo:       intent.AlgoIceberg,
		LimitPrice: &price,
	}
}

// I1 — Iceberg single visible.
func TestIcebergSingleVisible(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	e := NewIcebergExecutor(c, nil, IcebergConfig{DisplayQtyRatio: 0.1, TimeoutSeconds: 30, RetryCount: 3})

	planID, err := e.MakePlan(icebergIntent("i1", 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 10; i++ {
		action, ok := e.NextAction(planID, c.Now())
		if !ok || action.Kind != ActionPlaceOrder {
			t.Fatalf("child %d: expected PLACE_ORDER, got %+v", i, action)
		}
		if action.Qty != 10 {
			t.Fatalf("child %d: expected qty 10, got %d", i, action.Qty)
		}

		plan, _ := e.registry.Get(planID)
		if len(plan.PendingOrders) > 1 {
			t.Fatalf("child %d: iceberg one-in-flight invariant violated, %d pending", i, len(plan.PendingOrders))
		}

		// Invariant: while a child is outstanding, next_action must WAIT.
		waitAction, _ := e.NextAction(planID, c.Now())
		if waitAction.Kind != ActionWait {
			t.Fatalf("child %d: expected WAIT while pending order outstanding, got %+v", i, waitAction)
		}

		e.OnEvent(planID, OrderEvent{ClientOrderID: action.ClientOrderID, Kind: EventFill, FilledQty: 10, FilledPrice: 4000})
	}

	final, ok := e.NextAction(planID, c.Now())
	if !ok || final.Kind != ActionComplete {
		t.Fatalf("expected COMPLETE, got %+v", final)
	}
	progress, _ := e.GetProgress(planID)
	if progress.FilledQty != 100 {
		t.Fatalf("expected filled_qty 100, got %d", progress.FilledQty)
	}
}

// I2 — Iceberg partial fill updates the pending order's qty, then the next
// preplanned slice is dispatched once the prior one reaches a terminal fill.
func TestIcebergPartialFillThenRefresh(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	e := NewIcebergExecutor(c, nil, IcebergConfig{DisplayQty: 10, RefreshOnPartial: true, TimeoutSeconds: 30, RetryCount: 3})

	planID, _ := e.MakePlan(icebergIntent("i2", 100))

	action1, ok := e.NextAction(planID, c.Now())
	if !ok || action1.Kind != ActionPlaceOrder || action1.Qty != 10 {
		t.Fatalf("expected first PLACE_ORDER qty 10, got %+v", action1)
	}

	e.OnEvent(planID, OrderEvent{ClientOrderID: action1.ClientOrderID, Kind: EventPartialFill, FilledQty: 5, FilledPrice: 4000, RemainingQty: 5})

	plan, _ := e.registry.Get(planID)
	po, present := plan.PendingOrders[action1.ClientOrderID]
	if !present {
		t.Fatalf("expected pending order to remain after PARTIAL_FILL")
	}
	if po.Qty != 5 {
		t.Fatalf("expected pending order qty updated to remaining 5, got %d", po.Qty)
	}

	e.OnEvent(planID, OrderEvent{ClientOrderID: action1.ClientOrderID, Kind: EventFill, FilledQty: 5, FilledPrice: 4000})

	action2, ok := e.NextAction(planID, c.Now())
	if !ok || action2.Kind != ActionPlaceOrder {
		t.Fatalf("expected refresh PLACE_ORDER, got %+v", action2)
	}
	if action2.Qty != 10 {
		t.Fatalf("expected refresh qty 10, got %d", action2.Qty)
	}

	for i := 0; i < 9; i++ {
		e.OnEvent(planID, OrderEvent{ClientOrderID: action2.ClientOrderID, Kind: EventFill, FilledQty: 10, FilledPrice: 4000})
		if i < 8 {
			action2, ok = e.NextAction(planID, c.Now())
			if !ok || action2.Kind != ActionPlaceOrder {
				t.Fatalf("refresh %d: expected PLACE_ORDER, got %+v", i, action2)
			}
		}
	}

	final, ok := e.NextAction(planID, c.Now())
	if !ok || final.Kind != ActionComplete {
		t.Fatalf("expected COMPLETE, got %+v", final)
	}
	progress, _ := e.GetProgress(planID)
	if progress.FilledQty != 100 {
		t.Fatalf("expected filled_qty 100, got %d", progress.FilledQty)
	}
}

// Exercises §4.4 auto-refresh: a slice given up on after exhausting its
// retries leaves filled_qty short of target_qty even though every preplanned
// slice is executed, so next_action must append a fresh refresh slice rather
// than completing early.
func TestIcebergAutoRefreshAfterRetryExhaustion(t *testing.T) {
	start := time.Unix(0, 0)
	c := clock.NewSimulated(start)
	e := NewIcebergExecutor(c, nil, IcebergConfig{DisplayQty: 50, RetryCount: 1, TimeoutSeconds: 30})

	planID, _ := e.MakePlan(icebergIntent("i-refresh", 100))
	plan, _ := e.registry.Get(planID)
	if len(plan.Slices) != 2 {
		t.Fatalf("expected 2 preplanned slices of 50, got %d", len(plan.Slices))
	}

	action1, ok := e.NextAction(planID, c.Now())
	if !ok || action1.Kind != ActionPlaceOrder {
		t.Fatalf("expected PLACE_ORDER for slice 0, got %+v", action1)
	}
	e.OnEvent(planID, OrderEvent{ClientOrderID: action1.ClientOrderID, Kind: EventReject, ErrorCode: "FATAL", ErrorMsg: "instrument halted"})

	// retry_count=1 is exhausted by the single REJECT above, so slice 0 is
	// given up on (marked executed without having filled) and slice 1 fires.
	action2, ok := e.NextAction(planID, c.Now())
	if !ok || action2.Kind != ActionPlaceOrder {
		t.Fatalf("expected PLACE_ORDER for slice 1, got %+v", action2)
	}
	e.OnEvent(planID, OrderEvent{ClientOrderID: action2.ClientOrderID, Kind: EventFill, FilledQty: 50, FilledPrice: 4000})

	// Both preplanned slices are now executed but filled_qty (50) is short of
	// target_qty (100): next_action must append a refresh slice instead of
	// reporting COMPLETE.
	action3, ok := e.NextAction(planID, c.Now())
	if !ok || action3.Kind != ActionPlaceOrder {
		t.Fatalf("expected refresh PLACE_ORDER, got %+v", action3)
	}
	if action3.Qty != 50 {
		t.Fatalf("expected refresh qty 50, got %d", action3.Qty)
	}
	plan, _ = e.registry.Get(planID)
	if len(plan.Slices) != 3 {
		t.Fatalf("expected a third, refresh-appended slice, got %d total", len(plan.Slices))
	}

	e.OnEvent(planID, OrderEvent{ClientOrderID: action3.ClientOrderID, Kind: EventFill, FilledQty: 50, FilledPrice: 4000})
	final, ok := e.NextAction(planID, c.Now())
	if !ok || final.Kind != ActionComplete {
		t.Fatalf("expected COMPLETE, got %+v", final)
	}
}

// Exercises MinRefreshQty: target_qty=103 with display_qty=10 preplans 11
// slices (ten of 10, one of 3). If the final 3-unit slice is given up on
// after retry exhaustion, the resulting refresh would be for a 3-unit
// remainder below the configured floor of 5 — next_action must hold rather
// than dispatch a sub-floor order, then dispatch it on the following attempt
// once holding has not changed the picture.
func TestIcebergRefreshHeldBelowMinRefreshQty(t *testing.T) {
	start := time.Unix(0, 0)
	c := clock.NewSimulated(start)
	e := NewIcebergExecutor(c, nil, IcebergConfig{DisplayQty: 10, MinRefreshQty: 5, RetryCount: 1, TimeoutSeconds: 30})

	planID, _ := e.MakePlan(icebergIntent("i-floor", 103))
	plan, _ := e.registry.Get(planID)
	if len(plan.Slices) != 11 {
		t.Fatalf("expected 11 preplanned slices (10x10 + 1x3), got %d", len(plan.Slices))
	}
	if plan.Slices[10].Qty != 3 {
		t.Fatalf("expected final preplanned slice qty 3, got %d", plan.Slices[10].Qty)
	}

	for i := 0; i < 10; i++ {
		action, ok := e.NextAction(planID, c.Now())
		if !ok || action.Kind != ActionPlaceOrder || action.Qty != 10 {
			t.Fatalf("slice %d: expected PLACE_ORDER qty 10, got %+v", i, action)
		}
		e.OnEvent(planID, OrderEvent{ClientOrderID: action.ClientOrderID, Kind: EventFill, FilledQty: 10, FilledPrice: 4000})
	}

	last, ok := e.NextAction(planID, c.Now())
	if !ok || last.Kind != ActionPlaceOrder || last.Qty != 3 {
		t.Fatalf("expected final preplanned PLACE_ORDER qty 3, got %+v", last)
	}
	e.OnEvent(planID, OrderEvent{ClientOrderID: last.ClientOrderID, Kind: EventReject, ErrorCode: "FATAL", ErrorMsg: "instrument halted"})

	// filled_qty (100) is short of target_qty (103); a refresh for the
	// remaining 3 units is below MinRefreshQty (5), so next_action must hold
	// rather than emit it.
	held, ok := e.NextAction(planID, c.Now())
	if !ok || held.Kind != ActionWait {
		t.Fatalf("expected WAIT while refresh qty is held below the floor, got %+v", held)
	}
	plan, _ = e.registry.Get(planID)
	if len(plan.Slices) != 11 {
		t.Fatalf("holding must not append a new slice, got %d total", len(plan.Slices))
	}

	// The held quantity hasn't changed on a second attempt, so it is emitted
	// rather than withheld indefinitely.
	refresh, ok := e.NextAction(planID, c.Now())
	if !ok || refresh.Kind != ActionPlaceOrder || refresh.Qty != 3 {
		t.Fatalf("expected refresh PLACE_ORDER qty 3 after holding once, got %+v", refresh)
	}
	plan, _ = e.registry.Get(planID)
	if len(plan.Slices) != 12 {
		t.Fatalf("expected a 12th, refresh-appended slice, got %d total", len(plan.Slices))
	}

	e.OnEvent(planID, OrderEvent{ClientOrderID: refresh.ClientOrderID, Kind: EventFill, FilledQty: 3, FilledPrice: 4000})
	final, ok := e.NextAction(planID, c.Now())
	if !ok || final.Kind != ActionComplete {
		t.Fatalf("expected COMPLETE, got %+v", final)
	}
	progress, _ := e.GetProgress(planID)
	if progress.FilledQty != 103 {
		t.Fatalf("expected filled_qty 103, got %d", progress.FilledQty)
	}
}

func TestIcebergDisplayQtyDerivation(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	e := NewIcebergExecutor(c, nil, IcebergConfig{DisplayQtyRatio: 0.1})
	if got := e.displayQty(100); got != 10 {
		t.Fatalf("expected derived display_qty 10, got %d", got)
	}
}
