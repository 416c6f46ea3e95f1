package gateway

import (
	"testing"
	"time"

	"github.com/epic1st/execalgo/audit"
	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/execution"
	"github.com/epic1st/execalgo/intent"
)

func testIntent(id string, qty int64) intent.OrderIntent {
	return intent.OrderIntent{
		IntentID:   id,
		StrategyID: "strat-1",
		Instrument: "ESZ6",
		Side:       intent.SideBuy,
		Offset:     intent.OffsetOpen,
		TargetQty:  qty,
		Algo:       intent.AlgoTWAP,
		SignalTS:   time.Unix(0, 0),
	}
}

func TestDriverDrivesTWAPPlanToCompletion(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	sink := audit.NewMemorySink()
	ledger := audit.NewLedger(c, "run-1", "exec-1", sink)
	executor := execution.NewTWAPExecutor(c, ledger, execution.TWAPConfig{
		SliceCount:      5,
		DurationSeconds: 100,
		TimeoutSeconds:  30,
		RetryCount:      3,
	})

	planID, err := executor.MakePlan(testIntent("d1", 100))
	if err != nil {
		t.Fatalf("MakePlan: %v", err)
	}

	var driver *Driver
	gw := NewMockGateway(func(clientOrderID string, ev execution.OrderEvent) {
		driver.HandleEvent(planID, ev)
	})
	driver = NewDriver(executor, gw, c, "TWAP", "ESZ6")

	for i := 0; i < 20; i++ {
		action, terminal := driver.Pump(planID)
		if terminal {
			if action.Kind != execution.ActionComplete {
				t.Fatalf("expected COMPLETE, got %+v", action)
			}
			break
		}
		if action.Kind == execution.ActionPlaceOrder {
			gw.Fill(action.ClientOrderID, action.Qty, 5000.0)
		}
		c.Advance(20 * time.Second)
	}

	status, _ := executor.GetStatus(planID)
	if status != execution.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %v", status)
	}
	progress, _ := executor.GetProgress(planID)
	if progress.FilledQty != 100 {
		t.Fatalf("expected filled_qty=100, got %d", progress.FilledQty)
	}

	events := sink.Snapshot()
	if len(events) == 0 {
		t.Fatal("expected audit events to have been recorded")
	}
}

func TestDriverHandlesRejectThenRetry(t *testing.T) {
	c := clock.NewSimulated(time.Unix(0, 0))
	sink := audit.NewMemorySink()
	ledger := audit.NewLedger(c, "run-2", "exec-2", sink)
	executor := execution.NewTWAPExecutor(c, ledger, execution.TWAPConfig{
		SliceCount:      1,
		DurationSeconds: 10,
		TimeoutSeconds:  30,
		RetryCount:      3,
	})
	planID, _ := executor.MakePlan(testIntent("d2", 10))

	var driver *Driver
	rejectedOnce := false
	gw := NewMockGateway(func(clientOrderID string, ev execution.OrderEvent) {
		driver.HandleEvent(planID, ev)
	})
	driver = NewDriver(executor, gw, c, "TWAP", "ESZ6")

	for i := 0; i < 10; i++ {
		action, terminal := driver.Pump(planID)
		if terminal {
			break
		}
		if action.Kind == execution.ActionPlaceOrder {
			if !rejectedOnce {
				rejectedOnce = true
				gw.Reject(action.ClientOrderID, "LIQUIDITY", "no liquidity")
			} else {
				gw.Fill(action.ClientOrderID, action.Qty, 100.0)
			}
		}
	}

	status, _ := executor.GetStatus(planID)
	if status != execution.StatusCompleted {
		t.Fatalf("expected COMPLETED after retry, got %v", status)
	}
}
