package gateway

import (
	"context"
	"time"

	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/execution"
	"github.com/epic1st/execalgo/logging"
	"github.com/epic1st/execalgo/metrics"
)

// Driver pumps NextAction/OnEvent for a single plan against an
// OrderGateway. It owns no retry policy of its own: every decision comes
// from the executor, so replay determinism holds regardless of which
// Driver instance drove a given plan.
type Driver struct {
	executor   Executor
	gateway    OrderGateway
	clock      clock.Clock
	algo       string
	instrument string

	dispatchedAt map[string]time.Time
}

// NewDriver creates a driver for one plan. algo/instrument are metrics
// labels only; they do not affect execution semantics.
func NewDriver(executor Executor, gw OrderGateway, c clock.Clock, algo, instrument string) *Driver {
	return &Driver{
		executor:     executor,
		gateway:      gw,
		clock:        c,
		algo:         algo,
		instrument:   instrument,
		dispatchedAt: make(map[string]time.Time),
	}
}

// Pump calls NextAction once and dispatches whatever action it returns. It
// returns the action taken and whether the plan reached a terminal state.
func (d *Driver) Pump(planID string) (execution.Action, bool) {
	action, ok := d.executor.NextAction(planID, d.clock.Now())
	if !ok {
		return action, true
	}

	switch action.Kind {
	case execution.ActionPlaceOrder:
		d.dispatchedAt[action.ClientOrderID] = d.clock.Now()
		if err := d.gateway.PlaceOrder(action.ClientOrderID, action.Instrument, action.Side, action.Offset, action.Qty, action.Price); err != nil {
			logging.TrackError(context.Background(), err, "high", map[string]interface{}{
				"plan_id":         planID,
				"client_order_id": action.ClientOrderID,
				"algo":            d.algo,
			})
		}
	case execution.ActionCancelOrder:
		if err := d.gateway.CancelOrder(action.ClientOrderID); err != nil {
			logging.TrackError(context.Background(), err, "medium", map[string]interface{}{
				"plan_id":         planID,
				"client_order_id": action.ClientOrderID,
				"algo":            d.algo,
			})
		}
	case execution.ActionWait:
		// Caller is expected to re-invoke Pump no earlier than action.Until.
	case execution.ActionComplete, execution.ActionAbort:
		return action, true
	}
	return action, false
}

// HandleEvent forwards a gateway event to the executor and records
// dispatch-to-terminal-event latency for terminal event kinds.
func (d *Driver) HandleEvent(planID string, ev execution.OrderEvent) bool {
	terminal := d.executor.OnEvent(planID, ev)

	if start, ok := d.dispatchedAt[ev.ClientOrderID]; ok {
		switch ev.Kind {
		case execution.EventFill, execution.EventReject, execution.EventCancelAck:
			latencyMs := float64(d.clock.Now().Sub(start).Milliseconds())
			metrics.RecordSliceDispatch(d.algo, d.instrument, string(ev.Kind), latencyMs)
			delete(d.dispatchedAt, ev.ClientOrderID)
		}
	}
	return terminal
}
