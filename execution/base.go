package execution

import (
	"sync"
	"time"

	"github.com/epic1st/execalgo/orderid"
)

// Registry owns every ExecutionPlanContext, keyed by plan_id (which equals
// intent_id). All mutation of a given plan is serialized through that plan's
// lock; the registry map itself is protected by its own lock so registration
// is safe to call concurrently across intents.
type Registry struct {
	mu    sync.Mutex
	plans map[string]*ExecutionPlanContext
	locks map[string]*sync.Mutex
}

// NewRegistry creates an empty plan registry.
func NewRegistry() *Registry {
	return &Registry{
		plans: make(map[string]*ExecutionPlanContext),
		locks: make(map[string]*sync.Mutex),
	}
}

// existing returns the plan for planID if one is already registered.
func (r *Registry) existing(planID string) (*ExecutionPlanContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	return p, ok
}

// register inserts a freshly built plan, returning false if one already
// exists for its plan_id (the caller should discard its candidate and use
// the existing one instead — this is what makes make_plan idempotent under
// concurrent first calls).
func (r *Registry) register(p *ExecutionPlanContext) (*ExecutionPlanContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.plans[p.PlanID]; ok {
		return existing, false
	}
	r.plans[p.PlanID] = p
	r.locks[p.PlanID] = &sync.Mutex{}
	return p, true
}

// withPlan runs fn with the named plan's lock held, or reports ok=false for
// an unknown plan_id. This is the single choke point every Executor method
// uses to satisfy the single-threaded-cooperative-per-plan model in §5.
func (r *Registry) withPlan(planID string, fn func(*ExecutionPlanContext)) bool {
	r.mu.Lock()
	p, ok := r.plans[planID]
	lock := r.locks[planID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	lock.Lock()
	defer lock.Unlock()
	fn(p)
	return true
}

// Get returns the registry's live pointer to a plan, without taking the
// plan's lock. Callers needing a lock-protected view should use
// withPlan-backed accessors instead; Get exists for get_status/get_progress
// style queries.
func (r *Registry) Get(planID string) (*ExecutionPlanContext, bool) {
	return r.existing(planID)
}

// terminalPrelude implements §4.1 prelude steps 1-2: terminal short-circuit
// and paused short-circuit. Returns (action, true) if next_action should
// return immediately.
func terminalPrelude(p *ExecutionPlanContext) (Action, bool) {
	switch p.Status {
	case StatusCompleted:
		return Complete(""), true
	case StatusCancelled:
		return Abort(p.ErrorMsg), true
	case StatusFailed:
		return Abort(p.ErrorMsg), true
	case StatusPaused:
		return Wait(time.Time{}, "paused"), true
	}
	return Action{}, false
}

// timeoutCheck implements §4.1 prelude step 3: emit at most one CANCEL_ORDER
// per pending order whose submit_time has aged past timeoutSeconds. An order
// that has been sent a CANCEL_ORDER is marked CancelRequested and skipped on
// later calls, so it is not re-emitted while it stays pending until its
// terminal event arrives, satisfying testable property 8.
func timeoutCheck(p *ExecutionPlanContext, now time.Time, timeoutSeconds float64) (Action, bool) {
	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	for id, po := range p.PendingOrders {
		if po.CancelRequested {
			continue
		}
		if now.Sub(po.SubmitTime) > timeout {
			po.CancelRequested = true
			p.PendingOrders[id] = po
			return CancelOrder(po.ClientOrderID, "timeout"), true
		}
	}
	return Action{}, false
}

// completionCheck implements §4.1 prelude step 5.
func completionCheck(p *ExecutionPlanContext, now time.Time) (Action, bool) {
	if p.FilledQty() >= p.Intent.TargetQty {
		p.Status = StatusCompleted
		p.EndTime = now
		return Complete("target quantity filled"), true
	}
	return Action{}, false
}

// recordCancelledSlice implements the shared retry bookkeeping used by TWAP,
// VWAP and Iceberg: on REJECT/CANCEL_ACK the slice is reopened for retry and
// current_slice_index rewinds if this slice is earlier than the cursor.
func recordCancelledSlice(p *ExecutionPlanContext, sliceIndex int) {
	if p.retrySliceCancelCount == nil {
		p.retrySliceCancelCount = make(map[int]int)
	}
	p.retrySliceCancelCount[sliceIndex]++
	if sliceIndex >= 0 && sliceIndex < len(p.Slices) {
		p.Slices[sliceIndex].Executed = false
	}
	if sliceIndex < p.CurrentSliceIndex {
		p.CurrentSliceIndex = sliceIndex
	}
}

// sliceCancelCount returns the number of prior CANCELLED/REJECTED child
// orders for a slice, used to derive the next retry_count and to decide when
// a slice should be given up on (§4.2 Retries).
func sliceCancelCount(p *ExecutionPlanContext, sliceIndex int) int {
	if p.retrySliceCancelCount == nil {
		return 0
	}
	return p.retrySliceCancelCount[sliceIndex]
}

// applyStandardEvent implements the on_event policy shared by TWAP, VWAP and
// Iceberg (§4.2 "Event handling", reused verbatim by §4.3 and, with
// updateQtyOnPartial for the refresh_on_partial option, by §4.4). Duplicate
// events against an already-terminal client_order_id are no-ops (M2).
func applyStandardEvent(p *ExecutionPlanContext, ev OrderEvent, now time.Time, updateQtyOnPartial bool) {
	po, pending := p.PendingOrders[ev.ClientOrderID]
	parsed, parseOK := orderid.Parse(ev.ClientOrderID)

	switch ev.Kind {
	case EventAck:
		// Acknowledgement carries no state change beyond confirming receipt;
		// the order is already recorded as pending from emission.
		return

	case EventPartialFill:
		if !pending {
			return
		}
		p.FilledOrders = append(p.FilledOrders, FilledOrder{
			ClientOrderID: ev.ClientOrderID,
			FilledQty:     ev.FilledQty,
			AvgPrice:      ev.FilledPrice,
			FillTime:      now,
		})
		if updateQtyOnPartial {
			po.Qty = ev.RemainingQty
			p.PendingOrders[ev.ClientOrderID] = po
		}

	case EventFill:
		if !pending {
			return
		}
		p.FilledOrders = append(p.FilledOrders, FilledOrder{
			ClientOrderID: ev.ClientOrderID,
			FilledQty:     ev.FilledQty,
			AvgPrice:      ev.FilledPrice,
			FillTime:      now,
		})
		delete(p.PendingOrders, ev.ClientOrderID)

	case EventReject:
		if !pending {
			return
		}
		delete(p.PendingOrders, ev.ClientOrderID)
		p.CancelledOrders = append(p.CancelledOrders, CancelledOrder{
			ClientOrderID: ev.ClientOrderID,
			Reason:        ev.ErrorMsg,
			CancelTime:    now,
		})
		if parseOK {
			recordCancelledSlice(p, parsed.SliceIndex)
		}

	case EventCancelAck:
		if !pending {
			return
		}
		delete(p.PendingOrders, ev.ClientOrderID)
		p.CancelledOrders = append(p.CancelledOrders, CancelledOrder{
			ClientOrderID: ev.ClientOrderID,
			Reason:        "cancelled",
			CancelTime:    now,
		})
		if parseOK {
			recordCancelledSlice(p, parsed.SliceIndex)
		}

	default:
		// Unknown event_type values are ignored for forward compatibility.
	}
}

// distributeRemainder implements the TWAP/VWAP uniform-split-with-remainder
// rule: base = Q/N integer division, remainder distributed one-per-slice to
// the first r slices.
func distributeRemainder(total int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	base := total / int64(n)
	remainder := total % int64(n)
	qtys := make([]int64, n)
	for i := 0; i < n; i++ {
		qtys[i] = base
		if int64(i) < remainder {
			qtys[i]++
		}
	}
	return qtys
}
