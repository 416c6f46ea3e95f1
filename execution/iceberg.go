package execution

import (
	"math"
	"time"

	"github.com/epic1st/execalgo/audit"
	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/intent"
	"github.com/epic1st/execalgo/orderid"
)

// IcebergConfig holds the recognized Iceberg options from §6 (superset of
// TWAP minus scheduling).
type IcebergConfig struct {
	MaxSliceQty      int64
	MinSliceQty      int64
	TimeoutSeconds   float64
	RetryCount       int
	DisplayQty       int64 // 0 = derived
	DisplayQtyRatio  float64
	RefreshOnPartial bool
	MinRefreshQty    int64
	PriceImprovement float64 // reserved, unused
}

// IcebergExecutor exposes at most one pending child order at a time and
// refreshes the visible slice as it fills.
type IcebergExecutor struct {
	registry *Registry
	clock    clock.Clock
	ledger   *audit.Ledger
	config   IcebergConfig
}

// NewIcebergExecutor creates an Iceberg executor backed by its own plan
// registry.
func NewIcebergExecutor(c clock.Clock, ledger *audit.Ledger, cfg IcebergConfig) *IcebergExecutor {
	return &IcebergExecutor{registry: NewRegistry(), clock: c, ledger: ledger, config: cfg}
}

func (e *IcebergExecutor) record(ev audit.Event) {
	if e.ledger != nil {
		e.ledger.Record(ev)
	}
}

// displayQty resolves the configured or derived visible size, clipped per
// §4.4 planning.
func (e *IcebergExecutor) displayQty(targetQty int64) int64 {
	d := e.config.DisplayQty
	if d <= 0 {
		ratio := e.config.DisplayQtyRatio
		d = int64(math.Floor(float64(targetQty) * ratio))
	}
	if d < 1 {
		d = 1
	}
	if e.config.MinSliceQty > 0 && d < e.config.MinSliceQty {
		d = e.config.MinSliceQty
	}
	if e.config.MaxSliceQty > 0 && d > e.config.MaxSliceQty {
		d = e.config.MaxSliceQty
	}
	if d > targetQty {
		d = targetQty
	}
	return d
}

// MakePlan implements make_plan (idempotent, M2).
func (e *IcebergExecutor) MakePlan(oi intent.OrderIntent) (string, error) {
	if existing, ok := e.registry.existing(oi.PlanID()); ok {
		return existing.PlanID, nil
	}

	b := audit.NewBuilder(oi)
	if err := oi.Validate(); err != nil {
		e.record(b.IntentCreatedEvent(oi.TargetQty))
		if verr, ok := err.(*intent.ValidationError); ok {
			e.record(b.IntentRejectedEvent(verr.Code, verr.Msg))
		} else {
			e.record(b.IntentRejectedEvent("VALIDATION_FAILED", err.Error()))
		}
		return "", err
	}

	// §4.4 Planning: the full initial decomposition (N = ceil(Q/D) slices of
	// size min(D, remaining)) is committed up front, summing to target_qty
	// exactly. Auto-refresh (below) only appends beyond this set when a slice
	// was given up on after exhausting its retries without being filled.
	d := e.displayQty(oi.TargetQty)
	var remaining int64 = oi.TargetQty
	var slices []Slice
	for remaining > 0 {
		q := d
		if q > remaining {
			q = remaining
		}
		slices = append(slices, Slice{
			Index:       len(slices),
			Qty:         q,
			TargetPrice: oi.LimitPrice,
		})
		remaining -= q
	}

	now := e.clock.Now()
	candidate := &ExecutionPlanContext{
		PlanID:        oi.PlanID(),
		Intent:        oi,
		Status:        StatusRunning,
		Slices:        slices,
		PendingOrders: make(map[string]PendingOrder),
		StartTime:     now,
		Metadata:      map[string]interface{}{"display_qty": d},
	}

	plan, created := e.registry.register(candidate)
	if !created {
		return plan.PlanID, nil
	}

	e.record(b.IntentCreatedEvent(oi.TargetQty))
	e.record(b.PlanCreatedEvent(len(slices), oi.TargetQty))
	for _, s := range slices {
		e.record(b.SliceScheduledEvent(s.Index, s.Qty, 0))
	}
	return plan.PlanID, nil
}

// NextAction implements next_action.
func (e *IcebergExecutor) NextAction(planID string, now time.Time) (Action, bool) {
	var action Action
	found := e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		action = e.nextActionLocked(p, now)
	})
	return action, found
}

func (e *IcebergExecutor) nextActionLocked(p *ExecutionPlanContext, now time.Time) Action {
	if a, done := terminalPrelude(p); done {
		return a
	}
	if a, done := timeoutCheck(p, now, e.config.TimeoutSeconds); done {
		return a
	}
	// Defining Iceberg invariant: at most one pending child order at a time.
	if len(p.PendingOrders) > 0 {
		return Wait(time.Time{}, "awaiting visible slice fill")
	}
	if a, done := completionCheck(p, now); done {
		e.record(audit.NewBuilder(p.Intent).IntentCompletedEvent(p.FilledQty(), p.AvgPrice()))
		return a
	}

	idx := findNextSlice(p)
	if idx < 0 {
		idx = e.refresh(p)
		if idx < 0 {
			return Wait(time.Time{}, "no slices remaining")
		}
	}

	if cancelled := sliceCancelCount(p, idx); e.config.RetryCount > 0 && cancelled >= e.config.RetryCount {
		p.Slices[idx].Executed = true
		if idx >= p.CurrentSliceIndex {
			p.CurrentSliceIndex = idx + 1
		}
		return e.nextActionLocked(p, now)
	}

	return e.emitSlice(p, idx, now)
}

// refresh implements §4.4 auto-refresh: appends a new slice sized min(remaining,
// display_qty) once every pre-planned slice is executed, the pending set is
// empty (checked by the caller) and the plan is not yet filled. Returns the
// new slice's index, or -1 if no refresh qty remains or the refresh is being
// held below the configured floor (see holdBelowFloor).
func (e *IcebergExecutor) refresh(p *ExecutionPlanContext) int {
	remaining := p.Intent.TargetQty - p.FilledQty()
	if remaining <= 0 {
		return -1
	}
	d, _ := p.Metadata["display_qty"].(int64)
	if d <= 0 {
		d = e.displayQty(p.Intent.TargetQty)
	}
	q := d
	if q > remaining {
		q = remaining
	}

	if held := e.holdBelowFloor(p, q); held {
		return -1
	}

	slice := Slice{Index: len(p.Slices), Qty: q, TargetPrice: p.Intent.LimitPrice}
	p.Slices = append(p.Slices, slice)
	e.record(audit.NewBuilder(p.Intent).SliceScheduledEvent(slice.Index, slice.Qty, 0))
	return slice.Index
}

// holdBelowFloor enforces MinRefreshQty: the first time a refresh would
// produce a slice smaller than the floor, it is held rather than emitted, on
// the chance that a subsequent event (e.g. another fill elsewhere in the
// account, or an operator raising target_qty) changes the picture before the
// next attempt. If the same sub-floor quantity is still the best refresh can
// do on a later attempt, it is emitted anyway — holding forever would leave
// the plan unable to reach StatusCompleted, which is worse than a single
// undersized final slice.
func (e *IcebergExecutor) holdBelowFloor(p *ExecutionPlanContext, qty int64) bool {
	if e.config.MinRefreshQty <= 0 || qty >= e.config.MinRefreshQty {
		delete(p.Metadata, "held_refresh_qty")
		return false
	}
	held, ok := p.Metadata["held_refresh_qty"].(int64)
	if ok && held == qty {
		delete(p.Metadata, "held_refresh_qty")
		return false
	}
	p.Metadata["held_refresh_qty"] = qty
	return true
}

func (e *IcebergExecutor) emitSlice(p *ExecutionPlanContext, idx int, now time.Time) Action {
	slice := p.Slices[idx]
	retry := sliceCancelCount(p, idx)
	clientOrderID := orderid.Build(p.Intent.IntentID, idx, retry)
	remaining := p.Intent.TargetQty - p.FilledQty()
	qty := slice.Qty
	if remaining < qty {
		qty = remaining
	}

	p.PendingOrders[clientOrderID] = PendingOrder{
		ClientOrderID: clientOrderID,
		Qty:           qty,
		Price:         slice.TargetPrice,
		SubmitTime:    now,
		RetryCount:    retry,
	}
	p.Slices[idx].Executed = true
	if idx >= p.CurrentSliceIndex {
		p.CurrentSliceIndex = idx + 1
	}

	var price float64
	if slice.TargetPrice != nil {
		price = *slice.TargetPrice
	}
	e.record(audit.NewBuilder(p.Intent).SliceSentEvent(idx, clientOrderID, qty, price, "visible slice"))

	return Action{
		Kind:          ActionPlaceOrder,
		ClientOrderID: clientOrderID,
		Instrument:    p.Intent.Instrument,
		Side:          p.Intent.Side,
		Offset:        p.Intent.Offset,
		Price:         slice.TargetPrice,
		Qty:           qty,
		Reason:        "visible slice",
		Metadata: map[string]interface{}{
			"intent_id":   p.Intent.IntentID,
			"slice_index": idx,
			"retry_count": retry,
		},
	}
}

// OnEvent implements on_event. A PARTIAL_FILL updates the pending order's qty
// to the event's remaining_qty when refresh_on_partial is set (Open Question
// i resolved: the order keeps its ORIGINAL submit_time, so the timeout clock
// is not restarted; no later step reads the updated qty, since completion is
// judged from the summed fills and a timeout CANCEL_ORDER names only the
// child's id).
func (e *IcebergExecutor) OnEvent(planID string, ev OrderEvent) bool {
	return e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		now := e.clock.Now()
		e.recordEventAudit(p, ev)
		applyStandardEvent(p, ev, now, e.config.RefreshOnPartial)
	})
}

func (e *IcebergExecutor) recordEventAudit(p *ExecutionPlanContext, ev OrderEvent) {
	parsed, ok := orderid.Parse(ev.ClientOrderID)
	idx := -1
	if ok {
		idx = parsed.SliceIndex
	}
	b := audit.NewBuilder(p.Intent)
	switch ev.Kind {
	case EventAck:
		e.record(b.SliceAckEvent(idx, ev.ClientOrderID))
	case EventPartialFill:
		e.record(b.SlicePartialFillEvent(idx, ev.ClientOrderID, ev.FilledQty, ev.FilledPrice, ev.RemainingQty))
	case EventFill:
		e.record(b.SliceFilledEvent(idx, ev.ClientOrderID, ev.FilledQty, ev.FilledPrice))
	case EventReject:
		e.record(b.SliceRejectedEvent(idx, ev.ClientOrderID, ev.ErrorCode, ev.ErrorMsg))
	case EventCancelAck:
		e.record(b.SliceCancelledEvent(idx, ev.ClientOrderID, "cancel_ack"))
	}
}

// CancelPlan implements cancel_plan.
func (e *IcebergExecutor) CancelPlan(planID, reason string) bool {
	ok := false
	e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		if p.Status.Terminal() {
			return
		}
		p.Status = StatusCancelled
		p.EndTime = e.clock.Now()
		p.ErrorMsg = reason
		e.record(audit.NewBuilder(p.Intent).PlanCancelledEvent(reason))
		ok = true
	})
	return ok
}

// Pause implements pause(plan_id).
func (e *IcebergExecutor) Pause(planID, reason string) bool {
	ok := false
	e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		if p.Status.Terminal() {
			return
		}
		p.Status = StatusPaused
		e.record(audit.NewBuilder(p.Intent).PlanPausedEvent(reason))
		ok = true
	})
	return ok
}

// Resume implements resume(plan_id).
func (e *IcebergExecutor) Resume(planID string) bool {
	ok := false
	e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		if p.Status != StatusPaused {
			return
		}
		p.Status = StatusRunning
		e.record(audit.NewBuilder(p.Intent).PlanResumedEvent())
		ok = true
	})
	return ok
}

// GetStatus implements get_status.
func (e *IcebergExecutor) GetStatus(planID string) (Status, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return "", false
	}
	return p.Status, true
}

// GetProgress implements get_progress.
func (e *IcebergExecutor) GetProgress(planID string) (Progress, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return Progress{}, false
	}
	return p.GetProgress(), true
}

// GetPendingCancelOrders implements get_pending_cancel_orders.
func (e *IcebergExecutor) GetPendingCancelOrders(planID string) ([]string, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return nil, false
	}
	return p.GetPendingCancelOrders(), true
}
