package execution

import (
	"time"

	"github.com/epic1st/execalgo/audit"
	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/intent"
	"github.com/epic1st/execalgo/orderid"
)

// TWAPConfig holds the recognized TWAP options from §6.
type TWAPConfig struct {
	MaxSliceQty        int64
	MinSliceQty        int64
	PriceTolerance     float64
	TimeoutSeconds     float64
	RetryCount         int
	DurationSeconds    float64
	SliceCount         int // 0 = derived from MaxSliceQty
	MinIntervalSeconds float64
	RandomizeInterval  bool
}

// TWAPExecutor decomposes an intent into a uniform time-sliced schedule.
type TWAPExecutor struct {
	registry *Registry
	clock    clock.Clock
	ledger   *audit.Ledger
	config   TWAPConfig
}

// NewTWAPExecutor creates a TWAP executor backed by its own plan registry.
func NewTWAPExecutor(c clock.Clock, ledger *audit.Ledger, cfg TWAPConfig) *TWAPExecutor {
	return &TWAPExecutor{registry: NewRegistry(), clock: c, ledger: ledger, config: cfg}
}

func (e *TWAPExecutor) record(ev audit.Event) {
	if e.ledger != nil {
		e.ledger.Record(ev)
	}
}

// MakePlan implements make_plan. It is idempotent (M2): a second call for the
// same intent_id returns the existing plan_id without mutating state.
func (e *TWAPExecutor) MakePlan(oi intent.OrderIntent) (string, error) {
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

	n := e.config.SliceCount
	if n <= 0 {
		maxQty := e.config.MaxSliceQty
		if maxQty <= 0 {
			maxQty = oi.TargetQty
		}
		n = int((oi.TargetQty + maxQty - 1) / maxQty)
	}
	if n < 1 {
		n = 1
	}

	now := e.clock.Now()
	qtys := distributeRemainder(oi.TargetQty, n)
	interval := time.Duration(e.config.DurationSeconds/float64(n)*float64(time.Second))

	slices := make([]Slice, n)
	for i := 0; i < n; i++ {
		slices[i] = Slice{
			Index:         i,
			Qty:           qtys[i],
			TargetPrice:   oi.LimitPrice,
			ScheduledTime: now.Add(time.Duration(i) * interval),
		}
	}

	candidate := &ExecutionPlanContext{
		PlanID:        oi.PlanID(),
		Intent:        oi,
		Status:        StatusRunning,
		Slices:        slices,
		PendingOrders: make(map[string]PendingOrder),
		StartTime:     now,
	}

	plan, created := e.registry.register(candidate)
	if !created {
		return plan.PlanID, nil
	}

	e.record(b.IntentCreatedEvent(oi.TargetQty))
	e.record(b.PlanCreatedEvent(n, oi.TargetQty))
	for _, s := range slices {
		e.record(b.SliceScheduledEvent(s.Index, s.Qty, s.ScheduledTime.UnixMilli()))
	}
	return plan.PlanID, nil
}

// NextAction implements next_action. ok is false only for an unknown plan_id.
func (e *TWAPExecutor) NextAction(planID string, now time.Time) (Action, bool) {
	var action Action
	found := e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		action = e.nextActionLocked(p, now)
	})
	return action, found
}

func (e *TWAPExecutor) nextActionLocked(p *ExecutionPlanContext, now time.Time) Action {
	if a, done := terminalPrelude(p); done {
		return a
	}
	if a, done := timeoutCheck(p, now, e.config.TimeoutSeconds); done {
		return a
	}
	if a, done := completionCheck(p, now); done {
		e.record(audit.NewBuilder(p.Intent).IntentCompletedEvent(p.FilledQty(), p.AvgPrice()))
		return a
	}

	idx := findNextSlice(p)
	if idx < 0 {
		return Wait(time.Time{}, "no slices remaining")
	}
	slice := p.Slices[idx]

	if cancelled := sliceCancelCount(p, idx); e.config.RetryCount > 0 && cancelled >= e.config.RetryCount {
		p.Slices[idx].Executed = true
		if idx >= p.CurrentSliceIndex {
			p.CurrentSliceIndex = idx + 1
		}
		return e.nextActionLocked(p, now)
	}

	if now.Before(slice.ScheduledTime) && len(p.PendingOrders) == 0 {
		return Wait(slice.ScheduledTime, "awaiting scheduled time")
	}
	if now.Before(slice.ScheduledTime) {
		return Wait(time.Time{}, "awaiting fill of outstanding slices")
	}

	return e.emitSlice(p, idx, now)
}

func (e *TWAPExecutor) emitSlice(p *ExecutionPlanContext, idx int, now time.Time) Action {
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
	e.record(audit.NewBuilder(p.Intent).SliceSentEvent(idx, clientOrderID, qty, price, "scheduled"))

	return Action{
		Kind:          ActionPlaceOrder,
		ClientOrderID: clientOrderID,
		Instrument:    p.Intent.Instrument,
		Side:          p.Intent.Side,
		Offset:        p.Intent.Offset,
		Price:         slice.TargetPrice,
		Qty:           qty,
		Reason:        "scheduled",
		Metadata: map[string]interface{}{
			"intent_id":   p.Intent.IntentID,
			"slice_index": idx,
			"retry_count": retry,
		},
	}
}

// OnEvent implements on_event. ok is false only for an unknown plan_id.
func (e *TWAPExecutor) OnEvent(planID string, ev OrderEvent) bool {
	return e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		now := e.clock.Now()
		e.recordEventAudit(p, ev, now)
		applyStandardEvent(p, ev, now, false)
	})
}

func (e *TWAPExecutor) recordEventAudit(p *ExecutionPlanContext, ev OrderEvent, now time.Time) {
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

// CancelPlan implements cancel_plan: it only succeeds on a non-terminal plan.
func (e *TWAPExecutor) CancelPlan(planID, reason string) bool {
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
func (e *TWAPExecutor) Pause(planID, reason string) bool {
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
func (e *TWAPExecutor) Resume(planID string) bool {
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

// GetStatus implements get_status. ok is false for an unknown plan_id.
func (e *TWAPExecutor) GetStatus(planID string) (Status, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return "", false
	}
	return p.Status, true
}

// GetProgress implements get_progress. ok is false for an unknown plan_id.
func (e *TWAPExecutor) GetProgress(planID string) (Progress, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return Progress{}, false
	}
	return p.GetProgress(), true
}

// GetPendingCancelOrders implements get_pending_cancel_orders.
func (e *TWAPExecutor) GetPendingCancelOrders(planID string) ([]string, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return nil, false
	}
	return p.GetPendingCancelOrders(), true
}

// findNextSlice returns the index of the first unexecuted slice, or -1 if
// every slice has been executed.
func findNextSlice(p *ExecutionPlanContext) int {
	for i := range p.Slices {
		if !p.Slices[i].Executed {
			return i
		}
	}
	return -1
}
