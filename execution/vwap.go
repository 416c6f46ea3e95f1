package execution

import (
	"math"
	"time"

	"github.com/epic1st/execalgo/audit"
	"github.com/epic1st/execalgo/clock"
	"github.com/epic1st/execalgo/intent"
	"github.com/epic1st/execalgo/orderid"
)

// DefaultVolumeProfile is the fixed 11-bucket intraday weight profile for the
// Chinese futures session, front- and back-loaded around the open, lunch
// reopen and close.
var DefaultVolumeProfile = []float64{
	0.14, 0.10, 0.08, 0.07, 0.07,
	0.08,
	0.07, 0.07, 0.08, 0.10, 0.14,
}

// VWAPConfig holds the recognized VWAP options from §6 (superset of TWAP).
type VWAPConfig struct {
	MaxSliceQty        int64
	MinSliceQty        int64
	PriceTolerance     float64
	TimeoutSeconds     float64
	RetryCount         int
	DurationSeconds    float64
	MinIntervalSeconds float64
	RandomizeInterval  bool
	VolumeProfile      []float64 // nil = DefaultVolumeProfile
	MinSliceQtyRatio   float64
	ParticipationRate  float64
}

// VWAPExecutor decomposes an intent using a volume-profile-weighted schedule.
type VWAPExecutor struct {
	registry *Registry
	clock    clock.Clock
	ledger   *audit.Ledger
	config   VWAPConfig
}

// NewVWAPExecutor creates a VWAP executor backed by its own plan registry.
func NewVWAPExecutor(c clock.Clock, ledger *audit.Ledger, cfg VWAPConfig) *VWAPExecutor {
	if cfg.VolumeProfile == nil {
		cfg.VolumeProfile = DefaultVolumeProfile
	}
	return &VWAPExecutor{registry: NewRegistry(), clock: c, ledger: ledger, config: cfg}
}

func (e *VWAPExecutor) record(ev audit.Event) {
	if e.ledger != nil {
		e.ledger.Record(ev)
	}
}

// buildVWAPSlices implements §4.3 planning and tail reconciliation. The
// profile captured at construction time is frozen into the returned slices;
// a later live profile update never mutates an already-planned schedule
// (replay invariant M7).
func buildVWAPSlices(targetQty int64, profile []float64, minSliceQtyRatio float64, start time.Time, durationSeconds float64, limitPrice *float64) ([]Slice, *intent.ValidationError) {
	n := len(profile)
	if n == 0 {
		return nil, &intent.ValidationError{Code: "VOLUME_PROFILE_EMPTY", Msg: "volume profile must have at least one bucket"}
	}

	sum := 0.0
	for _, w := range profile {
		sum += w
	}
	normalized := make([]float64, n)
	if sum <= 0 {
		for i := range normalized {
			normalized[i] = 1.0 / float64(n)
		}
	} else {
		for i, w := range profile {
			normalized[i] = w / sum
		}
	}

	minSliceQty := int64(math.Floor(float64(targetQty) * minSliceQtyRatio))
	if minSliceQty < 1 {
		minSliceQty = 1
	}

	// Each bucket is sized independently from target_qty, not from a running
	// remaining balance: min_slice_qty inflation can push the raw sum above
	// target_qty, which the tail-reconciliation pass below corrects (Open
	// Question ii).
	qtys := make([]int64, n)
	for i, w := range normalized {
		target := int64(math.Floor(float64(targetQty) * w))
		q := target
		if q < minSliceQty {
			q = minSliceQty
		}
		if q < 0 {
			q = 0
		}
		if q > targetQty {
			q = targetQty
		}
		qtys[i] = q
	}

	var allocated int64
	for _, q := range qtys {
		allocated += q
	}

	if allocated < targetQty {
		diff := targetQty - allocated
		lastNonZero := -1
		for i := n - 1; i >= 0; i-- {
			if qtys[i] > 0 {
				lastNonZero = i
				break
			}
		}
		if lastNonZero < 0 {
			lastNonZero = n - 1
		}
		qtys[lastNonZero] += diff
	} else if allocated > targetQty {
		excess := allocated - targetQty
		for i := n - 1; i >= 0 && excess > 0; i-- {
			room := qtys[i] - 1
			if room <= 0 {
				continue
			}
			take := room
			if take > excess {
				take = excess
			}
			qtys[i] -= take
			excess -= take
		}
		if excess > 0 {
			return nil, &intent.ValidationError{
				Code: "VWAP_RECONCILIATION_INFEASIBLE",
				Msg:  "cannot reconcile volume profile to target_qty without reducing a slice below 1",
			}
		}
	}

	interval := time.Duration(durationSeconds / float64(n) * float64(time.Second))
	slices := make([]Slice, 0, n)
	denseIdx := 0
	for i, q := range qtys {
		if q <= 0 {
			continue
		}
		slices = append(slices, Slice{
			Index:         denseIdx,
			Qty:           q,
			TargetPrice:   limitPrice,
			ScheduledTime: start.Add(time.Duration(i) * interval),
			VolumeWeight:  normalized[i],
		})
		denseIdx++
	}
	return slices, nil
}

// MakePlan implements make_plan (idempotent, M2).
func (e *VWAPExecutor) MakePlan(oi intent.OrderIntent) (string, error) {
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

	now := e.clock.Now()
	slices, verr := buildVWAPSlices(oi.TargetQty, e.config.VolumeProfile, e.config.MinSliceQtyRatio, now, e.config.DurationSeconds, oi.LimitPrice)
	if verr != nil {
		e.record(b.IntentCreatedEvent(oi.TargetQty))
		e.record(b.IntentRejectedEvent(verr.Code, verr.Msg))
		return "", verr
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
	e.record(b.PlanCreatedEvent(len(slices), oi.TargetQty))
	for _, s := range slices {
		e.record(b.SliceScheduledEvent(s.Index, s.Qty, s.ScheduledTime.UnixMilli()))
	}
	return plan.PlanID, nil
}

// NextAction implements next_action. Dispatch gating and retry policy are
// identical to TWAP (§4.3).
func (e *VWAPExecutor) NextAction(planID string, now time.Time) (Action, bool) {
	var action Action
	found := e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		action = e.nextActionLocked(p, now)
	})
	return action, found
}

func (e *VWAPExecutor) nextActionLocked(p *ExecutionPlanContext, now time.Time) Action {
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

func (e *VWAPExecutor) emitSlice(p *ExecutionPlanContext, idx int, now time.Time) Action {
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
			"intent_id":     p.Intent.IntentID,
			"slice_index":   idx,
			"retry_count":   retry,
			"volume_weight": slice.VolumeWeight,
		},
	}
}

// OnEvent implements on_event (identical policy to TWAP).
func (e *VWAPExecutor) OnEvent(planID string, ev OrderEvent) bool {
	return e.registry.withPlan(planID, func(p *ExecutionPlanContext) {
		now := e.clock.Now()
		e.recordEventAudit(p, ev)
		applyStandardEvent(p, ev, now, false)
	})
}

func (e *VWAPExecutor) recordEventAudit(p *ExecutionPlanContext, ev OrderEvent) {
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
func (e *VWAPExecutor) CancelPlan(planID, reason string) bool {
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
func (e *VWAPExecutor) Pause(planID, reason string) bool {
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
func (e *VWAPExecutor) Resume(planID string) bool {
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
func (e *VWAPExecutor) GetStatus(planID string) (Status, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return "", false
	}
	return p.Status, true
}

// GetProgress implements get_progress.
func (e *VWAPExecutor) GetProgress(planID string) (Progress, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return Progress{}, false
	}
	return p.GetProgress(), true
}

// GetPendingCancelOrders implements get_pending_cancel_orders.
func (e *VWAPExecutor) GetPendingCancelOrders(planID string) ([]string, bool) {
	p, ok := e.registry.Get(planID)
	if !ok {
		return nil, false
	}
	return p.GetPendingCancelOrders(), true
}
