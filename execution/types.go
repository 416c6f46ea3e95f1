// Package execution implements the deterministic executor state machines
// (TWAP, VWAP, Iceberg) that decompose an OrderIntent into a schedule of
// child orders and drive each through the gateway's order lifecycle.
package execution

import (
	"time"

	"github.com/epic1st/execalgo/intent"
)

// Status is the lifecycle state of an ExecutionPlanContext.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further mutation of a plan in this status is
// permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// ActionKind discriminates the Action union next_action returns.
type ActionKind string

const (
	ActionPlaceOrder  ActionKind = "PLACE_ORDER"
	ActionCancelOrder ActionKind = "CANCEL_ORDER"
	ActionWait        ActionKind = "WAIT"
	ActionComplete    ActionKind = "COMPLETE"
	ActionAbort       ActionKind = "ABORT"
)

// Action is the tagged union next_action returns. Only the fields relevant to
// Kind are populated; the driver switches on Kind before reading them.
type Action struct {
	Kind          ActionKind
	ClientOrderID string
	Instrument    string
	Side          intent.Side
	Offset        intent.Offset
	Price         *float64
	Qty           int64
	Until         time.Time
	Reason        string
	Metadata      map[string]interface{}
}

// Wait builds a WAIT action. until is the zero time when the driver should
// simply be called again promptly (e.g. a pending-order timeout recheck).
func Wait(until time.Time, reason string) Action {
	return Action{Kind: ActionWait, Until: until, Reason: reason}
}

// Complete builds a COMPLETE action.
func Complete(reason string) Action {
	return Action{Kind: ActionComplete, Reason: reason}
}

// Abort builds an ABORT action.
func Abort(reason string) Action {
	return Action{Kind: ActionAbort, Reason: reason}
}

// CancelOrder builds a CANCEL_ORDER action.
func CancelOrder(clientOrderID, reason string) Action {
	return Action{Kind: ActionCancelOrder, ClientOrderID: clientOrderID, Reason: reason}
}

// EventKind is the set of gateway order events the core recognizes.
// Unrecognized values are ignored by on_event for forward compatibility.
type EventKind string

const (
	EventAck         EventKind = "ACK"
	EventPartialFill EventKind = "PARTIAL_FILL"
	EventFill        EventKind = "FILL"
	EventReject      EventKind = "REJECT"
	EventCancelAck   EventKind = "CANCEL_ACK"
)

// OrderEvent is a gateway callback delivered to on_event.
type OrderEvent struct {
	ClientOrderID string
	Kind          EventKind
	TSMillis      int64
	FilledQty     int64
	FilledPrice   float64
	RemainingQty  int64
	ErrorCode     string
	ErrorMsg      string
}

// Slice is one child-order-sized unit of a plan.
type Slice struct {
	Index         int
	Qty           int64
	TargetPrice   *float64
	ScheduledTime time.Time // zero value means demand-driven, no schedule
	Executed      bool
	VolumeWeight  float64 // VWAP only; zero for TWAP/Iceberg
}

// PendingOrder is an in-flight child order awaiting a terminal event.
type PendingOrder struct {
	ClientOrderID   string
	Qty             int64
	Price           *float64
	SubmitTime      time.Time
	RetryCount      int
	CancelRequested bool // timeoutCheck has already emitted CANCEL_ORDER for this order
}

// FilledOrder is a completed (possibly partial) fill record.
type FilledOrder struct {
	ClientOrderID string
	FilledQty     int64
	AvgPrice      float64
	FillTime      time.Time
}

// CancelledOrder is a child order that terminated via REJECT or CANCEL_ACK.
type CancelledOrder struct {
	ClientOrderID string
	Reason        string
	CancelTime    time.Time
}

// Progress is the derived read-only view get_progress exposes.
type Progress struct {
	FilledQty    int64
	TargetQty    int64
	AvgPrice     float64
	SliceCount   int
	SlicesDone   int
	StartTime    time.Time
	EndTime      time.Time
}

// ExecutionPlanContext is the mutable per-intent execution state. All
// mutation is serialized by the owning Registry's per-plan lock.
type ExecutionPlanContext struct {
	PlanID            string
	Intent            intent.OrderIntent
	Status            Status
	Slices            []Slice
	CurrentSliceIndex int
	PendingOrders     map[string]PendingOrder
	FilledOrders      []FilledOrder
	CancelledOrders   []CancelledOrder
	Metadata          map[string]interface{}
	StartTime         time.Time
	EndTime           time.Time
	ErrorCode         string
	ErrorMsg          string

	retrySliceCancelCount map[int]int // slice index -> cancelled/rejected child order count
}

// FilledQty sums FilledOrders. Invariant (3a): it is recomputed on every call
// rather than cached, so it always agrees with FilledOrders, the source of
// truth.
func (p *ExecutionPlanContext) FilledQty() int64 {
	var total int64
	for _, f := range p.FilledOrders {
		total += f.FilledQty
	}
	return total
}

// AvgPrice is the quantity-weighted average fill price, or 0 if nothing has
// filled yet.
func (p *ExecutionPlanContext) AvgPrice() float64 {
	var qty int64
	var notional float64
	for _, f := range p.FilledOrders {
		qty += f.FilledQty
		notional += float64(f.FilledQty) * f.AvgPrice
	}
	if qty == 0 {
		return 0
	}
	return notional / float64(qty)
}

// GetProgress builds the derived Progress snapshot.
func (p *ExecutionPlanContext) GetProgress() Progress {
	done := 0
	for _, s := range p.Slices {
		if s.Executed {
			done++
		}
	}
	return Progress{
		FilledQty:  p.FilledQty(),
		TargetQty:  p.Intent.TargetQty,
		AvgPrice:   p.AvgPrice(),
		SliceCount: len(p.Slices),
		SlicesDone: done,
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
	}
}

// GetPendingCancelOrders returns the client_order_ids the driver is
// responsible for cancelling against the gateway, e.g. after cancel_plan.
func (p *ExecutionPlanContext) GetPendingCancelOrders() []string {
	ids := make([]string, 0, len(p.PendingOrders))
	for id := range p.PendingOrders {
		ids = append(ids, id)
	}
	return ids
}
