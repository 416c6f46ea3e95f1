// Package audit implements the totally-ordered, append-only event ledger the
// execution core uses to make every plan transition reproducible and
// inspectable after the fact.
package audit

import "github.com/epic1st/execalgo/intent"

// EventType discriminates the AuditEvent union. The valid chain per intent_id
// is:
//
//	INTENT_CREATED -> PLAN_CREATED ->
//	  (SLICE_SENT -> (SLICE_ACK | SLICE_REJECTED) -> SLICE_PARTIAL_FILL* -> (SLICE_FILLED | SLICE_CANCELLED))* ->
//	  (INTENT_COMPLETED | INTENT_FAILED | PLAN_CANCELLED)
type EventType string

const (
	IntentCreated    EventType = "INTENT_CREATED"
	IntentRejected   EventType = "INTENT_REJECTED"
	PlanCreated      EventType = "PLAN_CREATED"
	SliceScheduled   EventType = "SLICE_SCHEDULED"
	SliceSent        EventType = "SLICE_SENT"
	SliceAck         EventType = "SLICE_ACK"
	SlicePartialFill EventType = "SLICE_PARTIAL_FILL"
	SliceFilled      EventType = "SLICE_FILLED"
	SliceRejected    EventType = "SLICE_REJECTED"
	SliceCancelled   EventType = "SLICE_CANCELLED"
	PlanPaused       EventType = "PLAN_PAUSED"
	PlanResumed      EventType = "PLAN_RESUMED"
	PlanCancelled    EventType = "PLAN_CANCELLED"
	IntentCompleted  EventType = "INTENT_COMPLETED"
	IntentFailed     EventType = "INTENT_FAILED"
)

// Event is the discriminated union of everything the ledger records. Fields
// that don't apply to a given EventType are left at their zero value; Sink
// implementations that serialize to JSON rely on `omitempty` to keep records
// flat and human-scannable.
type Event struct {
	TS            int64         `json:"ts"` // milliseconds
	EventType     EventType     `json:"event_type"`
	IntentID      string        `json:"intent_id"`
	PlanID        string        `json:"plan_id"`
	ClientOrderID string        `json:"client_order_id,omitempty"`
	SliceIndex    *int          `json:"slice_index,omitempty"`
	Instrument    string        `json:"instrument,omitempty"`
	Side          intent.Side   `json:"side,omitempty"`
	Offset        intent.Offset `json:"offset,omitempty"`
	Qty           int64         `json:"qty,omitempty"`
	Price         float64       `json:"price,omitempty"`
	FilledQty     int64         `json:"filled_qty,omitempty"`
	FilledPrice   float64       `json:"filled_price,omitempty"`
	RemainingQty  int64         `json:"remaining_qty,omitempty"`
	Algo          intent.Algo   `json:"algo,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	ErrorCode     string        `json:"error_code,omitempty"`
	ErrorMsg      string        `json:"error_msg,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	// Enriched by the ledger at write time, not by callers.
	RunID  string `json:"run_id,omitempty"`
	ExecID string `json:"exec_id,omitempty"`
	Seq    int64  `json:"seq"`
}

func intPtr(i int) *int { return &i }

// Builder accumulates the fields common to every event for one plan so call
// sites don't repeat intent_id/plan_id/instrument/side/offset/algo on each
// emission.
type Builder struct {
	IntentID   string
	PlanID     string
	Instrument string
	Side       intent.Side
	Offset     intent.Offset
	Algo       intent.Algo
}

// NewBuilder seeds a Builder from an intent.
func NewBuilder(oi intent.OrderIntent) Builder {
	return Builder{
		IntentID:   oi.IntentID,
		PlanID:     oi.PlanID(),
		Instrument: oi.Instrument,
		Side:       oi.Side,
		Offset:     oi.Offset,
		Algo:       oi.Algo,
	}
}

func (b Builder) base(t EventType) Event {
	return Event{
		EventType:  t,
		IntentID:   b.IntentID,
		PlanID:     b.PlanID,
		Instrument: b.Instrument,
		Side:       b.Side,
		Offset:     b.Offset,
		Algo:       b.Algo,
	}
}

// IntentCreatedEvent records the arrival of a new parent intent.
func (b Builder) IntentCreatedEvent(qty int64) Event {
	e := b.base(IntentCreated)
	e.Qty = qty
	return e
}

// IntentRejectedEvent records a make_plan validation failure.
func (b Builder) IntentRejectedEvent(code, msg string) Event {
	e := b.base(IntentRejected)
	e.ErrorCode = code
	e.ErrorMsg = msg
	return e
}

// PlanCreatedEvent records successful plan construction.
func (b Builder) PlanCreatedEvent(sliceCount int, qty int64) Event {
	e := b.base(PlanCreated)
	e.Qty = qty
	e.Metadata = map[string]interface{}{"slice_count": sliceCount}
	return e
}

// SliceScheduledEvent records a slice's scheduled_time at plan construction.
func (b Builder) SliceScheduledEvent(sliceIndex int, qty int64, scheduledTSMillis int64) Event {
	e := b.base(SliceScheduled)
	e.SliceIndex = intPtr(sliceIndex)
	e.Qty = qty
	e.Metadata = map[string]interface{}{"scheduled_time_ms": scheduledTSMillis}
	return e
}

// SliceSentEvent records PLACE_ORDER emission for a slice.
func (b Builder) SliceSentEvent(sliceIndex int, clientOrderID string, qty int64, price float64, reason string) Event {
	e := b.base(SliceSent)
	e.SliceIndex = intPtr(sliceIndex)
	e.ClientOrderID = clientOrderID
	e.Qty = qty
	e.Price = price
	e.Reason = reason
	return e
}

// SliceAckEvent records a gateway ACK for a child order.
func (b Builder) SliceAckEvent(sliceIndex int, clientOrderID string) Event {
	e := b.base(SliceAck)
	e.SliceIndex = intPtr(sliceIndex)
	e.ClientOrderID = clientOrderID
	return e
}

// SlicePartialFillEvent records a PARTIAL_FILL.
func (b Builder) SlicePartialFillEvent(sliceIndex int, clientOrderID string, filledQty int64, filledPrice float64, remainingQty int64) Event {
	e := b.base(SlicePartialFill)
	e.SliceIndex = intPtr(sliceIndex)
	e.ClientOrderID = clientOrderID
	e.FilledQty = filledQty
	e.FilledPrice = filledPrice
	e.RemainingQty = remainingQty
	return e
}

// SliceFilledEvent records the terminal FILL of a child order.
func (b Builder) SliceFilledEvent(sliceIndex int, clientOrderID string, filledQty int64, filledPrice float64) Event {
	e := b.base(SliceFilled)
	e.SliceIndex = intPtr(sliceIndex)
	e.ClientOrderID = clientOrderID
	e.FilledQty = filledQty
	e.FilledPrice = filledPrice
	return e
}

// SliceRejectedEvent records a terminal REJECT.
func (b Builder) SliceRejectedEvent(sliceIndex int, clientOrderID, errorCode, errorMsg string) Event {
	e := b.base(SliceRejected)
	e.SliceIndex = intPtr(sliceIndex)
	e.ClientOrderID = clientOrderID
	e.ErrorCode = errorCode
	e.ErrorMsg = errorMsg
	return e
}

// SliceCancelledEvent records a terminal CANCEL_ACK.
func (b Builder) SliceCancelledEvent(sliceIndex int, clientOrderID, reason string) Event {
	e := b.base(SliceCancelled)
	e.SliceIndex = intPtr(sliceIndex)
	e.ClientOrderID = clientOrderID
	e.Reason = reason
	return e
}

// PlanPausedEvent records an operator pause.
func (b Builder) PlanPausedEvent(reason string) Event {
	e := b.base(PlanPaused)
	e.Reason = reason
	return e
}

// PlanResumedEvent records a resume from pause.
func (b Builder) PlanResumedEvent() Event {
	return b.base(PlanResumed)
}

// PlanCancelledEvent records an operator cancel_plan call.
func (b Builder) PlanCancelledEvent(reason string) Event {
	e := b.base(PlanCancelled)
	e.Reason = reason
	return e
}

// IntentCompletedEvent records a plan reaching COMPLETED.
func (b Builder) IntentCompletedEvent(filledQty int64, avgPrice float64) Event {
	e := b.base(IntentCompleted)
	e.FilledQty = filledQty
	e.FilledPrice = avgPrice
	return e
}

// IntentFailedEvent records a plan reaching FAILED.
func (b Builder) IntentFailedEvent(errorCode, errorMsg string, filledQty int64) Event {
	e := b.base(IntentFailed)
	e.ErrorCode = errorCode
	e.ErrorMsg = errorMsg
	e.FilledQty = filledQty
	return e
}
