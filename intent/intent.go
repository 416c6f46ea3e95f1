// Package intent defines the immutable parent instruction an execution
// algorithm decomposes into child orders.
package intent

import (
	"fmt"
	"time"

	"github.com/epic1st/execalgo/orderid"
)

// Side is the direction of the intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Offset distinguishes new-position intents from closing ones. CloseToday is
// specific to futures markets that separate today's session from carried
// positions.
type Offset string

const (
	OffsetOpen       Offset = "OPEN"
	OffsetClose      Offset = "CLOSE"
	OffsetCloseToday Offset = "CLOSE_TODAY"
)

// Algo selects which executor decomposes the intent into child orders.
type Algo string

const (
	AlgoTWAP    Algo = "TWAP"
	AlgoVWAP    Algo = "VWAP"
	AlgoIceberg Algo = "ICEBERG"
)

// Urgency is a coarse hint strategies attach to an intent; the core does not
// interpret it, and it is not copied into audit events or read by the
// confidence checker.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyNormal Urgency = "NORMAL"
	UrgencyHigh   Urgency = "HIGH"
)

// OrderIntent is immutable once constructed. intent_id doubles as the plan id:
// at most one execution plan exists per intent.
type OrderIntent struct {
	IntentID       string
	StrategyID     string
	DecisionHash   string
	Instrument     string
	Side           Side
	Offset         Offset
	TargetQty      int64
	Algo           Algo
	LimitPrice     *float64 // nil means market
	Urgency        Urgency
	SignalTS       time.Time
	ExpireTS       time.Time
	ParentIntentID string
}

// IsMarket reports whether the intent carries no limit price.
func (oi OrderIntent) IsMarket() bool {
	return oi.LimitPrice == nil
}

// ValidationError is the structured, machine-readable rejection raised by
// Validate. Callers surface Code verbatim in INTENT_REJECTED audit events.
type ValidationError struct {
	Code string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func rejectf(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks the structural invariants make_plan depends on. It does not
// mutate the intent.
func (oi OrderIntent) Validate() error {
	if oi.IntentID == "" {
		return rejectf("INTENT_ID_EMPTY", "intent_id must not be empty")
	}
	if orderid.ContainsDelim(oi.IntentID) {
		return rejectf("INTENT_ID_INVALID", "intent_id must not contain %q", orderid.Delim)
	}
	if oi.Instrument == "" {
		return rejectf("INSTRUMENT_EMPTY", "instrument must not be empty")
	}
	if oi.Side != SideBuy && oi.Side != SideSell {
		return rejectf("SIDE_INVALID", "unknown side %q", oi.Side)
	}
	switch oi.Offset {
	case OffsetOpen, OffsetClose, OffsetCloseToday:
	default:
		return rejectf("OFFSET_INVALID", "unknown offset %q", oi.Offset)
	}
	if oi.TargetQty <= 0 {
		return rejectf("TARGET_QTY_INVALID", "target_qty must be positive, got %d", oi.TargetQty)
	}
	switch oi.Algo {
	case AlgoTWAP, AlgoVWAP, AlgoIceberg:
	default:
		return rejectf("ALGO_UNKNOWN", "unknown algorithm %q", oi.Algo)
	}
	if oi.LimitPrice != nil && *oi.LimitPrice <= 0 {
		return rejectf("LIMIT_PRICE_INVALID", "limit_price must be positive when present")
	}
	if !oi.ExpireTS.IsZero() && !oi.SignalTS.IsZero() && oi.ExpireTS.Before(oi.SignalTS) {
		return rejectf("EXPIRY_BEFORE_SIGNAL", "expire_ts %s precedes signal_ts %s", oi.ExpireTS, oi.SignalTS)
	}
	return nil
}

// PlanID returns the plan identifier for this intent. An intent has at most
// one execution plan, identified by its own intent_id.
func (oi OrderIntent) PlanID() string {
	return oi.IntentID
}
