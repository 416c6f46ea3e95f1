// Package gateway defines the boundary between the deterministic execution
// core and the outside world: the exchange order gateway, the market data
// feed, and the driver loop that ties next_action/on_event to both.
package gateway

import (
	"time"

	"github.com/epic1st/execalgo/execution"
	"github.com/epic1st/execalgo/intent"
)

// Executor is the common surface TWAPExecutor, VWAPExecutor and
// IcebergExecutor all satisfy. The driver loop is written against this
// interface so it does not need to know which algorithm a plan uses.
type Executor interface {
	MakePlan(oi intent.OrderIntent) (string, error)
	NextAction(planID string, now time.Time) (execution.Action, bool)
	OnEvent(planID string, ev execution.OrderEvent) bool
	CancelPlan(planID, reason string) bool
	Pause(planID, reason string) bool
	Resume(planID string) bool
	GetStatus(planID string) (execution.Status, bool)
	GetProgress(planID string) (execution.Progress, bool)
	GetPendingCancelOrders(planID string) ([]string, bool)
}

// OrderGateway is the exchange-facing order entry surface a driver submits
// child orders to. Implementations own the wire protocol (FIX, a vendor
// SDK, a raw websocket); the core never imports any of that.
type OrderGateway interface {
	// PlaceOrder submits a new child order. The gateway owns the clock for
	// its own retry/backoff; the core's retry semantics are driven by
	// timeouts observed through NextAction and by REJECT/CANCEL_ACK events
	// fed to OnEvent, not by PlaceOrder's error return.
	PlaceOrder(clientOrderID, instrument string, side intent.Side, offset intent.Offset, qty int64, price *float64) error
	CancelOrder(clientOrderID string) error
}

// MarketDataFeed delivers the book/tick data VWAP profiling and the risk
// engine's mark-to-market both consume.
type MarketDataFeed interface {
	Subscribe(instrument string) (<-chan MarketTick, error)
	Unsubscribe(instrument string) error
}

// MarketTick is a single best-bid/ask or trade update.
type MarketTick struct {
	Instrument string
	MidPrice   float64
	Volume     int64
	TSMillis   int64
}

// EventListener is how an OrderGateway implementation delivers terminal and
// partial order events back to the driver, decoupled from whatever
// transport carried them in (FIX execution reports, a websocket frame, a
// REST webhook).
type EventListener func(clientOrderID string, ev execution.OrderEvent)
