package gateway

import (
	"fmt"
	"sync"

	"github.com/epic1st/execalgo/execution"
	"github.com/epic1st/execalgo/intent"
)

// MockGateway is an in-memory OrderGateway for tests and local demos: every
// PlaceOrder immediately ACKs, every CancelOrder immediately emits CANCEL_ACK,
// and fills are driven explicitly via Fill / Reject so a test controls the
// exact event sequence.
type MockGateway struct {
	mu       sync.Mutex
	orders   map[string]mockOrder
	listener EventListener
}

type mockOrder struct {
	instrument string
	side       intent.Side
	offset     intent.Offset
	qty        int64
	price      *float64
	filled     int64
}

// NewMockGateway creates a gateway that delivers events to listener.
func NewMockGateway(listener EventListener) *MockGateway {
	return &MockGateway{orders: make(map[string]mockOrder), listener: listener}
}

func (g *MockGateway) PlaceOrder(clientOrderID, instrument string, side intent.Side, offset intent.Offset, qty int64, price *float64) error {
	g.mu.Lock()
	if _, exists := g.orders[clientOrderID]; exists {
		g.mu.Unlock()
		return fmt.Errorf("gateway: duplicate client_order_id %s", clientOrderID)
	}
	g.orders[clientOrderID] = mockOrder{instrument: instrument, side: side, offset: offset, qty: qty, price: price}
	g.mu.Unlock()

	g.emit(clientOrderID, execution.OrderEvent{ClientOrderID: clientOrderID, Kind: execution.EventAck})
	return nil
}

func (g *MockGateway) CancelOrder(clientOrderID string) error {
	g.mu.Lock()
	_, exists := g.orders[clientOrderID]
	g.mu.Unlock()
	if !exists {
		return fmt.Errorf("gateway: unknown client_order_id %s", clientOrderID)
	}
	g.emit(clientOrderID, execution.OrderEvent{ClientOrderID: clientOrderID, Kind: execution.EventCancelAck})
	return nil
}

// Fill delivers a (possibly partial) fill for a previously placed order.
// qty is the incremental quantity filled by this event, not the cumulative
// total.
func (g *MockGateway) Fill(clientOrderID string, qty int64, price float64) {
	g.mu.Lock()
	o, exists := g.orders[clientOrderID]
	if !exists {
		g.mu.Unlock()
		return
	}
	o.filled += qty
	remaining := o.qty - o.filled
	g.orders[clientOrderID] = o
	g.mu.Unlock()

	kind := execution.EventPartialFill
	if remaining <= 0 {
		kind = execution.EventFill
	}
	g.emit(clientOrderID, execution.OrderEvent{
		ClientOrderID: clientOrderID,
		Kind:          kind,
		FilledQty:     qty,
		FilledPrice:   price,
		RemainingQty:  remaining,
	})
}

// Reject delivers a REJECT event for a previously placed order.
func (g *MockGateway) Reject(clientOrderID, errorCode, errorMsg string) {
	g.emit(clientOrderID, execution.OrderEvent{
		ClientOrderID: clientOrderID,
		Kind:          execution.EventReject,
		ErrorCode:     errorCode,
		ErrorMsg:      errorMsg,
	})
}

func (g *MockGateway) emit(clientOrderID string, ev execution.OrderEvent) {
	if g.listener != nil {
		g.listener(clientOrderID, ev)
	}
}
