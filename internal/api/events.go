package api

import "time"

// DashboardEvent wraps every message pushed to connected dashboard clients.
type DashboardEvent struct {
	Type      string      `json:"type"` // "snapshot", "fill", "order", "kill"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// FillEvent is a trade-fill notification.
type FillEvent struct {
	OrderID       string  `json:"order_id"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	CurrentPosition float64 `json:"current_position"`
}

// OrderEvent is an order-lifecycle notification relayed from the account stream.
type OrderEvent struct {
	OrderID string  `json:"order_id"`
	Status  string  `json:"status"` // a types.OrderStatus value, e.g. "LIVE", "FILLED", "CANCELLED"
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
}

// KillEvent is emitted when the risk manager engages the kill switch.
type KillEvent struct {
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

// NewFillEvent builds a FillEvent.
func NewFillEvent(orderID, side string, price, size, currentPosition float64) FillEvent {
	return FillEvent{OrderID: orderID, Side: side, Price: price, Size: size, CurrentPosition: currentPosition}
}

// NewOrderEvent builds an OrderEvent.
func NewOrderEvent(orderID, status, side string, price float64) OrderEvent {
	return OrderEvent{OrderID: orderID, Status: status, Side: side, Price: price}
}

// NewKillEvent builds a KillEvent.
func NewKillEvent(reason string, until time.Time) KillEvent {
	return KillEvent{Reason: reason, Until: until}
}
