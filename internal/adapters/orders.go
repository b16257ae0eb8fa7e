package adapters

import (
	"context"
	"fmt"
)

// OrderExecutor is the risk-reduction surface. The heartbeat never opens or
// enlarges positions through it; stops only ever tighten.
type OrderExecutor interface {
	TightenStop(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error)
	AdjustTakeProfit(ctx context.Context, symbol string, newPrice float64) (*OrderAck, error)
	PartialClose(ctx context.Context, symbol string, fraction float64) (*OrderAck, error)
	ClosePosition(ctx context.Context, symbol string, reason string) (*OrderAck, error)
}

// OrderAck confirms a dispatched order. A returned ack must be journaled
// even when shutdown is already pending.
type OrderAck struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	Price         float64 `json:"price,omitempty"`
	Quantity      float64 `json:"quantity,omitempty"`
}

// OrderError classifies executor failures. Retriable drives the
// retry-once-after-1s policy for closes and stop tightens.
type OrderError struct {
	Type      string // "network", "exchange_reject", "no_position", "bad_params"
	Symbol    string
	Message   string
	Retriable bool
	Cause     error
}

func (e *OrderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("order %s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("order %s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *OrderError) Unwrap() error { return e.Cause }

func NewOrderNetworkError(symbol, message string, cause error) *OrderError {
	return &OrderError{Type: "network", Symbol: symbol, Message: message, Retriable: true, Cause: cause}
}

func NewExchangeRejectError(symbol, message string, cause error) *OrderError {
	return &OrderError{Type: "exchange_reject", Symbol: symbol, Message: message, Cause: cause}
}

func NewNoPositionError(symbol string) *OrderError {
	return &OrderError{Type: "no_position", Symbol: symbol, Message: "no open position"}
}

func NewBadParamsError(symbol, message string) *OrderError {
	return &OrderError{Type: "bad_params", Symbol: symbol, Message: message}
}
