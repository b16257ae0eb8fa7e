package adapters

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// PositionProvider supplies the market/account reads the heartbeat needs on
// every tick. Implementations must be safe for concurrent use: one Watcher
// goroutine per symbol calls them in parallel.
type PositionProvider interface {
	ListOpenPositions(ctx context.Context) ([]PositionInfo, error)
	GetMark(ctx context.Context, symbol string) (*MarkInfo, error)
	GetEquity(ctx context.Context) (float64, error)
	ListOpenTriggerOrders(ctx context.Context, symbol string) ([]TriggerOrder, error)
	MinPositionSize(ctx context.Context, symbol string) (float64, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// PositionInfo is one open perpetual position as reported by the exchange.
type PositionInfo struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"` // "long" | "short"
	Size             float64 `json:"size"` // base units, positive
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	LiquidationPrice float64 `json:"liquidation_price"`
	MarginUsed       float64 `json:"margin_used"`
	Leverage         float64 `json:"leverage"`
}

// MarkInfo is the per-symbol mark price and current funding rate.
type MarkInfo struct {
	Symbol      string  `json:"symbol"`
	MarkPrice   float64 `json:"mark_price"`
	FundingRate float64 `json:"funding_rate"`
}

// TriggerOrder is an open conditional order (stop-loss or take-profit).
type TriggerOrder struct {
	OrderID   string  `json:"order_id"`
	Kind      string  `json:"tpsl"` // "sl" | "tp"
	TriggerPx float64 `json:"trigger_px"`
}

// ValidatePosition fail-closed: a malformed position is a transient error,
// never a tick.
func ValidatePosition(p *PositionInfo) error {
	if p == nil {
		return fmt.Errorf("position is nil")
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if p.Side != "long" && p.Side != "short" {
		return fmt.Errorf("invalid side %q", p.Side)
	}
	if !finite(p.Size) || p.Size <= 0 {
		return fmt.Errorf("invalid size %v", p.Size)
	}
	if !finite(p.EntryPrice) || p.EntryPrice <= 0 {
		return fmt.Errorf("invalid entry price %v", p.EntryPrice)
	}
	if !finite(p.UnrealizedPnl) {
		return fmt.Errorf("non-finite unrealized pnl")
	}
	return nil
}

// ValidateMark fail-closed on the fields every trigger depends on.
func ValidateMark(m *MarkInfo) error {
	if m == nil {
		return fmt.Errorf("mark is nil")
	}
	if !finite(m.MarkPrice) || m.MarkPrice <= 0 {
		return fmt.Errorf("invalid mark price %v", m.MarkPrice)
	}
	if !finite(m.FundingRate) {
		return fmt.Errorf("non-finite funding rate")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ProviderError classifies provider failures so callers can distinguish
// transient conditions from misconfiguration.
type ProviderError struct {
	Type    string // "network", "rate_limit", "provider_error", "bad_symbol", "stale"
	Symbol  string
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *ProviderError {
	return &ProviderError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *ProviderError {
	return &ProviderError{Type: "rate_limit", Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *ProviderError {
	return &ProviderError{Type: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *ProviderError {
	return &ProviderError{Type: "bad_symbol", Symbol: symbol, Message: message}
}

func NewStaleError(symbol string, staleness time.Duration) *ProviderError {
	return &ProviderError{
		Type:    "stale",
		Symbol:  symbol,
		Message: fmt.Sprintf("cached read too stale: %v", staleness),
	}
}
