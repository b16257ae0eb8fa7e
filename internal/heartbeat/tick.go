// Package heartbeat implements the position-management heartbeat: per-symbol
// polling of open perpetual-futures positions, mechanical significance
// triggers with per-trigger cooldowns, hard circuit breakers, and an
// LLM advisor path whose actions are validated to only ever reduce risk.
package heartbeat

import (
	"math"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// PositionTick is one poll snapshot for one symbol. Immutable once built.
type PositionTick struct {
	Timestamp            int64   `json:"timestamp"` // ms since epoch
	Symbol               string  `json:"symbol"`
	Side                 Side    `json:"side"`
	PositionSize         float64 `json:"position_size"` // base units, signed positive
	EntryPrice           float64 `json:"entry_price"`
	MarkPrice            float64 `json:"mark_price"`
	UnrealizedPnl        float64 `json:"unrealized_pnl"`
	PnlPctOfEquity       float64 `json:"pnl_pct_of_equity"`
	AccountEquity        float64 `json:"account_equity"`
	MarginUsed           float64 `json:"margin_used"`
	LiquidationPrice     float64 `json:"liquidation_price"`
	DistToLiquidationPct float64 `json:"dist_to_liquidation_pct"`
	FundingRate          float64 `json:"funding_rate"`

	StopLossPrice     *float64 `json:"stop_loss_price,omitempty"`
	TakeProfitPrice   *float64 `json:"take_profit_price,omitempty"`
	StopLossOrderID   *string  `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID *string  `json:"take_profit_order_id,omitempty"`
}

// PnlPctOfEquity derivation guard: equity can be reported as zero during
// provider hiccups; dividing by it would poison every downstream threshold.
const equityEpsilon = 1e-9

func pnlPctOfEquity(unrealizedPnl, equity float64) float64 {
	return unrealizedPnl / math.Max(equity, equityEpsilon) * 100
}

func distToLiquidationPct(mark, liq float64) float64 {
	if !isFinite(mark) || !isFinite(liq) || mark <= 0 || liq <= 0 {
		return math.Inf(1)
	}
	return math.Abs(mark-liq) / math.Abs(mark) * 100
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// sign returns -1, 0, or +1. Used for funding-rate flips.
func sign(f float64) int {
	switch {
	case !isFinite(f) || f == 0:
		return 0
	case f > 0:
		return 1
	default:
		return -1
	}
}
