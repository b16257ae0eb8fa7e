package heartbeat

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/YoByron/Bijaz/internal/adapters"
)

// Snapshotter aggregates the provider reads for one symbol into a
// PositionTick. Owned by a single Watcher goroutine; not safe for
// concurrent use.
type Snapshotter struct {
	provider  adapters.PositionProvider
	timeout   time.Duration
	openCount int
}

func NewSnapshotter(p adapters.PositionProvider, timeout time.Duration) *Snapshotter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Snapshotter{provider: p, timeout: timeout}
}

// OpenPositions is the account-wide open position count observed by the
// last successful Snapshot call.
func (s *Snapshotter) OpenPositions() int { return s.openCount }

// Snapshot builds the tick for symbol. A (nil, nil) return means the
// position is no longer open; any error is transient and the caller skips
// the tick. Partial data never becomes a tick.
func (s *Snapshotter) Snapshot(ctx context.Context, symbol string) (*PositionTick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	positions, err := s.provider.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	s.openCount = len(positions)

	var pos *adapters.PositionInfo
	for i := range positions {
		if positions[i].Symbol == symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return nil, nil
	}
	if err := adapters.ValidatePosition(pos); err != nil {
		return nil, fmt.Errorf("position %s: %w", symbol, err)
	}

	mark, err := s.provider.GetMark(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("mark %s: %w", symbol, err)
	}
	if err := adapters.ValidateMark(mark); err != nil {
		return nil, fmt.Errorf("mark %s: %w", symbol, err)
	}

	equity, err := s.provider.GetEquity(ctx)
	if err != nil {
		return nil, fmt.Errorf("equity: %w", err)
	}
	if !isFinite(equity) || equity < 0 {
		return nil, fmt.Errorf("equity %v is not usable", equity)
	}

	orders, err := s.provider.ListOpenTriggerOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("trigger orders %s: %w", symbol, err)
	}

	side := Side(pos.Side)
	tick := &PositionTick{
		Timestamp:            time.Now().UnixMilli(),
		Symbol:               symbol,
		Side:                 side,
		PositionSize:         pos.Size,
		EntryPrice:           pos.EntryPrice,
		MarkPrice:            mark.MarkPrice,
		UnrealizedPnl:        pos.UnrealizedPnl,
		PnlPctOfEquity:       pnlPctOfEquity(pos.UnrealizedPnl, equity),
		AccountEquity:        equity,
		MarginUsed:           pos.MarginUsed,
		LiquidationPrice:     pos.LiquidationPrice,
		DistToLiquidationPct: distToLiquidationPct(mark.MarkPrice, pos.LiquidationPrice),
		FundingRate:          mark.FundingRate,
	}
	tick.StopLossPrice, tick.StopLossOrderID = pickTriggerOrder(orders, "sl", side, mark.MarkPrice)
	tick.TakeProfitPrice, tick.TakeProfitOrderID = pickTriggerOrder(orders, "tp", side, mark.MarkPrice)
	return tick, nil
}

// pickTriggerOrder selects the effective stop or take-profit among open
// conditional orders: the protective-side order closest to mark, falling
// back to the closest order of that kind when none sits on the protective
// side (stale orders left from a flipped position still count as coverage).
func pickTriggerOrder(orders []adapters.TriggerOrder, kind string, side Side, mark float64) (*float64, *string) {
	var best *adapters.TriggerOrder
	bestDist := math.Inf(1)
	var fallback *adapters.TriggerOrder
	fallbackDist := math.Inf(1)

	for i := range orders {
		o := &orders[i]
		if o.Kind != kind || !isFinite(o.TriggerPx) || o.TriggerPx <= 0 {
			continue
		}
		d := math.Abs(o.TriggerPx - mark)
		if d < fallbackDist {
			fallback, fallbackDist = o, d
		}
		if !protectiveSide(kind, side, o.TriggerPx, mark) {
			continue
		}
		if d < bestDist {
			best, bestDist = o, d
		}
	}
	if best == nil {
		best = fallback
	}
	if best == nil {
		return nil, nil
	}
	px := best.TriggerPx
	id := best.OrderID
	return &px, &id
}

// protectiveSide reports whether a trigger price sits where the order can
// actually protect: stops below mark for longs and above for shorts,
// take-profits mirrored.
func protectiveSide(kind string, side Side, px, mark float64) bool {
	if kind == "sl" {
		if side == SideLong {
			return px < mark
		}
		return px > mark
	}
	if side == SideLong {
		return px > mark
	}
	return px < mark
}
