package heartbeat

import (
	"fmt"
	"math"
)

// Trigger names. Every firing is journaled and fed to the advisor under
// these names, so they are part of the journal's vocabulary.
const (
	TriggerPositionOpened       = "position_opened"
	TriggerPositionClosed       = "position_closed"
	TriggerStopMissing          = "stop_missing"
	TriggerPnlShift             = "pnl_shift"
	TriggerApproachingStop      = "approaching_stop"
	TriggerApproachingTp        = "approaching_tp"
	TriggerLiquidationProximity = "liquidation_proximity"
	TriggerFundingFlip          = "funding_flip"
	TriggerFundingSpike         = "funding_spike"
	TriggerVolatilitySpike      = "volatility_spike"
	TriggerTimeCeiling          = "time_ceiling"
)

// Named default cooldowns in seconds. position_opened, position_closed and
// time_ceiling run uncooled: the first two fire once per lifecycle edge and
// time_ceiling is rate-limited by the advisor committing
// lastAdvisorCheckTimestamp.
var defaultCooldownSecs = map[string]int{
	TriggerPositionOpened:       0,
	TriggerPositionClosed:       0,
	TriggerStopMissing:          60,
	TriggerPnlShift:             180,
	TriggerApproachingStop:      120,
	TriggerApproachingTp:        120,
	TriggerLiquidationProximity: 60,
	TriggerFundingFlip:          600,
	TriggerFundingSpike:         600,
	TriggerVolatilitySpike:      180,
	TriggerTimeCeiling:          0,
}

// TriggerConfig carries the significance thresholds. Zero values are not
// defaulted here; build it with DefaultTriggerConfig or map it from the
// loaded config.
type TriggerConfig struct {
	PnlShiftPct                float64
	ApproachingStopPct         float64
	ApproachingTpPct           float64
	LiquidationProximityPct    float64
	FundingSpike               float64
	VolatilitySpikePct         float64
	VolatilitySpikeWindowTicks int
	TimeCeilingMinutes         int
	GenericCooldownSeconds     int
}

func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		PnlShiftPct:                1.5,
		ApproachingStopPct:         1.0,
		ApproachingTpPct:           1.0,
		LiquidationProximityPct:    5.0,
		FundingSpike:               0.0001,
		VolatilitySpikePct:         2.0,
		VolatilitySpikeWindowTicks: 10,
		TimeCeilingMinutes:         15,
		GenericCooldownSeconds:     180,
	}
}

// cooldownMs resolves a trigger's cooldown: named default first, the generic
// setting only for triggers without one.
func (c TriggerConfig) cooldownMs(name string) int64 {
	if secs, ok := defaultCooldownSecs[name]; ok {
		return int64(secs) * 1000
	}
	return int64(c.GenericCooldownSeconds) * 1000
}

// TriggerState is the per-position memory carried between ticks. The
// lastAdvisor* fields move only when the advisor path completes; Cooldowns
// moves only when a trigger fires. Rebuilt from scratch when a position
// closes and reopens.
type TriggerState struct {
	LastAdvisorCheckMs  int64            `json:"last_advisor_check_ms"` // 0 means never
	LastAdvisorPnlPct   float64          `json:"last_advisor_pnl_pct"`
	LastAdvisorMark     float64          `json:"last_advisor_mark"`
	LastFundingRateSign int              `json:"last_funding_rate_sign"` // -1, 0, +1
	Cooldowns           map[string]int64 `json:"cooldowns"`              // trigger name -> ms of last firing
}

func NewTriggerState() TriggerState {
	return TriggerState{Cooldowns: map[string]int64{}}
}

func (s TriggerState) clone() TriggerState {
	out := s
	out.Cooldowns = make(map[string]int64, len(s.Cooldowns))
	for k, v := range s.Cooldowns {
		out.Cooldowns[k] = v
	}
	return out
}

// CommitAdvisor records that the advisor reviewed this tick. Called for
// every advisor outcome except skipped, so pnl_shift and funding_flip
// compare against the last advised state rather than the last tick.
func (s *TriggerState) CommitAdvisor(tick PositionTick) {
	s.LastAdvisorCheckMs = tick.Timestamp
	s.LastAdvisorPnlPct = tick.PnlPctOfEquity
	s.LastAdvisorMark = tick.MarkPrice
	s.LastFundingRateSign = sign(tick.FundingRate)
}

// FiredTrigger pairs a trigger name with a human-readable detail line that
// goes verbatim into the advisor prompt and the journal.
type FiredTrigger struct {
	Name   string `json:"name"`
	Detail string `json:"detail"`
}

// ExtraFlags are lifecycle edges the Watcher knows but the tick cannot show.
type ExtraFlags struct {
	PositionOpened bool
	PositionClosed bool
}

// EvaluateTriggers is pure: same inputs, same outputs, no I/O. The input
// state is read-only; the returned state has cooldowns advanced for exactly
// the triggers that fired. The buffer already contains the current tick;
// the volatility reference is the tick window steps back from it.
func EvaluateTriggers(nowMs int64, tick PositionTick, buf *RollingBuffer, state TriggerState, cfg TriggerConfig, extra ExtraFlags) ([]FiredTrigger, TriggerState) {
	next := state.clone()
	var fired []FiredTrigger

	fire := func(name, detail string) {
		cd := cfg.cooldownMs(name)
		if last, ok := next.Cooldowns[name]; ok && cd > 0 && nowMs-last < cd {
			return
		}
		next.Cooldowns[name] = nowMs
		fired = append(fired, FiredTrigger{Name: name, Detail: detail})
	}

	if extra.PositionOpened {
		fire(TriggerPositionOpened, fmt.Sprintf("new %s position observed at entry %.6g", tick.Side, tick.EntryPrice))
	}
	if extra.PositionClosed {
		fire(TriggerPositionClosed, "position no longer present on the exchange")
	}

	if tick.StopLossPrice == nil {
		fire(TriggerStopMissing, "no stop-loss order is protecting this position")
	}

	if isFinite(tick.PnlPctOfEquity) && isFinite(state.LastAdvisorPnlPct) {
		shift := math.Abs(tick.PnlPctOfEquity - state.LastAdvisorPnlPct)
		if shift >= cfg.PnlShiftPct {
			fire(TriggerPnlShift, fmt.Sprintf("pnl moved to %+.2f%% of equity (%+.2f%% since last review)",
				tick.PnlPctOfEquity, tick.PnlPctOfEquity-state.LastAdvisorPnlPct))
		}
	}

	if tick.StopLossPrice != nil {
		if d, ok := pctDistance(tick.MarkPrice, *tick.StopLossPrice); ok && d <= cfg.ApproachingStopPct {
			fire(TriggerApproachingStop, fmt.Sprintf("mark %.6g is %.2f%% from stop %.6g", tick.MarkPrice, d, *tick.StopLossPrice))
		}
	}
	if tick.TakeProfitPrice != nil {
		if d, ok := pctDistance(tick.MarkPrice, *tick.TakeProfitPrice); ok && d <= cfg.ApproachingTpPct {
			fire(TriggerApproachingTp, fmt.Sprintf("mark %.6g is %.2f%% from take-profit %.6g", tick.MarkPrice, d, *tick.TakeProfitPrice))
		}
	}

	if isFinite(tick.DistToLiquidationPct) && tick.DistToLiquidationPct <= cfg.LiquidationProximityPct {
		fire(TriggerLiquidationProximity, fmt.Sprintf("%.2f%% from liquidation price %.6g", tick.DistToLiquidationPct, tick.LiquidationPrice))
	}

	if s := sign(tick.FundingRate); s != 0 && state.LastFundingRateSign != 0 && s != state.LastFundingRateSign {
		fire(TriggerFundingFlip, fmt.Sprintf("funding rate sign flipped to %+.6f", tick.FundingRate))
	}
	if isFinite(tick.FundingRate) && math.Abs(tick.FundingRate) >= cfg.FundingSpike {
		fire(TriggerFundingSpike, fmt.Sprintf("funding rate %+.6f beyond %.6f", tick.FundingRate, cfg.FundingSpike))
	}

	if w := cfg.VolatilitySpikeWindowTicks; w > 0 {
		if ref, ok := buf.At(w); ok && isFinite(ref.MarkPrice) && ref.MarkPrice > 0 && isFinite(tick.MarkPrice) {
			chg := math.Abs(tick.MarkPrice-ref.MarkPrice) / ref.MarkPrice * 100
			if chg >= cfg.VolatilitySpikePct {
				fire(TriggerVolatilitySpike, fmt.Sprintf("mark moved %.2f%% over the last %d ticks", chg, w))
			}
		}
	}

	ceilingMs := int64(cfg.TimeCeilingMinutes) * 60 * 1000
	if state.LastAdvisorCheckMs == 0 || nowMs-state.LastAdvisorCheckMs >= ceilingMs {
		fire(TriggerTimeCeiling, fmt.Sprintf("no advisor review for %d minutes", cfg.TimeCeilingMinutes))
	}

	return fired, next
}

// pctDistance is |mark-level|/|mark|*100, false when inputs are unusable.
func pctDistance(mark, level float64) (float64, bool) {
	if !isFinite(mark) || !isFinite(level) || mark == 0 {
		return 0, false
	}
	return math.Abs(mark-level) / math.Abs(mark) * 100, true
}
