package heartbeat

import "fmt"

// BreakerConfig holds the hard-close rails. LossPct is negative: pnl as a
// percent of equity below it forces a close.
type BreakerConfig struct {
	LiqPct  float64
	LossPct float64
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{LiqPct: 2.0, LossPct: -5.0}
}

// CheckCircuitBreakers runs before trigger evaluation on every tick. A hit
// means an immediate full close with no advisor involvement; the reason
// string is dispatched with the close order and journaled.
func CheckCircuitBreakers(tick PositionTick, cfg BreakerConfig) (string, bool) {
	if isFinite(tick.DistToLiquidationPct) && tick.DistToLiquidationPct < cfg.LiqPct {
		return fmt.Sprintf("liquidation_proximity<%g%%", cfg.LiqPct), true
	}
	if isFinite(tick.PnlPctOfEquity) && tick.PnlPctOfEquity < cfg.LossPct {
		return fmt.Sprintf("pnl_pct_of_equity<%g%%", cfg.LossPct), true
	}
	return "", false
}
