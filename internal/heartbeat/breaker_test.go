package heartbeat

import (
	"math"
	"testing"
)

func TestCheckCircuitBreakers(t *testing.T) {
	cfg := DefaultBreakerConfig()

	testCases := []struct {
		name       string
		distToLiq  float64
		pnlPct     float64
		wantTrip   bool
		wantReason string
	}{
		{"healthy position", 30.7, 1.0, false, ""},
		{"liquidation too close", 1.9, 1.0, true, "liquidation_proximity<2%"},
		{"liquidation exactly at limit holds", 2.0, 1.0, false, ""},
		{"loss beyond limit", 30.7, -5.3, true, "pnl_pct_of_equity<-5%"},
		{"loss exactly at limit holds", 30.7, -5.0, false, ""},
		{"liquidation outranks loss", 1.5, -9.0, true, "liquidation_proximity<2%"},
		{"no liquidation price", math.Inf(1), 1.0, false, ""},
		{"unusable pnl ignored", 30.7, math.NaN(), false, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tick := quietTick(t0Ms)
			tick.DistToLiquidationPct = tc.distToLiq
			tick.PnlPctOfEquity = tc.pnlPct

			reason, tripped := CheckCircuitBreakers(tick, cfg)
			if tripped != tc.wantTrip {
				t.Fatalf("tripped = %v, want %v", tripped, tc.wantTrip)
			}
			if reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", reason, tc.wantReason)
			}
		})
	}
}

func TestCheckCircuitBreakersCustomLimits(t *testing.T) {
	cfg := BreakerConfig{LiqPct: 10, LossPct: -2}

	tick := quietTick(t0Ms)
	tick.DistToLiquidationPct = 8
	if reason, tripped := CheckCircuitBreakers(tick, cfg); !tripped || reason != "liquidation_proximity<10%" {
		t.Fatalf("got %q %v, want a liquidation trip at 8%% under a 10%% limit", reason, tripped)
	}

	tick = quietTick(t0Ms)
	tick.PnlPctOfEquity = -2.5
	if reason, tripped := CheckCircuitBreakers(tick, cfg); !tripped || reason != "pnl_pct_of_equity<-2%" {
		t.Fatalf("got %q %v, want a loss trip at -2.5%% under a -2%% limit", reason, tripped)
	}
}
