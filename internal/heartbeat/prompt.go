package heartbeat

import (
	"fmt"
	"strings"
	"time"
)

const systemPreamble = `You are a position risk manager for a perpetual-futures account.
You review open positions only when mechanical triggers mark the situation significant.
You may only reduce risk: tighten stops, adjust take-profits, take partial profit, or close.
You never open positions, increase size, or widen stops.
Respond with a single JSON object and nothing else.`

// buildUserMessage renders the structured advisory context. Block order is
// part of the prompt contract; the reply schema is the last block.
func buildUserMessage(in AdvisorInput) string {
	var b strings.Builder
	t := in.Tick

	b.WriteString("## Triggered conditions\n")
	for _, f := range in.Fired {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Detail)
	}

	b.WriteString("\n## Position\n")
	fmt.Fprintf(&b, "symbol: %s\nside: %s\nsize: %.8g\nentry: %.8g\nmark: %.8g\n",
		t.Symbol, t.Side, t.PositionSize, t.EntryPrice, t.MarkPrice)
	fmt.Fprintf(&b, "unrealized pnl: %+.2f (%+.2f%% of equity)\n", t.UnrealizedPnl, t.PnlPctOfEquity)
	writeLevel(&b, "stop", t.StopLossPrice, t.MarkPrice)
	writeLevel(&b, "take-profit", t.TakeProfitPrice, t.MarkPrice)
	if isFinite(t.DistToLiquidationPct) {
		fmt.Fprintf(&b, "liquidation: %.8g (%.2f%% away)\n", t.LiquidationPrice, t.DistToLiquidationPct)
	} else {
		b.WriteString("liquidation: not at risk\n")
	}
	fmt.Fprintf(&b, "funding rate: %+.6f\n", t.FundingRate)

	b.WriteString("\n## Recent trajectory (time, mark, pnl % of equity)\n")
	for _, tk := range in.Trajectory {
		fmt.Fprintf(&b, "%s  %.8g  %+.2f%%\n",
			time.UnixMilli(tk.Timestamp).UTC().Format("15:04:05"), tk.MarkPrice, tk.PnlPctOfEquity)
	}

	b.WriteString("\n## Account\n")
	fmt.Fprintf(&b, "equity: %.2f\nopen positions: %d\nentries today: %d of %d\nstreak: %s\nadvisor calls remaining this hour: %d\n",
		t.AccountEquity, in.OpenPositions, in.DayStats.EntriesToday, in.DayStats.EntryCap, in.DayStats.Streak, in.RateRemaining)

	b.WriteString("\n## Thesis\n")
	if in.Thesis == "" {
		b.WriteString("Not recorded\n")
	} else {
		b.WriteString(in.Thesis + "\n")
	}

	b.WriteString("\n## Risk rules\n")
	b.WriteString(in.RiskRules + "\n")

	b.WriteString("\n## Respond\n")
	b.WriteString(`One JSON object, schema:
{"action": "hold" | "tighten_stop" | "adjust_take_profit" | "partial_close" | "close",
 "params": {"newStopPrice": number} | {"newTpPrice": number} | {"fractionOfPosition": number in (0,1)},
 "reason": "one short sentence"}
Omit "params" for hold and close. Stops may only move toward the mark price, never away.`)

	return b.String()
}

func writeLevel(b *strings.Builder, name string, level *float64, mark float64) {
	if level == nil {
		fmt.Fprintf(b, "%s: none\n", name)
		return
	}
	if mark != 0 && isFinite(mark) {
		fmt.Fprintf(b, "%s: %.8g (%+.2f%% from mark)\n", name, *level, (*level-mark)/mark*100)
		return
	}
	fmt.Fprintf(b, "%s: %.8g\n", name, *level)
}

// riskRuleSummary is the static rule block given to the advisor, rendered
// from the live breaker thresholds.
func riskRuleSummary(breakers BreakerConfig) string {
	return fmt.Sprintf(
		"- stops tighten only: a long stop may only move up, a short stop only down\n"+
			"- a stop must stay on the protective side of the mark price\n"+
			"- partial_close fraction must be inside (0,1) and leave at least the exchange minimum\n"+
			"- positions are force-closed without review at %.4g%% from liquidation or %.4g%% equity loss",
		breakers.LiqPct, -breakers.LossPct)
}
