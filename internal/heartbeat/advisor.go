package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/YoByron/Bijaz/internal/adapters"
	"github.com/YoByron/Bijaz/internal/journal"
	"github.com/YoByron/Bijaz/internal/observ"
)

// Recorder is the journal surface the heartbeat writes to. Implementations
// must serialize internally; Watchers call it concurrently.
type Recorder interface {
	Record(artifact journal.AdvisoryDecision) error
}

// Notifier pushes best-effort operator notifications. Failures are the
// notifier's problem; the heartbeat never blocks on it.
type Notifier interface {
	Notify(text string)
}

// NopNotifier is wired when notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

// AdvisorConfig bounds one advisor invocation.
type AdvisorConfig struct {
	Temperature     float64
	MaxTokens       int
	MaxCallsPerHour int
	LLMTimeout      time.Duration
	OrderTimeout    time.Duration
	RetryPause      time.Duration // wait before the single dispatch retry
}

func DefaultAdvisorConfig() AdvisorConfig {
	return AdvisorConfig{
		Temperature:     0.2,
		MaxTokens:       1024,
		MaxCallsPerHour: 20,
		LLMTimeout:      30 * time.Second,
		OrderTimeout:    15 * time.Second,
		RetryPause:      time.Second,
	}
}

// AdvisorInput is the structured context for one advisor invocation.
type AdvisorInput struct {
	Tick            PositionTick
	Trajectory      []PositionTick
	Fired           []FiredTrigger
	Thesis          string
	OpenPositions   int
	DayStats        adapters.DayStats
	RiskRules       string
	RateRemaining   int
	MinPositionSize float64
}

// ReviewResult is what one advisor pass produced. Outcome is one of the
// journal outcome constants; the caller commits TriggerState for every
// outcome except skipped.
type ReviewResult struct {
	Outcome string
	Action  *AdvisorAction
	Ack     *adapters.OrderAck
	Err     error
}

// Advisor runs the LLM path: prompt, parse, validate, dispatch, journal.
// Shared by all Watchers; every dependency is safe for concurrent use.
type Advisor struct {
	llm      adapters.LLMClient
	orders   adapters.OrderExecutor
	budget   *AdvisorBudget
	journal  Recorder
	notifier Notifier
	cfg      AdvisorConfig
	breakers BreakerConfig
}

func NewAdvisor(llm adapters.LLMClient, orders adapters.OrderExecutor, budget *AdvisorBudget, rec Recorder, notifier Notifier, cfg AdvisorConfig, breakers BreakerConfig) *Advisor {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 30 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 15 * time.Second
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = time.Second
	}
	return &Advisor{
		llm:      llm,
		orders:   orders,
		budget:   budget,
		journal:  rec,
		notifier: notifier,
		cfg:      cfg,
		breakers: breakers,
	}
}

// Review runs the advisor path for one tick. It journals every outcome and
// notifies on everything except skipped. The caller owns TriggerState and
// commits it when the returned outcome is not skipped; a skipped review must
// leave state untouched so a later tick can still reach the advisor.
func (a *Advisor) Review(ctx context.Context, in AdvisorInput) ReviewResult {
	rec := journal.AdvisoryDecision{
		Kind:      journal.KindHeartbeat,
		Symbol:    in.Tick.Symbol,
		Timestamp: in.Tick.Timestamp,
		Triggers:  triggerNames(in.Fired),
		Snapshot:  compactSnapshot(in.Tick),
	}

	if !a.budget.TryAcquire() {
		rec.Outcome = journal.OutcomeSkipped
		rec.Decision = &journal.Decision{Reason: "advisor budget exhausted"}
		a.record(rec)
		observ.IncCounter("advisor_calls_total", map[string]string{"outcome": journal.OutcomeSkipped})
		observ.Log("advisor_skipped", map[string]any{"symbol": in.Tick.Symbol, "triggers": rec.Triggers})
		return ReviewResult{Outcome: journal.OutcomeSkipped}
	}

	in.RateRemaining = a.budget.Remaining()
	in.RiskRules = riskRuleSummary(a.breakers)

	start := time.Now()
	reply, err := a.complete(ctx, in)
	observ.RecordDuration("advisor_latency", time.Since(start), nil)
	if err != nil {
		rec.Outcome = journal.OutcomeFailed
		rec.Decision = &journal.Decision{Reason: fmt.Sprintf("llm: %v", err)}
		a.record(rec)
		observ.IncCounter("advisor_calls_total", map[string]string{"outcome": journal.OutcomeFailed})
		observ.Log("advisor_failed", map[string]any{"symbol": in.Tick.Symbol, "error": err.Error()})
		a.notifier.Notify(fmt.Sprintf("⚠️ %s advisor failed: %v", in.Tick.Symbol, err))
		return ReviewResult{Outcome: journal.OutcomeFailed, Err: err}
	}

	act, err := ParseAdvisorReply(reply)
	if err != nil {
		rec.Outcome = journal.OutcomeFailed
		rec.Decision = &journal.Decision{Reason: fmt.Sprintf("parse: %v", err)}
		a.record(rec)
		observ.IncCounter("advisor_calls_total", map[string]string{"outcome": journal.OutcomeFailed})
		observ.Log("advisor_failed", map[string]any{"symbol": in.Tick.Symbol, "error": err.Error()})
		a.notifier.Notify(fmt.Sprintf("⚠️ %s advisor reply unparseable: %v", in.Tick.Symbol, err))
		return ReviewResult{Outcome: journal.OutcomeFailed, Err: err}
	}
	rec.Decision = &journal.Decision{Action: act.Action, Params: act.Params(), Reason: act.Reason}

	if err := ValidateAction(act, in.Tick, in.MinPositionSize); err != nil {
		rec.Outcome = journal.OutcomeRejected
		rec.Decision.Reason = fmt.Sprintf("%s (proposed: %s)", err.Error(), act.Reason)
		a.record(rec)
		observ.IncCounter("advisor_calls_total", map[string]string{"outcome": journal.OutcomeRejected})
		observ.Log("advisor_rejected", map[string]any{
			"symbol": in.Tick.Symbol, "action": act.Action, "params": act.Params(), "error": err.Error(),
		})
		a.notifier.Notify(fmt.Sprintf("🛑 %s advisor action rejected: %s - %v", in.Tick.Symbol, act.Action, err))
		return ReviewResult{Outcome: journal.OutcomeRejected, Action: act, Err: err}
	}

	ack, err := a.dispatch(ctx, act, in.Tick)
	if err != nil {
		rec.Outcome = journal.OutcomeFailed
		a.record(rec)
		observ.IncCounter("advisor_calls_total", map[string]string{"outcome": journal.OutcomeFailed})
		observ.Log("advisor_dispatch_failed", map[string]any{
			"symbol": in.Tick.Symbol, "action": act.Action, "error": err.Error(),
		})
		a.notifier.Notify(fmt.Sprintf("⚠️ %s order dispatch failed after retry: %s - %v", in.Tick.Symbol, act.Action, err))
		return ReviewResult{Outcome: journal.OutcomeFailed, Action: act, Err: err}
	}

	rec.Outcome = journal.OutcomeOK
	a.record(rec)
	observ.IncCounter("advisor_calls_total", map[string]string{"outcome": journal.OutcomeOK})
	observ.Log("advisor_ok", map[string]any{
		"symbol": in.Tick.Symbol, "action": act.Action, "params": act.Params(), "reason": act.Reason,
	})
	a.notifier.Notify(advisoryText(in.Tick, act))
	return ReviewResult{Outcome: journal.OutcomeOK, Action: act, Ack: ack}
}

func (a *Advisor) complete(ctx context.Context, in AdvisorInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()
	return a.llm.Complete(ctx, []adapters.Message{
		{Role: "system", Content: systemPreamble},
		{Role: "user", Content: buildUserMessage(in)},
	}, adapters.CompleteOpts{Temperature: a.cfg.Temperature, MaxTokens: a.cfg.MaxTokens})
}

// dispatch translates a validated action into order-executor calls. Closes
// and stop tightens are retried once after RetryPause when the executor
// classifies the failure as retriable; partial closes never retry (a second
// fill would double the reduction).
func (a *Advisor) dispatch(ctx context.Context, act *AdvisorAction, tick PositionTick) (*adapters.OrderAck, error) {
	switch act.Action {
	case ActionHold:
		return nil, nil
	case ActionTightenStop:
		return dispatchWithRetry(ctx, a.cfg, func(c context.Context) (*adapters.OrderAck, error) {
			return a.orders.TightenStop(c, tick.Symbol, *act.NewStopPrice)
		})
	case ActionAdjustTakeProfit:
		return callOrder(ctx, a.cfg.OrderTimeout, func(c context.Context) (*adapters.OrderAck, error) {
			return a.orders.AdjustTakeProfit(c, tick.Symbol, *act.NewTpPrice)
		})
	case ActionPartialClose:
		return callOrder(ctx, a.cfg.OrderTimeout, func(c context.Context) (*adapters.OrderAck, error) {
			return a.orders.PartialClose(c, tick.Symbol, *act.FractionOfPosition)
		})
	case ActionClose:
		return dispatchWithRetry(ctx, a.cfg, func(c context.Context) (*adapters.OrderAck, error) {
			return a.orders.ClosePosition(c, tick.Symbol, "advisor: "+act.Reason)
		})
	default:
		// ValidateAction already excluded everything else.
		return nil, fmt.Errorf("unreachable action %q", act.Action)
	}
}

func callOrder(ctx context.Context, timeout time.Duration, f func(context.Context) (*adapters.OrderAck, error)) (*adapters.OrderAck, error) {
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f(c)
}

// dispatchWithRetry is the retry-once path for idempotent orders. An order
// that returned an ack is final: the retry only runs when the first attempt
// produced no confirmation.
func dispatchWithRetry(ctx context.Context, cfg AdvisorConfig, f func(context.Context) (*adapters.OrderAck, error)) (*adapters.OrderAck, error) {
	ack, err := callOrder(ctx, cfg.OrderTimeout, f)
	if err == nil {
		return ack, nil
	}
	var oe *adapters.OrderError
	if errors.As(err, &oe) && !oe.Retriable {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(cfg.RetryPause):
	}
	ack, retryErr := callOrder(ctx, cfg.OrderTimeout, f)
	if retryErr != nil {
		return nil, fmt.Errorf("retry after %v: %w", err, retryErr)
	}
	return ack, nil
}

// ValidateAction enforces the risk-reduction envelope against the tick the
// advisor saw. Every violation is a reject: nothing is clamped or repaired.
func ValidateAction(act *AdvisorAction, tick PositionTick, minPositionSize float64) error {
	switch act.Action {
	case ActionHold, ActionClose:
		return nil

	case ActionTightenStop:
		if act.NewStopPrice == nil {
			return fmt.Errorf("tighten_stop requires newStopPrice")
		}
		p := *act.NewStopPrice
		if !isFinite(p) || p <= 0 {
			return fmt.Errorf("newStopPrice %v is not a positive finite price", p)
		}
		if tick.Side == SideLong {
			if tick.StopLossPrice != nil && p <= *tick.StopLossPrice {
				return fmt.Errorf("newStopPrice %.8g would loosen long stop %.8g", p, *tick.StopLossPrice)
			}
			if p >= tick.MarkPrice {
				return fmt.Errorf("newStopPrice %.8g is not below mark %.8g", p, tick.MarkPrice)
			}
			return nil
		}
		if tick.StopLossPrice != nil && p >= *tick.StopLossPrice {
			return fmt.Errorf("newStopPrice %.8g would loosen short stop %.8g", p, *tick.StopLossPrice)
		}
		if p <= tick.MarkPrice {
			return fmt.Errorf("newStopPrice %.8g is not above mark %.8g", p, tick.MarkPrice)
		}
		return nil

	case ActionAdjustTakeProfit:
		if act.NewTpPrice == nil {
			return fmt.Errorf("adjust_take_profit requires newTpPrice")
		}
		p := *act.NewTpPrice
		if !isFinite(p) || p <= 0 {
			return fmt.Errorf("newTpPrice %v is not a positive finite price", p)
		}
		if tick.Side == SideLong && p <= tick.MarkPrice {
			return fmt.Errorf("newTpPrice %.8g is not above mark %.8g for a long", p, tick.MarkPrice)
		}
		if tick.Side == SideShort && p >= tick.MarkPrice {
			return fmt.Errorf("newTpPrice %.8g is not below mark %.8g for a short", p, tick.MarkPrice)
		}
		return nil

	case ActionPartialClose:
		if act.FractionOfPosition == nil {
			return fmt.Errorf("partial_close requires fractionOfPosition")
		}
		f := *act.FractionOfPosition
		if !isFinite(f) || f <= 0 || f >= 1 {
			return fmt.Errorf("fractionOfPosition %v outside (0,1)", f)
		}
		remaining := tick.PositionSize * (1 - f)
		if minPositionSize > 0 && remaining < minPositionSize {
			return fmt.Errorf("remaining size %.8g below exchange minimum %.8g", remaining, minPositionSize)
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", act.Action)
	}
}

func (a *Advisor) record(rec journal.AdvisoryDecision) {
	if err := a.journal.Record(rec); err != nil {
		observ.Log("journal_fail", map[string]any{"symbol": rec.Symbol, "kind": rec.Kind, "error": err.Error()})
	}
}

func triggerNames(fired []FiredTrigger) []string {
	names := make([]string, len(fired))
	for i, f := range fired {
		names[i] = f.Name
	}
	return names
}

func compactSnapshot(t PositionTick) *journal.Snapshot {
	return &journal.Snapshot{
		Timestamp:            t.Timestamp,
		Symbol:               t.Symbol,
		Side:                 string(t.Side),
		Size:                 t.PositionSize,
		EntryPrice:           t.EntryPrice,
		MarkPrice:            t.MarkPrice,
		UnrealizedPnl:        t.UnrealizedPnl,
		PnlPctOfEquity:       t.PnlPctOfEquity,
		AccountEquity:        t.AccountEquity,
		LiquidationPrice:     t.LiquidationPrice,
		DistToLiquidationPct: sanitizeForJSON(t.DistToLiquidationPct),
		FundingRate:          t.FundingRate,
		StopLossPrice:        t.StopLossPrice,
		TakeProfitPrice:      t.TakeProfitPrice,
	}
}

// sanitizeForJSON: encoding/json refuses +Inf, which distToLiquidationPct
// uses for "no liquidation risk". Store a sentinel instead.
func sanitizeForJSON(f float64) float64 {
	if math.IsInf(f, 1) {
		return math.MaxFloat64
	}
	if !isFinite(f) {
		return 0
	}
	return f
}

func advisoryText(tick PositionTick, act *AdvisorAction) string {
	switch act.Action {
	case ActionHold:
		return fmt.Sprintf("📊 %s heartbeat: hold (pnl %+.2f%% eq) - %s", tick.Symbol, tick.PnlPctOfEquity, act.Reason)
	case ActionTightenStop:
		return fmt.Sprintf("🔒 %s stop tightened to %.8g - %s", tick.Symbol, *act.NewStopPrice, act.Reason)
	case ActionAdjustTakeProfit:
		return fmt.Sprintf("🎯 %s take-profit moved to %.8g - %s", tick.Symbol, *act.NewTpPrice, act.Reason)
	case ActionPartialClose:
		return fmt.Sprintf("✂️ %s partial close %.0f%% - %s", tick.Symbol, *act.FractionOfPosition*100, act.Reason)
	case ActionClose:
		return fmt.Sprintf("🚪 %s closed by advisor - %s", tick.Symbol, act.Reason)
	default:
		return fmt.Sprintf("%s advisor: %s", tick.Symbol, act.Action)
	}
}
